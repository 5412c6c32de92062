// Package service defines the managed service unit for the servicekit
// orchestration engine: the immutable Descriptor, the lifecycle state
// machine, and the Instance type that drives a service through it.
//
// # Lifecycle
//
// Every service instance obeys a single state machine:
//
//	Uninitialized → Initializing → Initialized → Starting → Running
//	Running → Stopping → Stopped → Destroyed
//	Stopped → Starting (restart edge)
//	Error reachable from Initializing, Starting, and Stopping
//
// Destroyed is terminal. Transitions outside these edges are rejected; the
// lifecycle methods either no-op safely or return an OperationError, so no
// call ever leaves an instance in an undefined state.
//
// # Ownership
//
// An Instance is owned exclusively by the registry that created it. Other
// components observe it through Snapshot, Metrics, and the event bus; only
// the instance itself mutates its counters during operation execution.
package service
