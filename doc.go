// Package servicekit is a service lifecycle and orchestration engine.
//
// # Architecture
//
// Services are long-lived runtime components moving through an explicit
// lifecycle: Uninitialized, Initializing, Initialized, Starting,
// Running, Stopping, Stopped, Destroyed, with Error reachable from the
// transitional states. Every piece of the engine hangs off that state
// machine:
//
//   - service: the Service interface, descriptors, and the Instance
//     implementation driving the state machine with user hooks
//   - registry: the composition root owning factories, instances, the
//     dependency graph and orchestrated batch start/stop
//   - depgraph: topological ordering and cycle detection over declared
//     dependencies
//   - health: periodic probing, latency percentiles and system-level
//     classification
//   - recovery: bounded, backed-off restart of failed services
//   - event: the in-process bus carrying lifecycle and alert events
//   - natsbridge: republishes bus events to NATS for external consumers
//   - metric: Prometheus collectors for states, operations and
//     recoveries
//   - config: YAML runtime config and the declarative service manifest
//
// # Typical use
//
// Embed the registry in a host process: register a factory per service
// type, feed it descriptors (usually from a manifest), then
// StartAllServices walks the dependency graph so nothing starts before
// what it needs. The cmd/servicekit binary wires all of this together
// behind flags, an HTTP health endpoint and signal-driven shutdown.
package servicekit
