// Package event provides a typed publish/subscribe bus for lifecycle,
// health, and recovery events. It replaces ad-hoc listener lists with
// explicit per-kind registration.
//
// Each handler runs in its own goroutine and panics are recovered, so a
// slow or faulty listener can never block other listeners or the emitter.
// Subscribe returns an unsubscribe function; Close waits for in-flight
// deliveries to drain.
package event
