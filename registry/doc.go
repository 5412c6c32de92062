// Package registry is the composition root: it owns factories, the
// live service instances, the dependency graph and the monitoring and
// recovery wiring.
//
// Factories are keyed by service type. Creating a service resolves its
// factory (falling back to a generic instance for unknown types),
// initializes it, and registers it for discovery; duplicate and
// concurrent creations of the same name collapse into the existing
// instance. Batch startup walks the dependency graph level by level
// with bounded concurrency so no service starts before its required
// dependencies are running, and shutdown walks the exact reverse
// order.
//
// The registry subscribes to the system event bus: error events and
// persistent unhealthy streaks hand the affected service to the
// recovery controller.
package registry
