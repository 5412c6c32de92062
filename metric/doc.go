// Package metric provides Prometheus metrics registration and the core
// orchestration metrics for servicekit.
//
// The Registry owns a dedicated prometheus.Registry preloaded with Go
// runtime and process collectors plus the core service metrics (lifecycle
// state, health checks, operation counts and latencies, recovery attempts).
// Services register their own domain metrics through the Registrar
// interface; duplicate registrations are rejected with classified errors.
package metric
