// Package health classifies service health and runs the periodic
// monitoring loops.
//
// Classification is derived from lifecycle state and the observed error
// rate: a running service with a low error rate is healthy, elevated
// error rates demote it to degraded and then unhealthy, and a probe that
// panics yields unknown. The Monitor polls every registered target on a
// fixed interval, enforces a per-check timeout so one slow probe cannot
// stall the sweep, aggregates the results into a system-level view, and
// publishes health and performance alerts on the event bus. A second,
// independent loop collects latency and throughput metrics and prunes
// the bounded history window.
//
// The package depends on service for snapshot types but service never
// imports health, which keeps the dependency direction one-way.
package health
