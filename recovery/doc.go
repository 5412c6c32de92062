// Package recovery restarts failed services with bounded, backed-off
// retries.
//
// The Controller listens for failures (the registry wires it to error
// events and persistent health alerts) and drives stop-then-start
// attempts against a Restarter; an attempt only counts as a recovery
// when the restarted service passes its health check. Attempts are
// deduplicated per service
// so overlapping triggers cannot stack restarts, and each episode emits
// a recovered or recovery-failed event when it concludes.
package recovery
