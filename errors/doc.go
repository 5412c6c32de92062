// Package errors provides standardized error handling for the servicekit
// orchestration engine. It defines the error taxonomy used across the
// lifecycle, registry, health, and recovery subsystems, together with
// classification and wrapping helpers for consistent error context.
//
// # Error Taxonomy
//
// Five typed errors cover every failure the engine surfaces:
//
//   - ConfigurationError: invalid or missing descriptor fields
//   - InitializationError: any failure during service initialization
//   - DependencyError: unsatisfied required dependency or dependency cycle
//   - OperationError: start/stop/destroy/execute/recovery failure
//   - TimeoutError: an operation exceeded its allotted time
//
// All typed errors support errors.Is/errors.As unwrapping, so callers can
// match either the concrete type or the sentinel the error wraps.
//
// # Classification
//
// Retryable reports whether a failure is worth retrying. Timeouts and
// operation failures are retryable; configuration and dependency errors are
// not, since repeating the call cannot change the outcome.
package errors
