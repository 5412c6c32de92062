package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrNotRunning        = errors.New("service not running")
	ErrDestroyed         = errors.New("service destroyed")

	// Configuration errors
	ErrMissingName     = errors.New("service name is required")
	ErrMissingType     = errors.New("service type is required")
	ErrTimeoutTooShort = errors.New("timeout below minimum of 1s")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// Dependency errors
	ErrDependencyUnavailable = errors.New("required dependency unavailable")
	ErrDependencyCycle       = errors.New("dependency cycle detected")

	// Registry errors
	ErrUnknownFactory    = errors.New("no factory registered for type")
	ErrDuplicateFactory  = errors.New("factory already registered")
	ErrServiceNotFound   = errors.New("service not found")
	ErrRegistryShutdown  = errors.New("registry is shut down")
	ErrRecoveryExhausted = errors.New("recovery retries exhausted")
)

// ConfigurationError indicates an invalid or missing descriptor field.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration invalid: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration invalid: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfiguration wraps err as a ConfigurationError for the given field.
func NewConfiguration(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Field: field, Err: err}
}

// InitializationError wraps any failure that occurred during Initialize.
// The original cause is preserved and reachable through Unwrap.
type InitializationError struct {
	Service string
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Service, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// NewInitialization wraps err as an InitializationError for the service.
func NewInitialization(service string, err error) error {
	if err == nil {
		return nil
	}
	return &InitializationError{Service: service, Err: err}
}

// DependencyError indicates an unsatisfied required dependency or a cycle
// in the dependency graph. Dependencies lists the service names involved.
type DependencyError struct {
	Service      string
	Dependencies []string
	Err          error
}

func (e *DependencyError) Error() string {
	if len(e.Dependencies) > 0 {
		return fmt.Sprintf("dependency error for %s [%s]: %v",
			e.Service, strings.Join(e.Dependencies, ", "), e.Err)
	}
	return fmt.Sprintf("dependency error for %s: %v", e.Service, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// NewDependency wraps err as a DependencyError naming the services involved.
func NewDependency(service string, deps []string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Service: service, Dependencies: deps, Err: err}
}

// OperationError indicates a lifecycle or dispatch operation failed.
// Operation carries the operation name (start, stop, destroy, execute,
// recovery) so callers and logs can distinguish the failing phase.
type OperationError struct {
	Service   string
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Service, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// NewOperation wraps err as an OperationError for the named operation.
func NewOperation(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Service: service, Operation: operation, Err: err}
}

// TimeoutError indicates an operation exceeded its allotted time. The
// operation itself may still be running in the background; the caller has
// merely given up waiting.
type TimeoutError struct {
	Service   string
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Operation, e.Service, e.Timeout)
}

// NewTimeout creates a TimeoutError for the named operation.
func NewTimeout(service, operation string, timeout time.Duration) error {
	return &TimeoutError{Service: service, Operation: operation, Timeout: timeout}
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsInitialization reports whether err is or wraps an InitializationError.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

// IsDependency reports whether err is or wraps a DependencyError.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}

// IsOperation reports whether err is or wraps an OperationError.
func IsOperation(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe)
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Retryable reports whether the error is worth retrying. Configuration and
// dependency errors are deterministic and excluded; timeouts and operation
// failures may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsConfiguration(err) || IsDependency(err) {
		return false
	}
	return true
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }

// Join wraps the given errors into one, discarding nils.
func Join(errs ...error) error { return errors.Join(errs...) }
