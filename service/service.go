package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/metric"
)

// Service is the capability contract every managed service satisfies. The
// orchestration core consumes this interface; concrete business logic lives
// entirely behind the Execute dispatch and the lifecycle hooks.
type Service interface {
	Name() string
	Type() string
	Descriptor() Descriptor
	State() State

	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error

	HealthCheck(ctx context.Context) bool
	Snapshot() Snapshot
	Metrics() MetricsSnapshot

	Execute(ctx context.Context, operation string, params map[string]any) (any, error)

	UpdateConfig(d Descriptor) error
	ValidateConfig(d Descriptor) bool
	Capabilities() []string

	AddDependency(ref DependencyRef) error
	RemoveDependency(name string) error
	CheckDependencies() error

	Events() *event.Bus
}

// Snapshot is a point-in-time view of an instance's runtime state, used by
// the health monitor to classify service health.
type Snapshot struct {
	Name           string        `json:"name"`
	Type           string        `json:"type"`
	State          State         `json:"state"`
	StartedAt      time.Time     `json:"started_at,omitzero"`
	Uptime         time.Duration `json:"uptime"`
	OperationCount uint64        `json:"operation_count"`
	SuccessCount   uint64        `json:"success_count"`
	ErrorCount     uint64        `json:"error_count"`
	ErrorRate      float64       `json:"error_rate"`
	LastError      string        `json:"last_error,omitempty"`
	LastCheck      time.Time     `json:"last_check,omitzero"`
	Capabilities   []string      `json:"capabilities,omitempty"`
}

// MetricsSnapshot carries the raw material for latency and throughput
// aggregation: counters plus a copy of the recent latency samples.
type MetricsSnapshot struct {
	OperationCount uint64
	SuccessCount   uint64
	ErrorCount     uint64
	StartedAt      time.Time
	Latencies      []time.Duration
}

// StateReporter exposes the lifecycle state of a service, which is all the
// dependency checks need to know about a peer.
type StateReporter interface {
	State() State
}

// Resolver looks up peer services by name. The registry that owns the
// instances implements it.
type Resolver interface {
	Lookup(name string) (StateReporter, bool)
}

// Dependencies provides the external collaborators an instance needs.
// Every field may be nil; accessors fall back to safe defaults.
type Dependencies struct {
	Logger   *slog.Logger
	Metrics  *metric.Registry
	Resolver Resolver
}

// GetLogger returns the configured logger or the process default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithService returns a logger carrying service context.
func (d *Dependencies) GetLoggerWithService(name string) *slog.Logger {
	return d.GetLogger().With("service", name)
}
