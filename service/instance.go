package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/metric"
)

// Hooks carries the service-specific lifecycle and dispatch callbacks. Any
// hook may be nil; a nil hook is a successful no-op, which is what the
// generic fallback implementation relies on.
type Hooks struct {
	OnInitialize  func(ctx context.Context) error
	OnStart       func(ctx context.Context) error
	OnStop        func(ctx context.Context) error
	OnDestroy     func(ctx context.Context) error
	OnHealthCheck func(ctx context.Context) error
	OnExecute     func(ctx context.Context, operation string, params map[string]any) (any, error)
}

// Instance is the live, owned object wrapping a descriptor plus mutable
// runtime state. It implements the Service contract and enforces the
// lifecycle state machine on every call.
type Instance struct {
	name string // immutable after construction

	stateMu    sync.RWMutex
	descriptor Descriptor
	state      State
	startedAt  time.Time
	lastError  string
	lastCheck  time.Time

	// opMu serializes lifecycle operations so hooks never race each other.
	opMu sync.Mutex

	operationCount atomic.Uint64
	successCount   atomic.Uint64
	errorCount     atomic.Uint64
	latencies      *latencyRing

	hooks    Hooks
	bus      *event.Bus
	logger   *slog.Logger
	metrics  *metric.Registry
	resolver Resolver
}

// NewInstance creates an instance in the Uninitialized state. The
// descriptor is cloned and defaulted; validation happens in Initialize.
func NewInstance(desc Descriptor, hooks Hooks, deps Dependencies) *Instance {
	desc = desc.WithDefaults().Clone()
	logger := deps.GetLoggerWithService(desc.Name)

	return &Instance{
		name:       desc.Name,
		descriptor: desc,
		state:      StateUninitialized,
		latencies:  newLatencyRing(LatencyWindow),
		hooks:      hooks,
		bus:        event.NewBus(logger),
		logger:     logger,
		metrics:    deps.Metrics,
		resolver:   deps.Resolver,
	}
}

// Name returns the unique service name.
func (i *Instance) Name() string { return i.name }

// Type returns the service type discriminator.
func (i *Instance) Type() string {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.descriptor.Type
}

// Descriptor returns a copy of the current descriptor.
func (i *Instance) Descriptor() Descriptor {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.descriptor.Clone()
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state
}

// Events returns the instance's event bus.
func (i *Instance) Events() *event.Bus { return i.bus }

// Capabilities returns a sorted copy of the advertised capabilities.
func (i *Instance) Capabilities() []string {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	caps := slices.Clone(i.descriptor.Capabilities)
	slices.Sort(caps)
	return caps
}

// Initialize validates the descriptor, checks dependency satisfaction, and
// runs the initialization hook. Any failure moves the instance to Error and
// is returned wrapped in an InitializationError. A second call after the
// instance left Uninitialized is a logged no-op.
func (i *Instance) Initialize(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	if st := i.State(); st != StateUninitialized {
		i.logger.Debug("initialize skipped", "state", st.String())
		return nil
	}

	i.setState(StateInitializing, nil)

	if err := i.Descriptor().Validate(); err != nil {
		return i.fail(errors.NewInitialization(i.name, err))
	}
	if err := i.checkDependencies(false); err != nil {
		return i.fail(errors.NewInitialization(i.name, err))
	}
	if i.hooks.OnInitialize != nil {
		if err := i.hooks.OnInitialize(ctx); err != nil {
			return i.fail(errors.NewInitialization(i.name, err))
		}
	}

	i.setState(StateInitialized, nil)
	return nil
}

// Start rechecks dependencies and runs the startup hook. It is allowed from
// Initialized and Stopped, a no-op when already Running, and an
// OperationError from any other state. Failure moves the instance to Error.
func (i *Instance) Start(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	switch st := i.State(); st {
	case StateRunning:
		i.logger.Debug("start skipped, already running")
		return nil
	case StateInitialized, StateStopped:
	default:
		return errors.NewOperation(i.name, "start",
			fmt.Errorf("%w: cannot start from %s", errors.ErrInvalidTransition, st))
	}

	i.setState(StateStarting, nil)

	if err := i.checkDependencies(true); err != nil {
		return i.fail(errors.NewOperation(i.name, "start", err))
	}
	if i.hooks.OnStart != nil {
		if err := i.hooks.OnStart(ctx); err != nil {
			return i.fail(errors.NewOperation(i.name, "start", err))
		}
	}

	i.stateMu.Lock()
	i.startedAt = time.Now()
	i.stateMu.Unlock()

	i.setState(StateRunning, nil)
	return nil
}

// Stop runs the shutdown hook. Stop failures move the instance to Error but
// are not returned, so a stuck service never blocks batch shutdown of its
// siblings. Stopping an instance that is not running is a no-op.
func (i *Instance) Stop(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	i.stopLocked(ctx)
	return nil
}

// stopLocked performs the stop sequence. Caller must hold opMu.
func (i *Instance) stopLocked(ctx context.Context) {
	switch st := i.State(); st {
	case StateRunning, StateError:
	default:
		i.logger.Debug("stop skipped", "state", st.String())
		return
	}

	i.setState(StateStopping, nil)

	if i.hooks.OnStop != nil {
		if err := i.hooks.OnStop(ctx); err != nil {
			i.logger.Error("stop hook failed", "error", err)
			i.setState(StateError, errors.NewOperation(i.name, "stop", err))
			return
		}
	}

	i.setState(StateStopped, nil)
}

// Destroy stops the instance if needed, runs the destroy hook, clears
// counters and listeners, and moves to the terminal Destroyed state.
// Idempotent: repeated calls return nil.
func (i *Instance) Destroy(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	if i.State() == StateDestroyed {
		return nil
	}

	i.stopLocked(ctx)

	var hookErr error
	if i.hooks.OnDestroy != nil {
		if err := i.hooks.OnDestroy(ctx); err != nil {
			i.logger.Error("destroy hook failed", "error", err)
			hookErr = errors.NewOperation(i.name, "destroy", err)
		}
	}

	i.operationCount.Store(0)
	i.successCount.Store(0)
	i.errorCount.Store(0)
	i.latencies.Reset()

	i.stateMu.Lock()
	i.startedAt = time.Time{}
	i.stateMu.Unlock()

	i.setState(StateDestroyed, hookErr)
	i.bus.Close()

	return hookErr
}

// HealthCheck is a side-effect-free probe. It returns false without
// invoking the hook unless the instance is Running. A panicking probe is
// recovered and reported as unhealthy.
func (i *Instance) HealthCheck(ctx context.Context) bool {
	if i.State() != StateRunning {
		return false
	}

	healthy := true
	var probeErr error
	if i.hooks.OnHealthCheck != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					i.logger.Error("health probe panic", "panic", r)
					healthy = false
				}
			}()
			if err := i.hooks.OnHealthCheck(ctx); err != nil {
				i.logger.Warn("health probe failed", "error", err)
				probeErr = err
				healthy = false
			}
		}()
	}

	i.stateMu.Lock()
	i.lastCheck = time.Now()
	i.stateMu.Unlock()

	if i.metrics != nil {
		i.metrics.CoreMetrics().RecordHealthCheck(i.name, healthy)
	}
	ev := event.Event{
		Kind:    event.KindHealthCheck,
		Service: i.name,
		Fields:  map[string]any{"healthy": healthy},
	}
	if probeErr != nil {
		ev.Err = probeErr.Error()
	}
	i.bus.Emit(ev)

	return healthy
}

// Execute dispatches a type-specific operation, recording latency and
// success/error counters. Only permitted while Running.
func (i *Instance) Execute(ctx context.Context, operation string, params map[string]any) (any, error) {
	if i.State() != StateRunning {
		return nil, errors.NewOperation(i.name, operation, errors.ErrNotRunning)
	}

	start := time.Now()
	var result any
	var err error
	if i.hooks.OnExecute != nil {
		result, err = i.hooks.OnExecute(ctx, operation, params)
	}
	elapsed := time.Since(start)

	i.operationCount.Add(1)
	if err != nil {
		i.errorCount.Add(1)
		i.recordError(err)
	} else {
		i.successCount.Add(1)
	}
	i.latencies.Add(elapsed)

	if i.metrics != nil {
		i.metrics.CoreMetrics().RecordOperation(i.name, elapsed, err)
	}
	i.bus.Emit(event.Event{
		Kind:    event.KindOperation,
		Service: i.name,
		Fields: map[string]any{
			"operation":   operation,
			"duration_ms": elapsed.Milliseconds(),
			"success":     err == nil,
		},
	})

	if err != nil {
		return nil, errors.NewOperation(i.name, operation, err)
	}
	return result, nil
}

// UpdateConfig replaces the descriptor wholesale after validation. The
// service name is immutable; the replacement must keep it.
func (i *Instance) UpdateConfig(d Descriptor) error {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return err
	}

	i.stateMu.Lock()
	defer i.stateMu.Unlock()

	if d.Name != i.name {
		return errors.NewConfiguration("name",
			fmt.Errorf("cannot rename service %q to %q", i.name, d.Name))
	}

	i.descriptor = d.Clone()
	return nil
}

// ValidateConfig reports whether the descriptor would pass validation.
func (i *Instance) ValidateConfig(d Descriptor) bool {
	return d.Validate() == nil
}

// AddDependency declares a dependency, replacing any existing reference to
// the same service. The descriptor is replaced by copy, never mutated.
func (i *Instance) AddDependency(ref DependencyRef) error {
	if ref.Service == "" {
		return errors.NewConfiguration("dependencies",
			errors.New("dependency service name is required"))
	}
	if ref.Service == i.name {
		return errors.NewConfiguration("dependencies",
			fmt.Errorf("service %q cannot depend on itself", i.name))
	}

	i.stateMu.Lock()
	defer i.stateMu.Unlock()

	next := i.descriptor.Clone()
	replaced := false
	for idx, dep := range next.Dependencies {
		if dep.Service == ref.Service {
			next.Dependencies[idx] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		next.Dependencies = append(next.Dependencies, ref)
	}
	i.descriptor = next
	return nil
}

// RemoveDependency removes the named dependency if present.
func (i *Instance) RemoveDependency(name string) error {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()

	next := i.descriptor.Clone()
	next.Dependencies = slices.DeleteFunc(next.Dependencies, func(ref DependencyRef) bool {
		return ref.Service == name
	})
	i.descriptor = next
	return nil
}

// CheckDependencies verifies that every required dependency is registered.
// Optional dependencies only produce warnings.
func (i *Instance) CheckDependencies() error {
	return i.checkDependencies(false)
}

// Snapshot returns a point-in-time view of the instance's runtime state.
func (i *Instance) Snapshot() Snapshot {
	i.stateMu.RLock()
	st := i.state
	startedAt := i.startedAt
	lastError := i.lastError
	lastCheck := i.lastCheck
	typ := i.descriptor.Type
	caps := slices.Clone(i.descriptor.Capabilities)
	i.stateMu.RUnlock()

	ops := i.operationCount.Load()
	errs := i.errorCount.Load()

	var rate float64
	if ops > 0 {
		rate = float64(errs) / float64(ops)
	}

	var uptime time.Duration
	if st == StateRunning && !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}

	return Snapshot{
		Name:           i.name,
		Type:           typ,
		State:          st,
		StartedAt:      startedAt,
		Uptime:         uptime,
		OperationCount: ops,
		SuccessCount:   i.successCount.Load(),
		ErrorCount:     errs,
		ErrorRate:      rate,
		LastError:      lastError,
		LastCheck:      lastCheck,
		Capabilities:   caps,
	}
}

// Metrics returns the counters plus a copy of the recent latency samples.
func (i *Instance) Metrics() MetricsSnapshot {
	i.stateMu.RLock()
	startedAt := i.startedAt
	i.stateMu.RUnlock()

	return MetricsSnapshot{
		OperationCount: i.operationCount.Load(),
		SuccessCount:   i.successCount.Load(),
		ErrorCount:     i.errorCount.Load(),
		StartedAt:      startedAt,
		Latencies:      i.latencies.Samples(),
	}
}

// fail transitions to Error and returns the wrapped cause.
func (i *Instance) fail(err error) error {
	i.setState(StateError, err)
	return err
}

// setState performs a legality-checked transition, records it, and emits
// the matching lifecycle event. Illegal transitions are rejected with a
// warning rather than corrupting state.
func (i *Instance) setState(to State, cause error) {
	i.stateMu.Lock()
	from := i.state
	if !from.CanTransition(to) {
		i.stateMu.Unlock()
		i.logger.Warn("illegal state transition rejected",
			"from", from.String(), "to", to.String())
		return
	}
	i.state = to
	if cause != nil {
		i.lastError = cause.Error()
	}
	i.stateMu.Unlock()

	i.logger.Debug("state transition", "from", from.String(), "to", to.String())

	if i.metrics != nil {
		i.metrics.CoreMetrics().RecordServiceState(i.name, int(to))
	}

	ev := event.Event{Kind: stateEventKind(to), Service: i.name}
	if cause != nil {
		ev.Err = cause.Error()
	}
	i.bus.Emit(ev)
}

// recordError notes the most recent error for status reporting.
func (i *Instance) recordError(err error) {
	i.stateMu.Lock()
	i.lastError = err.Error()
	i.stateMu.Unlock()
}

// checkDependencies verifies dependency satisfaction. During Initialize a
// dependency merely has to be resolvable; at Start, required dependencies
// must also be Running.
func (i *Instance) checkDependencies(requireRunning bool) error {
	desc := i.Descriptor()
	if len(desc.Dependencies) == 0 {
		return nil
	}

	var missing []string
	for _, dep := range desc.Dependencies {
		available := false
		if i.resolver != nil {
			if peer, ok := i.resolver.Lookup(dep.Service); ok {
				available = !requireRunning || peer.State() == StateRunning
			}
		}
		if available {
			continue
		}
		if dep.Required {
			missing = append(missing, dep.Service)
		} else {
			i.logger.Warn("optional dependency unavailable", "dependency", dep.Service)
		}
	}

	if len(missing) > 0 {
		return errors.NewDependency(i.name, missing, errors.ErrDependencyUnavailable)
	}
	return nil
}

// stateEventKind maps a lifecycle state to the event kind announcing it.
func stateEventKind(s State) event.Kind {
	switch s {
	case StateInitializing:
		return event.KindInitializing
	case StateInitialized:
		return event.KindInitialized
	case StateStarting:
		return event.KindStarting
	case StateRunning:
		return event.KindStarted
	case StateStopping:
		return event.KindStopping
	case StateStopped:
		return event.KindStopped
	case StateDestroyed:
		return event.KindDestroyed
	default:
		return event.KindError
	}
}
