package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/servicekit/depgraph"
	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/health"
	"github.com/c360/servicekit/recovery"
	"github.com/c360/servicekit/service"
)

// Factory builds a service instance from its descriptor. Factories must
// not block; slow work belongs in Initialize and Start.
type Factory func(desc service.Descriptor, deps service.Dependencies) (service.Service, error)

// Config controls batch orchestration and the embedded monitoring and
// recovery components.
type Config struct {
	// StartSettleDelay is the pause between dependency levels during
	// batch startup, giving each level a moment to settle before its
	// dependents start.
	StartSettleDelay time.Duration

	// MaxConcurrentStarts bounds concurrency within one dependency
	// level during batch create, start and stop.
	MaxConcurrentStarts int

	// UnhealthyAlertLimit is the number of consecutive health sweeps a
	// service may be flagged unhealthy before recovery is triggered.
	UnhealthyAlertLimit int

	Health   health.Config
	Recovery recovery.Config
}

// DefaultConfig returns the standard orchestration settings.
func DefaultConfig() Config {
	return Config{
		StartSettleDelay:    50 * time.Millisecond,
		MaxConcurrentStarts: 4,
		UnhealthyAlertLimit: 3,
		Health:              health.DefaultConfig(),
		Recovery:            recovery.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StartSettleDelay < 0 {
		c.StartSettleDelay = def.StartSettleDelay
	}
	if c.MaxConcurrentStarts <= 0 {
		c.MaxConcurrentStarts = def.MaxConcurrentStarts
	}
	if c.UnhealthyAlertLimit <= 0 {
		c.UnhealthyAlertLimit = def.UnhealthyAlertLimit
	}
	return c
}

// Registry owns the service instances and their factories, and wires
// health monitoring and recovery around them.
type Registry struct {
	cfg    Config
	deps   service.Dependencies
	bus    *event.Bus
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	services  map[string]service.Service
	forwards  map[string]func()
	creating  map[string]chan struct{}
	graph     *depgraph.Graph

	monitor   *health.Monitor
	recoverer *recovery.Controller
	unsubs    []func()

	shutdown atomic.Bool
}

// NewRegistry builds the composition root. The registry installs
// itself as the dependency resolver handed to factories, runs a health
// monitor over its instances, and triggers recovery from error events
// and persistent unhealthy streaks on the bus.
func NewRegistry(cfg Config, bus *event.Bus, deps service.Dependencies) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:       cfg,
		bus:       bus,
		logger:    deps.GetLogger().With("component", "registry"),
		factories: make(map[string]Factory),
		services:  make(map[string]service.Service),
		forwards:  make(map[string]func()),
		creating:  make(map[string]chan struct{}),
	}
	deps.Resolver = r
	r.deps = deps

	r.monitor = health.NewMonitor(cfg.Health, r, bus, deps)
	r.recoverer = recovery.NewController(cfg.Recovery, r, bus, deps)

	if bus != nil {
		r.unsubs = append(r.unsubs,
			bus.Subscribe(event.KindError, r.onErrorEvent),
			bus.Subscribe(event.KindHealthAlert, r.onHealthAlert),
		)
	}
	return r
}

// RegisterFactory binds a service type to its factory. Registering the
// same type twice is an error.
func (r *Registry) RegisterFactory(serviceType string, factory Factory) error {
	if serviceType == "" {
		return errors.NewConfiguration("type", errors.ErrMissingType)
	}
	if factory == nil {
		return errors.NewConfiguration("factory", errors.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[serviceType]; exists {
		return errors.Wrap(errors.ErrDuplicateFactory, "Registry", "RegisterFactory", serviceType)
	}
	r.factories[serviceType] = factory
	return nil
}

// FactoryTypes lists the registered factory types in sorted order.
func (r *Registry) FactoryTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create builds, initializes and registers a service from its
// descriptor. Creating a name that already exists returns the existing
// instance; concurrent creations of the same name collapse into one. A
// descriptor whose dependencies would close a cycle is rejected.
func (r *Registry) Create(ctx context.Context, desc service.Descriptor) (service.Service, error) {
	if r.shutdown.Load() {
		return nil, errors.Wrap(errors.ErrRegistryShutdown, "Registry", "Create", desc.Name)
	}
	desc = desc.WithDefaults()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if existing, ok := r.services[desc.Name]; ok {
			r.mu.Unlock()
			r.logger.Warn("service already exists, returning existing instance",
				"service", desc.Name)
			return existing, nil
		}
		inflight, busy := r.creating[desc.Name]
		if !busy {
			done := make(chan struct{})
			r.creating[desc.Name] = done
			r.mu.Unlock()
			return r.create(ctx, desc, done)
		}
		r.mu.Unlock()

		select {
		case <-inflight:
			// The winning creation finished; loop to pick up its result.
		case <-ctx.Done():
			return nil, errors.NewOperation(desc.Name, "create", ctx.Err())
		}
	}
}

func (r *Registry) create(ctx context.Context, desc service.Descriptor, done chan struct{}) (service.Service, error) {
	defer func() {
		r.mu.Lock()
		delete(r.creating, desc.Name)
		r.mu.Unlock()
		close(done)
	}()

	r.mu.RLock()
	factory, known := r.factories[desc.Type]
	r.mu.RUnlock()

	var svc service.Service
	if known {
		built, err := factory(desc, r.deps)
		if err != nil {
			return nil, errors.Wrap(err, "Registry", "Create", "factory execution")
		}
		svc = built
	} else {
		r.logger.Warn("no factory for type, using generic service",
			"service", desc.Name, "type", desc.Type)
		svc = service.NewGeneric(desc, r.deps)
	}

	if err := svc.Initialize(ctx); err != nil {
		_ = svc.Destroy(context.WithoutCancel(ctx))
		return nil, err
	}

	r.mu.Lock()
	r.services[desc.Name] = svc
	if err := r.rebuildGraphLocked(); err != nil {
		delete(r.services, desc.Name)
		_ = r.rebuildGraphLocked()
		r.mu.Unlock()
		_ = svc.Destroy(context.WithoutCancel(ctx))
		return nil, err
	}
	if r.bus != nil {
		r.forwards[desc.Name] = svc.Events().SubscribeAll(r.bus.Emit)
	}
	r.mu.Unlock()

	r.logger.Info("service created",
		"service", desc.Name, "type", desc.Type, "priority", desc.Priority.String())
	if r.bus != nil {
		r.bus.Emit(event.Event{
			Kind:    event.KindServiceCreated,
			Service: desc.Name,
			Fields:  map[string]any{"type": desc.Type},
		})
	}
	return svc, nil
}

// CreateMultiple creates a batch of services in dependency order:
// services with no dependencies inside the batch are created first,
// then their dependents, level by level with bounded concurrency.
// Priority groups inside a level are created as sequential
// sub-batches. A cycle inside the batch fails every descriptor with
// the same dependency error. The result
// maps every descriptor name to its creation error, nil on success.
func (r *Registry) CreateMultiple(ctx context.Context, descs []service.Descriptor) map[string]error {
	results := make(map[string]error, len(descs))

	byName := make(map[string]service.Descriptor, len(descs))
	depsMap := make(map[string][]string, len(descs))
	for _, desc := range descs {
		byName[desc.Name] = desc
		depsMap[desc.Name] = desc.DependencyNames()
	}
	graph, err := depgraph.Build(depsMap)
	if err != nil {
		for _, desc := range descs {
			results[desc.Name] = err
		}
		return results
	}

	var resultsMu sync.Mutex
	for _, level := range graph.Levels() {
		byPrio := make(map[service.Priority][]service.Descriptor)
		for _, name := range level {
			desc := byName[name]
			byPrio[desc.Priority] = append(byPrio[desc.Priority], desc)
		}
		prios := make([]service.Priority, 0, len(byPrio))
		for prio := range byPrio {
			prios = append(prios, prio)
		}
		sort.Slice(prios, func(i, j int) bool { return prios[i] < prios[j] })

		// Priority groups create one after another, same barrier as
		// batch start.
		for _, prio := range prios {
			group := byPrio[prio]
			sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })

			sem := make(chan struct{}, r.cfg.MaxConcurrentStarts)
			var wg sync.WaitGroup
			for _, desc := range group {
				wg.Add(1)
				sem <- struct{}{}
				go func(desc service.Descriptor) {
					defer wg.Done()
					defer func() { <-sem }()
					_, err := r.Create(ctx, desc)
					resultsMu.Lock()
					results[desc.Name] = err
					resultsMu.Unlock()
				}(desc)
			}
			wg.Wait()
		}
	}
	return results
}

// FindService returns the named service.
func (r *Registry) FindService(name string) (service.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	if !ok {
		return nil, errors.Wrap(errors.ErrServiceNotFound, "Registry", "FindService", name)
	}
	return svc, nil
}

// List returns a copy of the live service map.
func (r *Registry) List() map[string]service.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]service.Service, len(r.services))
	for name, svc := range r.services {
		out[name] = svc
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Lookup implements service.Resolver so instances can check the state
// of their peers.
func (r *Registry) Lookup(name string) (service.StateReporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Targets implements health.Lister.
func (r *Registry) Targets() map[string]health.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]health.Target, len(r.services))
	for name, svc := range r.services {
		out[name] = svc
	}
	return out
}

// Monitor exposes the embedded health monitor.
func (r *Registry) Monitor() *health.Monitor { return r.monitor }

// RemoveService stops, destroys and unregisters a service.
func (r *Registry) RemoveService(ctx context.Context, name string) error {
	r.mu.Lock()
	svc, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(errors.ErrServiceNotFound, "Registry", "RemoveService", name)
	}
	delete(r.services, name)
	unsub := r.forwards[name]
	delete(r.forwards, name)
	_ = r.rebuildGraphLocked()
	r.mu.Unlock()

	if svc.State() == service.StateRunning {
		if err := svc.Stop(ctx); err != nil {
			r.logger.Warn("stop before removal failed", "service", name, "error", err)
		}
	}
	err := svc.Destroy(ctx)
	if unsub != nil {
		unsub()
	}

	r.logger.Info("service removed", "service", name)
	if r.bus != nil {
		r.bus.Emit(event.Event{Kind: event.KindServiceRemoved, Service: name})
	}
	return err
}

// rebuildGraphLocked recomputes the dependency graph from the current
// descriptors. Callers hold r.mu.
func (r *Registry) rebuildGraphLocked() error {
	deps := make(map[string][]string, len(r.services))
	for name, svc := range r.services {
		deps[name] = svc.Descriptor().DependencyNames()
	}
	graph, err := depgraph.Build(deps)
	if err != nil {
		return err
	}
	r.graph = graph
	return nil
}

func (r *Registry) snapshotGraph() *depgraph.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph
}

func (r *Registry) onErrorEvent(ev event.Event) {
	if ev.Service == "" || r.shutdown.Load() {
		return
	}
	if _, err := r.FindService(ev.Service); err != nil {
		return
	}
	cause := errors.New(ev.Err)
	if r.recoverer.Trigger(ev.Service, cause) {
		r.logger.Warn("error event triggered recovery", "service", ev.Service, "error", ev.Err)
	}
}

// onHealthAlert reacts to the monitor's sweep alerts. The monitor owns
// the consecutive-unhealthy counts, resetting them on every sweep a
// service comes back healthy, so a relapse after recovery starts a
// fresh streak. Recovery fires when a streak reaches a multiple of the
// limit, which re-arms it if the service stays down through a failed
// recovery episode without firing on every sweep in between.
func (r *Registry) onHealthAlert(ev event.Event) {
	if r.shutdown.Load() {
		return
	}
	streaks, ok := ev.Fields["streaks"].(map[string]int)
	if !ok {
		return
	}

	for name, streak := range streaks {
		if streak < r.cfg.UnhealthyAlertLimit || streak%r.cfg.UnhealthyAlertLimit != 0 {
			continue
		}
		if _, err := r.FindService(name); err != nil {
			continue
		}
		if r.recoverer.Trigger(name, errors.New("persistently unhealthy")) {
			r.logger.Warn("persistent unhealthy streak triggered recovery",
				"service", name, "streak", streak)
		}
	}
}
