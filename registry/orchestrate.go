package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/health"
	"github.com/c360/servicekit/service"
)

// StartService starts the named service, bounded by its descriptor
// timeout. It implements half of recovery.Restarter.
func (r *Registry) StartService(ctx context.Context, name string) error {
	svc, err := r.FindService(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, svc.Descriptor().Timeout)
	defer cancel()
	return svc.Start(ctx)
}

// StopService stops the named service, bounded by its descriptor
// timeout.
func (r *Registry) StopService(ctx context.Context, name string) error {
	svc, err := r.FindService(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, svc.Descriptor().Timeout)
	defer cancel()
	return svc.Stop(ctx)
}

// HealthCheckService runs one health probe against the named service.
// Unknown services report unhealthy. It completes recovery.Restarter.
func (r *Registry) HealthCheckService(ctx context.Context, name string) bool {
	svc, err := r.FindService(name)
	if err != nil {
		return false
	}
	return svc.HealthCheck(ctx)
}

// StartAllServices starts every service in dependency order: the graph
// is walked level by level so a service starts only after the level
// holding its dependencies. Inside a level, priority groups run as
// sequential sub-batches with bounded concurrency. One failing service never aborts the batch;
// its dependents fail their own dependency checks. The result maps
// every service to its start error, nil on success.
func (r *Registry) StartAllServices(ctx context.Context) map[string]error {
	graph := r.snapshotGraph()
	results := make(map[string]error)
	if graph == nil {
		return results
	}

	var resultsMu sync.Mutex
	for i, level := range graph.Levels() {
		if i > 0 && r.cfg.StartSettleDelay > 0 {
			select {
			case <-time.After(r.cfg.StartSettleDelay):
			case <-ctx.Done():
			}
		}
		// Priority groups inside a level run one after another, so
		// every critical service is up before any normal one starts.
		for _, group := range r.byPriority(level) {
			sem := make(chan struct{}, r.cfg.MaxConcurrentStarts)
			var wg sync.WaitGroup
			for _, name := range group {
				wg.Add(1)
				sem <- struct{}{}
				go func(name string) {
					defer wg.Done()
					defer func() { <-sem }()
					err := r.StartService(ctx, name)
					resultsMu.Lock()
					results[name] = err
					resultsMu.Unlock()
					if err != nil {
						r.logger.Error("service failed to start", "service", name, "error", err)
					}
				}(name)
			}
			wg.Wait()
		}
	}
	return results
}

// StopAllServices stops every service in exact reverse dependency
// order. Stop failures are recorded per service and never block the
// remaining levels.
func (r *Registry) StopAllServices(ctx context.Context) map[string]error {
	graph := r.snapshotGraph()
	results := make(map[string]error)
	if graph == nil {
		return results
	}

	levels := graph.Levels()
	var resultsMu sync.Mutex
	for i := len(levels) - 1; i >= 0; i-- {
		groups := r.byPriority(levels[i])
		// Reverse of startup: lower-priority services stop before the
		// critical ones they may still be flushing work to.
		for g := len(groups) - 1; g >= 0; g-- {
			sem := make(chan struct{}, r.cfg.MaxConcurrentStarts)
			var wg sync.WaitGroup
			for _, name := range groups[g] {
				wg.Add(1)
				sem <- struct{}{}
				go func(name string) {
					defer wg.Done()
					defer func() { <-sem }()
					err := r.StopService(ctx, name)
					resultsMu.Lock()
					results[name] = err
					resultsMu.Unlock()
				}(name)
			}
			wg.Wait()
		}
	}
	return results
}

// byPriority splits the names of one dependency level into priority
// groups, highest priority first and sorted by name inside each group,
// dropping any that are no longer registered. Groups act as barriers
// during orchestration: one group finishes before the next begins.
func (r *Registry) byPriority(names []string) [][]string {
	r.mu.RLock()
	byPrio := make(map[service.Priority][]string)
	for _, name := range names {
		svc, ok := r.services[name]
		if !ok {
			continue
		}
		prio := svc.Descriptor().Priority
		byPrio[prio] = append(byPrio[prio], name)
	}
	r.mu.RUnlock()

	prios := make([]service.Priority, 0, len(byPrio))
	for prio := range byPrio {
		prios = append(prios, prio)
	}
	sort.Slice(prios, func(i, j int) bool { return prios[i] < prios[j] })

	groups := make([][]string, 0, len(prios))
	for _, prio := range prios {
		group := byPrio[prio]
		sort.Strings(group)
		groups = append(groups, group)
	}
	return groups
}

// HealthCheckAll runs one immediate health sweep over every service.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]health.Record {
	return r.monitor.Check(ctx)
}

// StartMonitoring launches the periodic health and metrics loops.
func (r *Registry) StartMonitoring(ctx context.Context) {
	r.monitor.Start(ctx)
}

// ShutdownAll stops monitoring and recovery, stops every service in
// reverse dependency order, destroys them all and clears the registry.
// It is idempotent; repeated calls return nil.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	if !r.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	r.logger.Info("registry shutting down", "services", r.Len())

	for _, unsub := range r.unsubs {
		unsub()
	}
	r.monitor.Stop()
	r.recoverer.Close()

	var errs []error
	for name, err := range r.StopAllServices(ctx) {
		if err != nil && !errors.Is(err, errors.ErrInvalidTransition) {
			errs = append(errs, errors.NewOperation(name, "stop", err))
		}
	}

	graph := r.snapshotGraph()
	var order []string
	if graph != nil {
		order = graph.ShutdownOrder()
	}
	for _, name := range order {
		r.mu.Lock()
		svc, ok := r.services[name]
		unsub := r.forwards[name]
		delete(r.services, name)
		delete(r.forwards, name)
		r.mu.Unlock()
		if !ok {
			continue
		}
		if err := svc.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
		if unsub != nil {
			unsub()
		}
	}

	r.mu.Lock()
	r.services = make(map[string]service.Service)
	r.forwards = make(map[string]func())
	r.graph = nil
	r.mu.Unlock()

	r.logger.Info("registry shutdown complete", "errors", len(errs))
	return errors.Join(errs...)
}
