package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/recovery"
	"github.com/c360/servicekit/service"
)

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.StartSettleDelay = time.Millisecond
	cfg.Recovery = recovery.Config{
		MaxRetries:     3,
		BaseDelay:      time.Millisecond,
		Multiplier:     2.0,
		AttemptTimeout: time.Second,
		Strategy:       recovery.StrategyExponential,
	}
	return cfg
}

func newTestRegistry(t *testing.T) (*Registry, *event.Bus) {
	t.Helper()
	bus := event.NewBus(nil)
	r := NewRegistry(fastTestConfig(), bus, service.Dependencies{})
	t.Cleanup(func() {
		_ = r.ShutdownAll(context.Background())
		bus.Close()
	})
	return r, bus
}

func desc(name string, deps ...string) service.Descriptor {
	d := service.Descriptor{Name: name, Type: "worker"}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, service.DependencyRef{Service: dep, Required: true})
	}
	return d
}

// hookFactory builds instances whose start order is recorded.
func hookFactory(mu *sync.Mutex, order *[]string) Factory {
	return func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		name := d.Name
		hooks := service.Hooks{
			OnStart: func(ctx context.Context) error {
				mu.Lock()
				*order = append(*order, name)
				mu.Unlock()
				return nil
			},
		}
		return service.NewInstance(d, hooks, deps), nil
	}
}

func TestRegisterFactoryRejectsDuplicates(t *testing.T) {
	r, _ := newTestRegistry(t)
	factory := func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		return service.NewGeneric(d, deps), nil
	}

	require.NoError(t, r.RegisterFactory("worker", factory))
	err := r.RegisterFactory("worker", factory)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateFactory))

	assert.Equal(t, []string{"worker"}, r.FactoryTypes())
}

func TestCreateInitializesAndRegisters(t *testing.T) {
	r, _ := newTestRegistry(t)

	svc, err := r.Create(context.Background(), desc("db"))
	require.NoError(t, err)
	assert.Equal(t, service.StateInitialized, svc.State())

	found, err := r.FindService("db")
	require.NoError(t, err)
	assert.Same(t, svc, found)
}

func TestCreateUnknownTypeFallsBackToGeneric(t *testing.T) {
	r, _ := newTestRegistry(t)

	svc, err := r.Create(context.Background(), service.Descriptor{Name: "x", Type: "no-such-type"})
	require.NoError(t, err)
	assert.Equal(t, "no-such-type", svc.Type())
	assert.Equal(t, service.StateInitialized, svc.State())
}

func TestCreateIdempotentForExistingName(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Create(context.Background(), desc("db"))
	require.NoError(t, err)
	second, err := r.Create(context.Background(), desc("db"))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentCreateCollapses(t *testing.T) {
	r, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	results := make([]service.Service, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, err := r.Create(context.Background(), desc("db"))
			require.NoError(t, err)
			results[i] = svc
		}(i)
	}
	wg.Wait()

	for _, svc := range results[1:] {
		assert.Same(t, results[0], svc)
	}
	assert.Equal(t, 1, r.Len())
}

func TestCreateRejectsDependencyCycle(t *testing.T) {
	r, _ := newTestRegistry(t)

	// A soft forward edge to a service that does not exist yet.
	a := service.Descriptor{
		Name: "a", Type: "worker",
		Dependencies: []service.DependencyRef{{Service: "b", Required: false}},
	}
	_, err := r.Create(context.Background(), a)
	require.NoError(t, err)
	_, err = r.Create(context.Background(), desc("b", "a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDependencyCycle))

	// The rejected service is not left behind.
	_, err = r.FindService("b")
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestCreateFailedInitializeNotRegistered(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		hooks := service.Hooks{
			OnInitialize: func(ctx context.Context) error { return fmt.Errorf("no disk") },
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	_, err := r.Create(context.Background(), desc("db"))
	require.Error(t, err)
	assert.True(t, errors.IsInitialization(err))
	assert.Equal(t, 0, r.Len())
}

func TestCreateMultipleReportsEveryResult(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		if d.Name == "broken" {
			return nil, fmt.Errorf("bad config")
		}
		return service.NewGeneric(d, deps), nil
	}))

	descs := []service.Descriptor{desc("db"), desc("broken"), desc("cache", "db")}
	results := r.CreateMultiple(context.Background(), descs)

	require.Len(t, results, 3)
	assert.NoError(t, results["db"])
	assert.NoError(t, results["cache"])
	assert.Error(t, results["broken"])
	assert.Equal(t, 2, r.Len())
}

func TestStartAllHonorsDependencyOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	var mu sync.Mutex
	var order []string
	require.NoError(t, r.RegisterFactory("worker", hookFactory(&mu, &order)))

	ctx := context.Background()
	_, err := r.Create(ctx, desc("db"))
	require.NoError(t, err)
	_, err = r.Create(ctx, desc("cache", "db"))
	require.NoError(t, err)
	_, err = r.Create(ctx, desc("api", "db", "cache"))
	require.NoError(t, err)

	results := r.StartAllServices(ctx)
	require.Len(t, results, 3)
	for name, err := range results {
		assert.NoError(t, err, name)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"db", "cache", "api"}, order)
}

func TestStartAllCriticalCompletesBeforeNormal(t *testing.T) {
	r, _ := newTestRegistry(t)
	var mu sync.Mutex
	var order []string
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		name := d.Name
		prio := d.Priority
		hooks := service.Hooks{
			OnStart: func(ctx context.Context) error {
				// The critical service is the slow one; concurrent
				// scheduling would let the normal one overtake it.
				if prio == service.PriorityCritical {
					time.Sleep(30 * time.Millisecond)
				}
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			},
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	ctx := context.Background()
	critical := desc("leader")
	critical.Priority = service.PriorityCritical
	_, err := r.Create(ctx, critical)
	require.NoError(t, err)
	normal := desc("follower")
	normal.Priority = service.PriorityNormal
	_, err = r.Create(ctx, normal)
	require.NoError(t, err)

	results := r.StartAllServices(ctx)
	require.Len(t, results, 2)
	for name, err := range results {
		assert.NoError(t, err, name)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"leader", "follower"}, order)
}

func TestStartAllFailureCascadesToDependents(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		hooks := service.Hooks{}
		if d.Name == "db" {
			hooks.OnStart = func(ctx context.Context) error { return fmt.Errorf("disk full") }
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	ctx := context.Background()
	_, err := r.Create(ctx, desc("db"))
	require.NoError(t, err)
	_, err = r.Create(ctx, desc("api", "db"))
	require.NoError(t, err)

	results := r.StartAllServices(ctx)
	require.Error(t, results["db"])
	require.Error(t, results["api"])
	assert.True(t, errors.Is(results["api"], errors.ErrDependencyUnavailable))
}

func TestStopAllReversesStartOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	var mu sync.Mutex
	var stops []string
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		name := d.Name
		hooks := service.Hooks{
			OnStop: func(ctx context.Context) error {
				mu.Lock()
				stops = append(stops, name)
				mu.Unlock()
				return nil
			},
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	ctx := context.Background()
	for _, d := range []service.Descriptor{desc("db"), desc("cache", "db"), desc("api", "cache")} {
		_, err := r.Create(ctx, d)
		require.NoError(t, err)
	}
	r.StartAllServices(ctx)
	r.StopAllServices(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"api", "cache", "db"}, stops)
}

func TestDiscoverServicesAndCriteria(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, service.Descriptor{
		Name: "pg", Type: "postgres", Capabilities: []string{"storage", "sql"},
	})
	require.NoError(t, err)
	_, err = r.Create(ctx, service.Descriptor{
		Name: "redis", Type: "redis", Capabilities: []string{"storage", "cache"},
	})
	require.NoError(t, err)

	byType := r.DiscoverServices(Criteria{Type: "postgres"})
	require.Len(t, byType, 1)
	assert.Equal(t, "pg", byType[0].Name())

	byCap := r.DiscoverServices(Criteria{Capabilities: []string{"storage"}})
	assert.Len(t, byCap, 2)

	both := r.DiscoverServices(Criteria{Capabilities: []string{"storage", "cache"}})
	require.Len(t, both, 1)
	assert.Equal(t, "redis", both[0].Name())

	none := r.DiscoverServices(Criteria{Type: "postgres", Capabilities: []string{"cache"}})
	assert.Empty(t, none)

	byState := r.DiscoverServices(Criteria{States: []service.State{service.StateRunning}})
	assert.Empty(t, byState)
}

func TestRemoveService(t *testing.T) {
	r, bus := newTestRegistry(t)
	ctx := context.Background()

	removed := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRemoved, func(ev event.Event) { removed <- ev })

	svc, err := r.Create(ctx, desc("db"))
	require.NoError(t, err)
	require.NoError(t, r.StartService(ctx, "db"))

	require.NoError(t, r.RemoveService(ctx, "db"))
	assert.Equal(t, service.StateDestroyed, svc.State())
	assert.Equal(t, 0, r.Len())

	select {
	case ev := <-removed:
		assert.Equal(t, "db", ev.Service)
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}

	err = r.RemoveService(ctx, "db")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotFound))
}

func TestShutdownAllIdempotent(t *testing.T) {
	bus := event.NewBus(nil)
	defer bus.Close()
	r := NewRegistry(fastTestConfig(), bus, service.Dependencies{})
	ctx := context.Background()

	svc, err := r.Create(ctx, desc("db"))
	require.NoError(t, err)
	require.NoError(t, r.StartService(ctx, "db"))

	require.NoError(t, r.ShutdownAll(ctx))
	assert.Equal(t, service.StateDestroyed, svc.State())
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.ShutdownAll(ctx))

	_, err = r.Create(ctx, desc("late"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRegistryShutdown))
}

func TestErrorEventTriggersRecovery(t *testing.T) {
	r, bus := newTestRegistry(t)
	ctx := context.Background()

	recovered := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecovered, func(ev event.Event) { recovered <- ev })

	var mu sync.Mutex
	failures := 1
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		hooks := service.Hooks{
			OnStart: func(ctx context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				if failures > 0 {
					failures--
					return fmt.Errorf("flaky start")
				}
				return nil
			},
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	svc, err := r.Create(ctx, desc("flaky"))
	require.NoError(t, err)

	// The failed start drops the service into the error state; the
	// forwarded error event hands it to recovery, which restarts it.
	require.Error(t, r.StartService(ctx, "flaky"))

	select {
	case ev := <-recovered:
		assert.Equal(t, "flaky", ev.Service)
	case <-time.After(3 * time.Second):
		t.Fatal("service was not recovered")
	}
	assert.Eventually(t, func() bool {
		return svc.State() == service.StateRunning
	}, time.Second, 5*time.Millisecond)
}

func TestRecoveryFailsWhenRestartStaysUnhealthy(t *testing.T) {
	r, bus := newTestRegistry(t)
	ctx := context.Background()

	recovered := make(chan event.Event, 1)
	failed := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecovered, func(ev event.Event) { recovered <- ev })
	bus.Subscribe(event.KindServiceRecoveryFailed, func(ev event.Event) { failed <- ev })

	// Start fails once to drop the service into recovery; every restart
	// then succeeds but the service never reports healthy.
	var mu sync.Mutex
	failures := 1
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		hooks := service.Hooks{
			OnStart: func(ctx context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				if failures > 0 {
					failures--
					return fmt.Errorf("flaky start")
				}
				return nil
			},
			OnHealthCheck: func(ctx context.Context) error {
				return fmt.Errorf("backend unreachable")
			},
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	_, err := r.Create(ctx, desc("flaky"))
	require.NoError(t, err)
	require.Error(t, r.StartService(ctx, "flaky"))

	select {
	case ev := <-failed:
		assert.Equal(t, "flaky", ev.Service)
		assert.Equal(t, 3, ev.Fields["attempts"])
	case <-time.After(3 * time.Second):
		t.Fatal("no recovery-failed event")
	}
	select {
	case <-recovered:
		t.Fatal("unhealthy restart reported as recovered")
	default:
	}
}

func TestRelapseAfterHealthySweepStartsFreshStreak(t *testing.T) {
	bus := event.NewBus(nil)
	cfg := fastTestConfig()
	// Room between recovery attempts so the service has flipped back
	// to healthy before the retry budget runs out.
	cfg.Recovery.BaseDelay = 20 * time.Millisecond
	r := NewRegistry(cfg, bus, service.Dependencies{})
	t.Cleanup(func() {
		_ = r.ShutdownAll(context.Background())
		bus.Close()
	})
	ctx := context.Background()

	recovered := make(chan event.Event, 1)
	failed := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecovered, func(ev event.Event) { recovered <- ev })
	bus.Subscribe(event.KindServiceRecoveryFailed, func(ev event.Event) { failed <- ev })

	var healthy atomic.Bool
	require.NoError(t, r.RegisterFactory("worker", func(d service.Descriptor, deps service.Dependencies) (service.Service, error) {
		hooks := service.Hooks{
			OnHealthCheck: func(ctx context.Context) error {
				if healthy.Load() {
					return nil
				}
				return fmt.Errorf("backend unreachable")
			},
		}
		return service.NewInstance(d, hooks, deps), nil
	}))

	_, err := r.Create(ctx, desc("wobbly"))
	require.NoError(t, err)
	require.NoError(t, r.StartService(ctx, "wobbly"))

	// Two flagged sweeps, one healthy sweep, one flagged sweep: the
	// healthy sweep resets the consecutive count, so the limit of three
	// is never reached and recovery stays quiet.
	healthy.Store(false)
	r.HealthCheckAll(ctx)
	r.HealthCheckAll(ctx)
	healthy.Store(true)
	r.HealthCheckAll(ctx)
	healthy.Store(false)
	r.HealthCheckAll(ctx)

	time.Sleep(50 * time.Millisecond)
	select {
	case <-recovered:
		t.Fatal("recovery ran before the streak limit")
	case <-failed:
		t.Fatal("recovery ran before the streak limit")
	default:
	}

	// Two more flagged sweeps complete a fresh streak of three and
	// trigger recovery; the restart comes back healthy.
	r.HealthCheckAll(ctx)
	r.HealthCheckAll(ctx)
	healthy.Store(true)

	select {
	case ev := <-recovered:
		assert.Equal(t, "wobbly", ev.Service)
	case <-time.After(3 * time.Second):
		t.Fatal("persistent streak never triggered recovery")
	}
}

func TestHealthCheckAllCoversEveryService(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, desc("db"))
	require.NoError(t, err)
	_, err = r.Create(ctx, desc("cache", "db"))
	require.NoError(t, err)
	require.NoError(t, r.StartService(ctx, "db"))

	records := r.HealthCheckAll(ctx)
	require.Len(t, records, 2)
	// Only the running service passes its probe.
	assert.NotEqual(t, records["db"].Health, records["cache"].Health)
}
