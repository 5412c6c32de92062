package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/service"
)

type fakeRestarter struct {
	mu           sync.Mutex
	stops        int
	starts       int
	checks       int
	failFirstN   int
	alwaysFail   bool
	neverHealthy bool
	startDelay   time.Duration
	startedLast  time.Time
}

func (f *fakeRestarter) StopService(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRestarter) StartService(ctx context.Context, name string) error {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.startedLast = time.Now()
	if f.alwaysFail || f.starts <= f.failFirstN {
		return fmt.Errorf("start attempt %d failed", f.starts)
	}
	return nil
}

func (f *fakeRestarter) HealthCheckService(ctx context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return !f.neverHealthy
}

func (f *fakeRestarter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeRestarter) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      time.Millisecond,
		Multiplier:     2.0,
		AttemptTimeout: time.Second,
		Strategy:       StrategyExponential,
	}
}

func TestDelayExponential(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, Multiplier: 2.0, Strategy: StrategyExponential}
	assert.Equal(t, time.Second, cfg.Delay(0))
	assert.Equal(t, 2*time.Second, cfg.Delay(1))
	assert.Equal(t, 4*time.Second, cfg.Delay(2))
}

func TestDelayLinearAndFixed(t *testing.T) {
	linear := Config{BaseDelay: time.Second, Strategy: StrategyLinear}
	assert.Equal(t, time.Second, linear.Delay(0))
	assert.Equal(t, 3*time.Second, linear.Delay(2))

	fixed := Config{BaseDelay: 500 * time.Millisecond, Strategy: StrategyFixed}
	assert.Equal(t, 500*time.Millisecond, fixed.Delay(0))
	assert.Equal(t, 500*time.Millisecond, fixed.Delay(5))
}

func TestDelayCapped(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, Multiplier: 10, MaxDelay: 5 * time.Second, Strategy: StrategyExponential}
	assert.Equal(t, 5*time.Second, cfg.Delay(3))
}

func TestRecoverySucceedsAfterRetries(t *testing.T) {
	restarter := &fakeRestarter{failFirstN: 2}
	bus := event.NewBus(nil)
	defer bus.Close()

	recovered := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecovered, func(ev event.Event) { recovered <- ev })

	ctl := NewController(fastConfig(), restarter, bus, service.Dependencies{})
	defer ctl.Close()

	require.True(t, ctl.Trigger("db", fmt.Errorf("crashed")))

	select {
	case ev := <-recovered:
		assert.Equal(t, "db", ev.Service)
		assert.Equal(t, 3, ev.Fields["attempts"])
	case <-time.After(2 * time.Second):
		t.Fatal("service never recovered")
	}
	assert.Equal(t, 3, restarter.startCount())
}

func TestRecoveryExhaustsRetryBudget(t *testing.T) {
	restarter := &fakeRestarter{alwaysFail: true}
	bus := event.NewBus(nil)
	defer bus.Close()

	failed := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecoveryFailed, func(ev event.Event) { failed <- ev })

	ctl := NewController(fastConfig(), restarter, bus, service.Dependencies{})
	defer ctl.Close()

	require.True(t, ctl.Trigger("db", fmt.Errorf("crashed")))

	select {
	case ev := <-failed:
		assert.Equal(t, "db", ev.Service)
		assert.Equal(t, 3, ev.Fields["attempts"])
		assert.Contains(t, ev.Err, errors.ErrRecoveryExhausted.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery-failed event")
	}

	// The budget is spent: exactly three attempts, none after.
	assert.Equal(t, 3, restarter.startCount())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, restarter.startCount())
}

func TestRecoveryRequiresHealthyRestart(t *testing.T) {
	// Starts succeed every time but the service never passes its
	// health check, so no attempt counts as a recovery.
	restarter := &fakeRestarter{neverHealthy: true}
	bus := event.NewBus(nil)
	defer bus.Close()

	recovered := make(chan event.Event, 1)
	failed := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecovered, func(ev event.Event) { recovered <- ev })
	bus.Subscribe(event.KindServiceRecoveryFailed, func(ev event.Event) { failed <- ev })

	ctl := NewController(fastConfig(), restarter, bus, service.Dependencies{})
	defer ctl.Close()

	require.True(t, ctl.Trigger("db", fmt.Errorf("crashed")))

	select {
	case ev := <-failed:
		assert.Equal(t, "db", ev.Service)
		assert.Equal(t, 3, ev.Fields["attempts"])
		assert.Contains(t, ev.Err, "failed its health check")
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery-failed event")
	}
	select {
	case <-recovered:
		t.Fatal("unhealthy restart reported as recovered")
	default:
	}
	assert.Equal(t, 3, restarter.startCount())
	assert.Equal(t, 3, restarter.checkCount())
}

func TestFirstAttemptRunsWithoutDelay(t *testing.T) {
	restarter := &fakeRestarter{}
	bus := event.NewBus(nil)
	defer bus.Close()

	recovered := make(chan event.Event, 1)
	bus.Subscribe(event.KindServiceRecovered, func(ev event.Event) { recovered <- ev })

	cfg := fastConfig()
	cfg.BaseDelay = 500 * time.Millisecond
	ctl := NewController(cfg, restarter, bus, service.Dependencies{})
	defer ctl.Close()

	start := time.Now()
	require.True(t, ctl.Trigger("db", fmt.Errorf("crashed")))

	select {
	case ev := <-recovered:
		assert.Equal(t, 1, ev.Fields["attempts"])
		// Backoff only sits between attempts; a first-try success
		// must not wait out the base delay.
		assert.Less(t, time.Since(start), cfg.BaseDelay)
	case <-time.After(2 * time.Second):
		t.Fatal("service never recovered")
	}
}

func TestTriggerDeduplicatesInFlightEpisodes(t *testing.T) {
	restarter := &fakeRestarter{startDelay: 50 * time.Millisecond}
	ctl := NewController(fastConfig(), restarter, nil, service.Dependencies{})
	defer ctl.Close()

	require.True(t, ctl.Trigger("db", fmt.Errorf("crashed")))
	assert.False(t, ctl.Trigger("db", fmt.Errorf("crashed again")))
	assert.True(t, ctl.InFlight("db"))

	// A different service is an independent episode.
	assert.True(t, ctl.Trigger("cache", fmt.Errorf("crashed")))
}

func TestTriggerAfterCloseRejected(t *testing.T) {
	ctl := NewController(fastConfig(), &fakeRestarter{}, nil, service.Dependencies{})
	ctl.Close()
	assert.False(t, ctl.Trigger("db", fmt.Errorf("crashed")))
}

func TestRetriggerAllowedAfterEpisodeEnds(t *testing.T) {
	restarter := &fakeRestarter{}
	ctl := NewController(fastConfig(), restarter, nil, service.Dependencies{})
	defer ctl.Close()

	require.True(t, ctl.Trigger("db", fmt.Errorf("crashed")))
	assert.Eventually(t, func() bool { return !ctl.InFlight("db") }, time.Second, time.Millisecond)

	assert.True(t, ctl.Trigger("db", fmt.Errorf("crashed later")))
}
