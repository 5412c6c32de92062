package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/service"
)

// Restarter performs the actual stop, start and health verification of
// a named service. The registry implements it.
type Restarter interface {
	StopService(ctx context.Context, name string) error
	StartService(ctx context.Context, name string) error
	HealthCheckService(ctx context.Context, name string) bool
}

// Outcome summarizes a finished recovery episode.
type Outcome struct {
	Service   string        `json:"service"`
	Episode   string        `json:"episode"`
	Recovered bool          `json:"recovered"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
	Err       error         `json:"-"`
}

// Controller drives bounded restart episodes for failed services.
type Controller struct {
	cfg       Config
	restarter Restarter
	bus       *event.Bus
	logger    *slog.Logger
	deps      service.Dependencies

	mu       sync.Mutex
	inflight map[string]struct{}

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewController builds a controller over the given restarter. The bus
// may be nil when no events are wanted.
func NewController(cfg Config, restarter Restarter, bus *event.Bus, deps service.Dependencies) *Controller {
	return &Controller{
		cfg:       cfg.withDefaults(),
		restarter: restarter,
		bus:       bus,
		logger:    deps.GetLogger().With("component", "recovery"),
		deps:      deps,
		inflight:  make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// Trigger starts a recovery episode for the named service. It returns
// false when an episode for that service is already running or the
// controller is closed, so overlapping failure signals collapse into a
// single episode.
func (c *Controller) Trigger(name string, cause error) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	if _, busy := c.inflight[name]; busy {
		c.mu.Unlock()
		return false
	}
	c.inflight[name] = struct{}{}
	c.mu.Unlock()

	episode := uuid.NewString()
	c.logger.Warn("recovery triggered",
		"service", name, "episode", episode, "cause", cause)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, name)
			c.mu.Unlock()
		}()
		c.run(name, episode, cause)
	}()
	return true
}

// InFlight reports whether an episode is currently running for the
// named service.
func (c *Controller) InFlight(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[name]
	return busy
}

// Close stops accepting triggers and waits for running episodes to end.
// Episodes in their backoff wait are abandoned.
func (c *Controller) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.wg.Wait()
}

func (c *Controller) run(name, episode string, cause error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		// The first attempt runs immediately; backoff sits between
		// attempts, not before them.
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.Delay(attempt - 1)):
			case <-c.done:
				return
			}
		}

		c.recordAttempt(name)
		if err := c.attempt(name); err != nil {
			lastErr = err
			c.logger.Warn("recovery attempt failed",
				"service", name, "episode", episode,
				"attempt", attempt+1, "error", err)
			continue
		}
		c.finish(Outcome{
			Service:   name,
			Episode:   episode,
			Recovered: true,
			Attempts:  attempt + 1,
			Elapsed:   time.Since(start),
		})
		return
	}

	if lastErr == nil {
		lastErr = errors.ErrRecoveryExhausted
	}
	out := Outcome{
		Service:  name,
		Episode:  episode,
		Attempts: c.cfg.MaxRetries,
		Elapsed:  time.Since(start),
		Err: errors.NewOperation(name, "recovery",
			fmt.Errorf("%w after %d attempts: %w", errors.ErrRecoveryExhausted, c.cfg.MaxRetries, lastErr)),
	}
	c.finish(out)
}

func (c *Controller) attempt(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AttemptTimeout)
	defer cancel()

	// A failed service may already be stopped; stop errors only matter
	// as log context.
	if err := c.restarter.StopService(ctx, name); err != nil {
		c.logger.Debug("pre-restart stop failed", "service", name, "error", err)
	}
	if err := c.restarter.StartService(ctx, name); err != nil {
		return err
	}
	// A start that comes up unhealthy has not recovered anything.
	if !c.restarter.HealthCheckService(ctx, name) {
		return fmt.Errorf("service started but failed its health check")
	}
	return nil
}

func (c *Controller) recordAttempt(name string) {
	if m := c.deps.Metrics; m != nil {
		m.CoreMetrics().RecordRecoveryAttempt(name)
	}
}

func (c *Controller) finish(out Outcome) {
	if m := c.deps.Metrics; m != nil {
		m.CoreMetrics().RecordRecoveryOutcome(out.Service, out.Recovered)
	}
	if out.Recovered {
		c.logger.Info("service recovered",
			"service", out.Service, "episode", out.Episode,
			"attempts", out.Attempts, "elapsed", out.Elapsed)
		if c.bus != nil {
			c.bus.Emit(event.Event{
				Kind:    event.KindServiceRecovered,
				Service: out.Service,
				Fields: map[string]any{
					"episode":  out.Episode,
					"attempts": out.Attempts,
				},
			})
		}
		return
	}
	c.logger.Error("recovery exhausted",
		"service", out.Service, "episode", out.Episode,
		"attempts", out.Attempts, "error", out.Err)
	if c.bus != nil {
		c.bus.Emit(event.Event{
			Kind:    event.KindServiceRecoveryFailed,
			Service: out.Service,
			Err:     out.Err.Error(),
			Fields: map[string]any{
				"episode":  out.Episode,
				"attempts": out.Attempts,
			},
		})
	}
}
