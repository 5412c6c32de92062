package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/service"
)

// Target is the view of a service the monitor needs: a liveness probe
// plus snapshot accessors for state and raw metrics.
type Target interface {
	HealthCheck(ctx context.Context) bool
	Snapshot() service.Snapshot
	Metrics() service.MetricsSnapshot
}

// Lister supplies the current set of monitored targets. The registry
// that owns the instances implements it; the map is a copy the monitor
// may iterate freely.
type Lister interface {
	Targets() map[string]Target
}

// ServiceMetrics is one aggregated metrics observation for a service.
type ServiceMetrics struct {
	Service        string        `json:"service"`
	SampleCount    int           `json:"sample_count"`
	AverageLatency time.Duration `json:"average_latency"`
	P95            time.Duration `json:"p95"`
	P99            time.Duration `json:"p99"`
	Throughput     float64       `json:"throughput"`
	ErrorRate      float64       `json:"error_rate"`
	CollectedAt    time.Time     `json:"collected_at"`
}

// Config controls the monitoring cadence and alerting boundaries.
type Config struct {
	// CheckInterval is the period between health sweeps.
	CheckInterval time.Duration

	// CheckTimeout bounds each individual probe so one stuck service
	// cannot stall the sweep.
	CheckTimeout time.Duration

	// MetricsInterval is the period between metrics collections. The
	// metrics loop runs independently of the health loop.
	MetricsInterval time.Duration

	// HistoryWindow bounds how far back per-service health history is
	// retained. Older records are pruned on each metrics tick.
	HistoryWindow time.Duration

	// Thresholds holds the classification boundaries.
	Thresholds Thresholds

	// PerfLatencyP95 triggers a performance alert when a service's p95
	// latency exceeds it. Zero disables the latency alert.
	PerfLatencyP95 time.Duration

	// PerfErrorRate triggers a performance alert when a service's error
	// rate reaches it. Zero disables the error-rate alert.
	PerfErrorRate float64
}

// DefaultConfig returns the standard monitoring cadence: checks every
// 30 seconds with a 5 second probe timeout, metrics every 10 seconds,
// and a 24 hour history window.
func DefaultConfig() Config {
	return Config{
		CheckInterval:   30 * time.Second,
		CheckTimeout:    5 * time.Second,
		MetricsInterval: 10 * time.Second,
		HistoryWindow:   24 * time.Hour,
		Thresholds:      DefaultThresholds(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = def.CheckTimeout
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = def.MetricsInterval
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = def.Thresholds
	}
	return c
}

// Monitor runs the periodic health and metrics loops over a set of
// targets and keeps the latest observations plus a bounded history.
type Monitor struct {
	cfg    Config
	lister Lister
	bus    *event.Bus
	logger *slog.Logger
	deps   service.Dependencies

	mu      sync.RWMutex
	latest  map[string]Record
	metrics map[string]ServiceMetrics
	history map[string][]Record
	streaks map[string]int

	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor builds a monitor over the given target set. The bus may be
// nil when no alerting is wanted.
func NewMonitor(cfg Config, lister Lister, bus *event.Bus, deps service.Dependencies) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		lister:  lister,
		bus:     bus,
		logger:  deps.GetLogger().With("component", "health-monitor"),
		deps:    deps,
		latest:  make(map[string]Record),
		metrics: make(map[string]ServiceMetrics),
		history: make(map[string][]Record),
		streaks: make(map[string]int),
		done:    make(chan struct{}),
	}
}

// Start launches the health and metrics loops. Calling Start more than
// once is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(2)
	go m.checkLoop(ctx)
	go m.metricsLoop(ctx)
	m.logger.Info("health monitor started",
		"check_interval", m.cfg.CheckInterval,
		"metrics_interval", m.cfg.MetricsInterval)
}

// Stop terminates both loops and waits for them to exit.
func (m *Monitor) Stop() {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.done)
	m.wg.Wait()
}

func (m *Monitor) checkLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) metricsLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CollectMetrics()
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Check probes every target concurrently and returns the complete
// result set. A probe that overruns the timeout is recorded as
// unhealthy; a probe that panics is recorded as unknown. Failures in
// individual probes never prevent the rest of the sweep.
func (m *Monitor) Check(ctx context.Context) map[string]Record {
	targets := m.lister.Targets()
	records := make(map[string]Record, len(targets))
	if len(targets) == 0 {
		return records
	}

	results := make(chan Record, len(targets))
	for name, target := range targets {
		go func(name string, target Target) {
			results <- m.checkOne(ctx, name, target)
		}(name, target)
	}
	for range targets {
		rec := <-results
		records[rec.Service] = rec
	}

	m.mu.Lock()
	for name, rec := range records {
		m.latest[name] = rec
		m.history[name] = append(m.history[name], rec)
	}
	// Streaks count consecutive flagged sweeps; one healthy sweep
	// resets the count, so a recovered service starts over if it
	// relapses later.
	for name := range m.streaks {
		if _, present := records[name]; !present {
			delete(m.streaks, name)
		}
	}
	streaks := make(map[string]int, len(records))
	for name, rec := range records {
		if rec.Health == Unhealthy || rec.Health == Unknown {
			m.streaks[name]++
			streaks[name] = m.streaks[name]
		} else {
			delete(m.streaks, name)
		}
	}
	m.mu.Unlock()

	if metrics := m.deps.Metrics; metrics != nil {
		for name, rec := range records {
			metrics.CoreMetrics().RecordHealthStatus(name, rec.Health.Level())
			metrics.CoreMetrics().RecordHealthCheck(name, rec.Health == Healthy)
		}
	}

	sys := AggregateSystem(records, m.cfg.Thresholds)
	if m.bus != nil && len(sys.Affected) > 0 {
		m.bus.Emit(event.Event{
			Kind: event.KindHealthAlert,
			Fields: map[string]any{
				"overall":  string(sys.Overall),
				"affected": sys.Affected,
				"total":    sys.Total,
				"streaks":  streaks,
			},
		})
	}
	return records
}

func (m *Monitor) checkOne(ctx context.Context, name string, target Target) Record {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	type outcome struct {
		healthy  bool
		snap     service.Snapshot
		panicked any
	}
	ch := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.panicked = r
			}
			ch <- out
		}()
		out.healthy = target.HealthCheck(ctx)
		out.snap = target.Snapshot()
	}()

	select {
	case <-ctx.Done():
		// The probe goroutine is abandoned; it will drain into the
		// buffered channel whenever it finishes.
		terr := errors.NewTimeout(name, "health-check", m.cfg.CheckTimeout)
		m.logger.Warn("health check timed out", "service", name, "timeout", m.cfg.CheckTimeout)
		return Record{
			Service:   name,
			Health:    Unhealthy,
			LastCheck: time.Now(),
			Message:   terr.Error(),
		}
	case out := <-ch:
		if out.panicked != nil {
			m.logger.Error("health probe panicked", "service", name, "panic", out.panicked)
			return Record{
				Service:   name,
				Health:    Unknown,
				LastCheck: time.Now(),
				Message:   fmt.Sprintf("health probe panic: %v", out.panicked),
			}
		}
		return FromSnapshot(out.snap, out.healthy, m.cfg.Thresholds)
	}
}

// CollectMetrics aggregates latency and throughput for every target,
// emits a metrics-update event, raises performance alerts where
// configured limits are exceeded, and prunes expired history.
func (m *Monitor) CollectMetrics() map[string]ServiceMetrics {
	targets := m.lister.Targets()
	collected := make(map[string]ServiceMetrics, len(targets))
	now := time.Now()

	for name, target := range targets {
		raw, err := safeMetrics(target)
		if err != nil {
			m.logger.Warn("metrics collection failed", "service", name, "error", err)
			continue
		}
		sm := ServiceMetrics{
			Service:        name,
			SampleCount:    len(raw.Latencies),
			AverageLatency: Average(raw.Latencies),
			P95:            Percentile(raw.Latencies, 0.95),
			P99:            Percentile(raw.Latencies, 0.99),
			Throughput:     Throughput(raw.OperationCount, raw.StartedAt),
			CollectedAt:    now,
		}
		if raw.OperationCount > 0 {
			sm.ErrorRate = float64(raw.ErrorCount) / float64(raw.OperationCount)
		}
		collected[name] = sm
		m.checkPerformance(sm)
	}

	m.mu.Lock()
	for name, sm := range collected {
		m.metrics[name] = sm
	}
	m.pruneHistoryLocked(now)
	m.mu.Unlock()

	if m.bus != nil && len(collected) > 0 {
		m.bus.Emit(event.Event{
			Kind:   event.KindMetricsUpdate,
			Fields: map[string]any{"services": len(collected)},
		})
	}
	return collected
}

func safeMetrics(target Target) (snap service.MetricsSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metrics panic: %v", r)
		}
	}()
	return target.Metrics(), nil
}

func (m *Monitor) checkPerformance(sm ServiceMetrics) {
	if m.bus == nil {
		return
	}
	if m.cfg.PerfLatencyP95 > 0 && sm.P95 > m.cfg.PerfLatencyP95 {
		m.bus.Emit(event.Event{
			Kind:    event.KindPerformanceAlert,
			Service: sm.Service,
			Fields: map[string]any{
				"reason": "latency",
				"p95_ms": sm.P95.Milliseconds(),
				"limit":  m.cfg.PerfLatencyP95.Milliseconds(),
			},
		})
	}
	if m.cfg.PerfErrorRate > 0 && sm.ErrorRate >= m.cfg.PerfErrorRate {
		m.bus.Emit(event.Event{
			Kind:    event.KindPerformanceAlert,
			Service: sm.Service,
			Fields: map[string]any{
				"reason":     "error-rate",
				"error_rate": sm.ErrorRate,
				"limit":      m.cfg.PerfErrorRate,
			},
		})
	}
}

func (m *Monitor) pruneHistoryLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.HistoryWindow)
	for name, recs := range m.history {
		keep := 0
		for keep < len(recs) && recs[keep].LastCheck.Before(cutoff) {
			keep++
		}
		switch {
		case keep == len(recs):
			delete(m.history, name)
		case keep > 0:
			m.history[name] = append([]Record(nil), recs[keep:]...)
		}
	}
}

// Streak returns how many consecutive sweeps the service has been
// flagged unhealthy or unknown. Zero means the last sweep found it
// healthy, degraded, or absent.
func (m *Monitor) Streak(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streaks[name]
}

// Latest returns the most recent record for a service.
func (m *Monitor) Latest(name string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.latest[name]
	return rec, ok
}

// LatestMetrics returns the most recent aggregated metrics for a
// service.
func (m *Monitor) LatestMetrics(name string) (ServiceMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm, ok := m.metrics[name]
	return sm, ok
}

// History returns a copy of the retained records for a service, oldest
// first.
func (m *Monitor) History(name string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.history[name]...)
}

// System aggregates the latest per-service records into a system view.
func (m *Monitor) System() SystemHealth {
	m.mu.RLock()
	snapshot := make(map[string]Record, len(m.latest))
	for name, rec := range m.latest {
		snapshot[name] = rec
	}
	m.mu.RUnlock()
	return AggregateSystem(snapshot, m.cfg.Thresholds)
}
