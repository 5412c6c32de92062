package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Core contains the platform-level orchestration metrics.
type Core struct {
	ServiceState      *prometheus.GaugeVec
	HealthStatus      *prometheus.GaugeVec
	HealthChecksTotal *prometheus.CounterVec
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	RecoveryAttempts  *prometheus.CounterVec
	RecoveriesTotal   *prometheus.CounterVec
}

// NewCore creates the core metric set.
func NewCore() *Core {
	return &Core{
		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "servicekit",
				Subsystem: "service",
				Name:      "state",
				Help: "Service lifecycle state (0=uninitialized, 1=initializing, 2=initialized, " +
					"3=starting, 4=running, 5=stopping, 6=stopped, 7=destroyed, 8=error)",
			},
			[]string{"service"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "servicekit",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health classification (0=unknown, 1=unhealthy, 2=degraded, 3=healthy)",
			},
			[]string{"service"},
		),

		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of health checks performed",
			},
			[]string{"service", "result"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "operations",
				Name:      "total",
				Help:      "Total number of service operations executed",
			},
			[]string{"service", "result"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "servicekit",
				Subsystem: "operations",
				Name:      "duration_seconds",
				Help:      "Service operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by category",
			},
			[]string{"service", "category"},
		),

		RecoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "recovery",
				Name:      "attempts_total",
				Help:      "Total number of recovery attempts",
			},
			[]string{"service"},
		),

		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "recovery",
				Name:      "episodes_total",
				Help:      "Total number of completed recovery episodes by outcome",
			},
			[]string{"service", "outcome"},
		),
	}
}

// RecordServiceState records the current lifecycle state of a service.
func (c *Core) RecordServiceState(service string, state int) {
	c.ServiceState.WithLabelValues(service).Set(float64(state))
}

// RecordHealthStatus records the numeric health classification of a service.
func (c *Core) RecordHealthStatus(service string, level int) {
	c.HealthStatus.WithLabelValues(service).Set(float64(level))
}

// RecordHealthCheck counts a single health check result.
func (c *Core) RecordHealthCheck(service string, healthy bool) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	c.HealthChecksTotal.WithLabelValues(service, result).Inc()
}

// RecordOperation counts an operation and observes its latency.
func (c *Core) RecordOperation(service string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.OperationsTotal.WithLabelValues(service, result).Inc()
	c.OperationDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordError counts an error in the given category.
func (c *Core) RecordError(service, category string) {
	c.ErrorsTotal.WithLabelValues(service, category).Inc()
}

// RecordRecoveryAttempt counts a single recovery attempt.
func (c *Core) RecordRecoveryAttempt(service string) {
	c.RecoveryAttempts.WithLabelValues(service).Inc()
}

// RecordRecoveryOutcome counts a finished recovery episode.
func (c *Core) RecordRecoveryOutcome(service string, recovered bool) {
	outcome := "recovered"
	if !recovered {
		outcome = "failed"
	}
	c.RecoveriesTotal.WithLabelValues(service, outcome).Inc()
}

// collectors returns every core collector for bulk registration.
func (c *Core) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceState,
		c.HealthStatus,
		c.HealthChecksTotal,
		c.OperationsTotal,
		c.OperationDuration,
		c.ErrorsTotal,
		c.RecoveryAttempts,
		c.RecoveriesTotal,
	}
}
