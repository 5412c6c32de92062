package health

import (
	"sort"
	"time"

	"github.com/c360/servicekit/service"
)

// Classification is the coarse health grade assigned to a service or to
// the system as a whole.
type Classification string

const (
	Unknown   Classification = "unknown"
	Unhealthy Classification = "unhealthy"
	Degraded  Classification = "degraded"
	Healthy   Classification = "healthy"
)

// Level maps a classification onto an ordered scale for gauge export.
// Higher is better.
func (c Classification) Level() int {
	switch c {
	case Healthy:
		return 3
	case Degraded:
		return 2
	case Unhealthy:
		return 1
	default:
		return 0
	}
}

// Thresholds holds the error-rate boundaries used to classify a single
// service, and the unhealthy-ratio boundary used for the system view.
type Thresholds struct {
	// Degraded is the error rate at or above which a running service
	// is considered degraded.
	Degraded float64

	// Unhealthy is the error rate at or above which a running service
	// is considered unhealthy.
	Unhealthy float64

	// SystemDegraded is the fraction of unhealthy services at or below
	// which the system as a whole is considered degraded rather than
	// unhealthy.
	SystemDegraded float64
}

// DefaultThresholds returns the standard boundaries: below 5% errors is
// healthy, below 20% is degraded, anything above is unhealthy. The
// system tolerates up to 20% unhealthy services before it is itself
// marked unhealthy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Degraded:       0.05,
		Unhealthy:      0.20,
		SystemDegraded: 0.20,
	}
}

// Classify grades an error rate against the thresholds.
func Classify(errorRate float64, th Thresholds) Classification {
	switch {
	case errorRate >= th.Unhealthy:
		return Unhealthy
	case errorRate >= th.Degraded:
		return Degraded
	default:
		return Healthy
	}
}

// Record is one health observation for a single service.
type Record struct {
	Service   string         `json:"service"`
	State     service.State  `json:"state"`
	Health    Classification `json:"health"`
	ErrorRate float64        `json:"error_rate"`
	Uptime    time.Duration  `json:"uptime"`
	LastCheck time.Time      `json:"last_check"`
	Message   string         `json:"message,omitempty"`
}

// FromSnapshot converts a service snapshot and the probe outcome into a
// health record. A failed probe is unhealthy regardless of error rate; a
// passing probe is graded by its observed error rate.
func FromSnapshot(snap service.Snapshot, healthy bool, th Thresholds) Record {
	rec := Record{
		Service:   snap.Name,
		State:     snap.State,
		ErrorRate: snap.ErrorRate,
		Uptime:    snap.Uptime,
		LastCheck: time.Now(),
	}
	if !healthy {
		rec.Health = Unhealthy
		if snap.LastError != "" {
			rec.Message = snap.LastError
		}
		return rec
	}
	rec.Health = Classify(snap.ErrorRate, th)
	return rec
}

// SystemHealth is the aggregated view across all monitored services.
type SystemHealth struct {
	Overall   Classification `json:"overall"`
	Healthy   int            `json:"healthy"`
	Degraded  int            `json:"degraded"`
	Unhealthy int            `json:"unhealthy"`
	Unknown   int            `json:"unknown"`
	Total     int            `json:"total"`
	Affected  []string       `json:"affected,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// AggregateSystem folds per-service records into a system
// classification. With no unhealthy or unknown services the system is
// healthy (or degraded, when individual services are degraded); a small
// unhealthy fraction within the threshold degrades the system, and
// anything beyond marks it unhealthy. Affected lists the unhealthy and
// unknown services in sorted order.
func AggregateSystem(records map[string]Record, th Thresholds) SystemHealth {
	sys := SystemHealth{CheckedAt: time.Now(), Total: len(records)}
	for name, rec := range records {
		switch rec.Health {
		case Healthy:
			sys.Healthy++
		case Degraded:
			sys.Degraded++
		case Unhealthy:
			sys.Unhealthy++
			sys.Affected = append(sys.Affected, name)
		default:
			sys.Unknown++
			sys.Affected = append(sys.Affected, name)
		}
	}
	sort.Strings(sys.Affected)

	if sys.Total == 0 {
		sys.Overall = Healthy
		return sys
	}
	ratio := float64(sys.Unhealthy+sys.Unknown) / float64(sys.Total)
	switch {
	case ratio == 0 && sys.Degraded == 0:
		sys.Overall = Healthy
	case ratio <= th.SystemDegraded:
		sys.Overall = Degraded
	default:
		sys.Overall = Unhealthy
	}
	return sys
}
