package registry

import (
	"slices"
	"sort"

	"github.com/c360/servicekit/health"
	"github.com/c360/servicekit/service"
)

// Criteria filters services for discovery. All set fields must match.
type Criteria struct {
	// Type matches the service type exactly.
	Type string

	// Capabilities must all be advertised by the service.
	Capabilities []string

	// States matches any of the given lifecycle states.
	States []service.State

	// Health matches the latest monitored classification. Services
	// never checked have no classification and do not match.
	Health health.Classification

	// Metadata entries must all be present with equal values.
	Metadata map[string]string
}

// DiscoverServices returns the services matching every criterion,
// sorted by name.
func (r *Registry) DiscoverServices(criteria Criteria) []service.Service {
	r.mu.RLock()
	candidates := make(map[string]service.Service, len(r.services))
	for name, svc := range r.services {
		candidates[name] = svc
	}
	r.mu.RUnlock()

	var matched []service.Service
	for name, svc := range candidates {
		if !r.matches(name, svc, criteria) {
			continue
		}
		matched = append(matched, svc)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Name() < matched[j].Name()
	})
	return matched
}

func (r *Registry) matches(name string, svc service.Service, criteria Criteria) bool {
	if criteria.Type != "" && svc.Type() != criteria.Type {
		return false
	}
	if len(criteria.Capabilities) > 0 {
		have := svc.Capabilities()
		for _, want := range criteria.Capabilities {
			if !slices.Contains(have, want) {
				return false
			}
		}
	}
	if len(criteria.States) > 0 && !slices.Contains(criteria.States, svc.State()) {
		return false
	}
	if criteria.Health != "" {
		rec, ok := r.monitor.Latest(name)
		if !ok || rec.Health != criteria.Health {
			return false
		}
	}
	if len(criteria.Metadata) > 0 {
		meta := svc.Descriptor().Metadata
		for k, v := range criteria.Metadata {
			if meta[k] != v {
				return false
			}
		}
	}
	return true
}
