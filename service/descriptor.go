package service

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/c360/servicekit/errors"
)

// Priority orders batch creation and startup. Lower values are handled
// first: a Critical tier is fully constructed and started before any
// Normal-tier service begins.
type Priority int

const (
	// PriorityCritical services are constructed and started first
	PriorityCritical Priority = iota
	// PriorityHigh services follow the critical tier
	PriorityHigh
	// PriorityNormal is the default tier
	PriorityNormal
	// PriorityLow services start after the normal tier
	PriorityLow
	// PriorityBackground services start last
	PriorityBackground
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority. Empty input maps
// to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "background":
		return PriorityBackground, nil
	default:
		return PriorityNormal, errors.NewConfiguration("priority",
			fmt.Errorf("unknown priority %q", s))
	}
}

// Timeout bounds for descriptor validation.
const (
	// DefaultTimeout is applied when a descriptor omits its timeout.
	DefaultTimeout = 30 * time.Second
	// MinTimeout is the lowest timeout a descriptor may declare.
	MinTimeout = time.Second
)

// DependencyRef declares a dependency on another service by name. Required
// dependencies block initialization and startup when unavailable; optional
// ones only produce warnings.
type DependencyRef struct {
	Service  string        `json:"service"`
	Required bool          `json:"required"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Descriptor is the immutable identity and configuration snapshot of a
// service. It is created once at registration and only ever replaced
// wholesale, never mutated in place.
type Descriptor struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Priority     Priority          `json:"priority"`
	Timeout      time.Duration     `json:"timeout"`
	Dependencies []DependencyRef   `json:"dependencies,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Config       json.RawMessage   `json:"config,omitempty"`
}

// WithDefaults returns a copy with the default timeout applied when unset.
func (d Descriptor) WithDefaults() Descriptor {
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeout
	}
	return d
}

// Validate checks the descriptor's required fields. The timeout check runs
// against the declared value, so an explicit sub-second timeout fails even
// though an omitted one would default.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.NewConfiguration("name", errors.ErrMissingName)
	}
	if d.Type == "" {
		return errors.NewConfiguration("type", errors.ErrMissingType)
	}
	if d.Timeout != 0 && d.Timeout < MinTimeout {
		return errors.NewConfiguration("timeout", errors.ErrTimeoutTooShort)
	}
	if d.Priority < PriorityCritical || d.Priority > PriorityBackground {
		return errors.NewConfiguration("priority",
			fmt.Errorf("priority %d outside valid range", int(d.Priority)))
	}
	seen := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if dep.Service == "" {
			return errors.NewConfiguration("dependencies",
				errors.New("dependency service name is required"))
		}
		if dep.Service == d.Name {
			return errors.NewConfiguration("dependencies",
				fmt.Errorf("service %q cannot depend on itself", d.Name))
		}
		if seen[dep.Service] {
			return errors.NewConfiguration("dependencies",
				fmt.Errorf("duplicate dependency %q", dep.Service))
		}
		seen[dep.Service] = true
	}
	return nil
}

// Clone returns a deep copy so callers can hand out descriptors without
// sharing mutable slices or maps.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Dependencies = slices.Clone(d.Dependencies)
	out.Capabilities = slices.Clone(d.Capabilities)
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		maps.Copy(out.Metadata, d.Metadata)
	}
	out.Config = slices.Clone(d.Config)
	return out
}

// DependencyNames returns the names of all declared dependencies.
func (d Descriptor) DependencyNames() []string {
	names := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		names = append(names, dep.Service)
	}
	return names
}

// RequiredDependencies returns the names of required dependencies only.
func (d Descriptor) RequiredDependencies() []string {
	var names []string
	for _, dep := range d.Dependencies {
		if dep.Required {
			names = append(names, dep.Service)
		}
	}
	return names
}
