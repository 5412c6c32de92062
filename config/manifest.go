package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/service"
)

// DependencySpec declares one dependency edge in the manifest. Required
// defaults to true; set `required: false` for a soft dependency.
type DependencySpec struct {
	Service  string   `yaml:"service"`
	Required *bool    `yaml:"required"`
	Timeout  Duration `yaml:"timeout"`
}

// ServiceSpec declares one service to create at startup.
type ServiceSpec struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"`
	Priority     string            `yaml:"priority"`
	Timeout      Duration          `yaml:"timeout"`
	DependsOn    []DependencySpec  `yaml:"depends_on"`
	Capabilities []string          `yaml:"capabilities"`
	Metadata     map[string]string `yaml:"metadata"`
	Config       map[string]any    `yaml:"config"`
}

// Manifest is the declarative list of services the registry creates on
// startup.
type Manifest struct {
	Services []ServiceSpec `yaml:"services"`
}

// LoadManifest reads and parses a manifest file. An empty path yields
// an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("manifest", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.NewConfiguration("manifest", fmt.Errorf("parse %s: %w", path, err))
	}
	return m, nil
}

// Descriptors converts the manifest into validated service descriptors.
func (m *Manifest) Descriptors() ([]service.Descriptor, error) {
	descs := make([]service.Descriptor, 0, len(m.Services))
	seen := make(map[string]struct{}, len(m.Services))

	for _, spec := range m.Services {
		if _, dup := seen[spec.Name]; dup {
			return nil, errors.NewConfiguration("manifest",
				fmt.Errorf("duplicate service %q", spec.Name))
		}
		seen[spec.Name] = struct{}{}

		desc, err := spec.descriptor()
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s ServiceSpec) descriptor() (service.Descriptor, error) {
	desc := service.Descriptor{
		Name:         s.Name,
		Type:         s.Type,
		Timeout:      s.Timeout.Std(),
		Capabilities: append([]string(nil), s.Capabilities...),
		Metadata:     s.Metadata,
	}

	if s.Priority != "" {
		prio, err := service.ParsePriority(s.Priority)
		if err != nil {
			return service.Descriptor{}, errors.NewConfiguration("manifest",
				fmt.Errorf("service %q: %w", s.Name, err))
		}
		desc.Priority = prio
	}

	for _, dep := range s.DependsOn {
		required := true
		if dep.Required != nil {
			required = *dep.Required
		}
		desc.Dependencies = append(desc.Dependencies, service.DependencyRef{
			Service:  dep.Service,
			Required: required,
			Timeout:  dep.Timeout.Std(),
		})
	}

	if len(s.Config) > 0 {
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return service.Descriptor{}, errors.NewConfiguration("manifest",
				fmt.Errorf("service %q config: %w", s.Name, err))
		}
		desc.Config = raw
	}

	desc = desc.WithDefaults()
	if err := desc.Validate(); err != nil {
		return service.Descriptor{}, err
	}
	return desc, nil
}
