package models

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/docker/go-units"
	"github.com/docker/protein-runner/pkg/inference"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

var knownCapabilities = map[inference.Capability]bool{
	inference.CapabilityGeneration: true,
	inference.CapabilityAnalysis:   true,
	inference.CapabilityStructure:  true,
	inference.CapabilityDesign:     true,
}

// Catalog is the set of models the service can serve.
type Catalog struct {
	// Budget is the memory budget used when none is configured. Zero
	// means unset.
	Budget uint64
	// Models are listed in presentation order.
	Models []Spec
}

// Names returns the model names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Models))
	for i, m := range c.Models {
		names[i] = m.Name
	}
	return names
}

type catalogFile struct {
	Budget string       `yaml:"budget"`
	Models []modelEntry `yaml:"models"`
}

type modelEntry struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Memory       string   `yaml:"memory"`
	LoadLatency  string   `yaml:"load_latency"`
	Confidence   float64  `yaml:"confidence"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, errors.New("catalog lists no models")
	}

	c := &Catalog{}
	if file.Budget != "" {
		budget, err := units.RAMInBytes(file.Budget)
		if err != nil || budget <= 0 {
			return nil, fmt.Errorf("invalid budget %q", file.Budget)
		}
		c.Budget = uint64(budget)
	}

	seen := make(map[string]bool, len(file.Models))
	for i, m := range file.Models {
		spec, err := m.spec()
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", i, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("model %q listed twice", spec.Name)
		}
		seen[spec.Name] = true
		c.Models = append(c.Models, spec)
	}
	return c, nil
}

func (m modelEntry) spec() (Spec, error) {
	if !validName.MatchString(m.Name) {
		return Spec{}, fmt.Errorf("invalid name %q", m.Name)
	}
	if m.Kind == "" {
		return Spec{}, fmt.Errorf("%s: kind is required", m.Name)
	}
	footprint, err := units.RAMInBytes(m.Memory)
	if err != nil || footprint <= 0 {
		return Spec{}, fmt.Errorf("%s: invalid memory %q", m.Name, m.Memory)
	}
	var latency time.Duration
	if m.LoadLatency != "" {
		if latency, err = time.ParseDuration(m.LoadLatency); err != nil || latency < 0 {
			return Spec{}, fmt.Errorf("%s: invalid load_latency %q", m.Name, m.LoadLatency)
		}
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return Spec{}, fmt.Errorf("%s: confidence %g outside [0, 1]", m.Name, m.Confidence)
	}
	caps := make([]inference.Capability, 0, len(m.Capabilities))
	for _, name := range m.Capabilities {
		c := inference.Capability(name)
		if !knownCapabilities[c] {
			return Spec{}, fmt.Errorf("%s: unknown capability %q", m.Name, name)
		}
		caps = append(caps, c)
	}
	return Spec{
		Name:         m.Name,
		Kind:         m.Kind,
		Description:  m.Description,
		Capabilities: caps,
		Footprint:    uint64(footprint),
		LoadLatency:  latency,
		Confidence:   m.Confidence,
	}, nil
}
