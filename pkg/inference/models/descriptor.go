package models

import (
	"slices"
	"time"

	"github.com/docker/go-units"
	"github.com/docker/protein-runner/pkg/inference"
)

// State is a model's lifecycle state.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
	StateFailed    State = "failed"
)

// Spec is the static catalog description of a model.
type Spec struct {
	// Name is the model identifier used in requests.
	Name string
	// Kind selects the adapter family that serves the model.
	Kind string
	// Description is a short human readable summary.
	Description string
	// Capabilities lists the operation families the model supports.
	Capabilities []inference.Capability
	// Footprint is the memory the model occupies while loaded, in bytes.
	Footprint uint64
	// LoadLatency simulates the time a load takes.
	LoadLatency time.Duration
	// Confidence is the adapter's baseline confidence. Zero selects the
	// adapter default.
	Confidence float64
}

// Has reports whether the model advertises c.
func (s Spec) Has(c inference.Capability) bool {
	return slices.Contains(s.Capabilities, c)
}

// Descriptor is a point-in-time view of a model.
type Descriptor struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Capabilities []inference.Capability `json:"capabilities"`
	Footprint    uint64                 `json:"memory_bytes"`
	Memory       string                 `json:"memory"`
	State        State                  `json:"state"`
	Loaded       bool                   `json:"loaded"`
	References   uint                   `json:"in_flight"`
	LastUsed     *time.Time             `json:"last_used,omitempty"`
	LoadedAt     *time.Time             `json:"loaded_at,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
}

// Health summarises the registry.
type Health struct {
	ModelsLoaded int      `json:"models_loaded"`
	LoadedModels []string `json:"loaded_models"`
	MemoryUsed   uint64   `json:"memory_used_bytes"`
	MemoryBudget uint64   `json:"memory_budget_bytes"`
	Memory       string   `json:"memory"`
	Available    []string `json:"available_models"`
}

// humanSize formats a byte count the way catalog files write it.
func humanSize(n uint64) string {
	return units.BytesSize(float64(n))
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
