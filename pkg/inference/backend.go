package inference

import (
	"context"

	"github.com/docker/protein-runner/pkg/protein/optimize"
	"github.com/docker/protein-runner/pkg/protein/predict"
)

// Capability tags an operation family a model supports.
type Capability string

const (
	// CapabilityGeneration marks models that sample new sequences.
	CapabilityGeneration Capability = "generation"
	// CapabilityAnalysis marks models that predict function, stability and
	// interactions.
	CapabilityAnalysis Capability = "analysis"
	// CapabilityStructure marks models that predict 3D structure.
	CapabilityStructure Capability = "structure"
	// CapabilityDesign marks models that design and optimize sequences.
	CapabilityDesign Capability = "design"
)

// Backend is the interface implemented by every model adapter. Load and
// Unload are never called concurrently for one backend; the registry
// serializes transitions. Capability methods may be called concurrently
// while the backend is loaded.
type Backend interface {
	// Name returns the model name. It must be lowercase and usable as an
	// HTTP path component.
	Name() string
	// Load makes the model ready for use. It should honour ctx cancellation
	// and must leave the backend unloaded when it fails.
	Load(ctx context.Context) error
	// Unload releases the model's resources. Unloading an unloaded backend
	// is not an error.
	Unload(ctx context.Context) error
}

// GenerateParams parameterize a sampling call.
type GenerateParams struct {
	Length      int
	Temperature float64
	Count       int
	// Seed makes sampling reproducible for identical requests.
	Seed uint64
	// Constraints are target property values (see Constraints).
	Constraints Constraints
	// Bias multiplies the sampling weight of individual residues.
	Bias map[byte]float64
}

// Candidate is one raw sampled sequence.
type Candidate struct {
	Sequence   string
	Confidence float64
}

// Generator is implemented by backends that sample sequences.
type Generator interface {
	Backend
	Generate(ctx context.Context, params GenerateParams) ([]Candidate, error)
}

// Analyzer is implemented by backends that annotate sequences.
type Analyzer interface {
	Backend
	PredictFunction(ctx context.Context, seq string) (*predict.Function, error)
	AnalyzeStability(ctx context.Context, seq string, c predict.Conditions) (*predict.Stability, error)
	PredictInteractions(ctx context.Context, seq string, kind predict.InteractionKind) (*predict.Interactions, error)
}

// StructurePredictor is implemented by backends that predict structure.
type StructurePredictor interface {
	Backend
	PredictStructure(ctx context.Context, seq string) (*predict.Structure, error)
}

// Optimizer is implemented by design-capable backends.
type Optimizer interface {
	Backend
	Optimize(ctx context.Context, req optimize.Request, seed uint64) (*optimize.Result, error)
}

// History is a read-only source of previously stored sequences. It is
// optional; a nil History means no historical context is available.
type History interface {
	RecentSequences(ctx context.Context, limit int) ([]string, error)
}
