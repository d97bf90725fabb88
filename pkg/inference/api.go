package inference

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"slices"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/protein/predict"
	"github.com/opencontainers/go-digest"
)

// Generation limits.
const (
	MinLength       = 1
	MaxLength       = 2000
	MinTemperature  = 0.0
	MaxTemperature  = 2.0
	MinNumSequences = 1
	MaxNumSequences = 50
	// DefaultLength is used when a request leaves length unset.
	DefaultLength = 100
	// DefaultTemperature is used when a request leaves temperature unset.
	DefaultTemperature = 0.8
)

// Recognised constraint names. Fractions are in [0, 1].
const (
	ConstraintHydrophobic      = "hydrophobic"
	ConstraintPolar            = "polar"
	ConstraintCharged          = "charged"
	ConstraintMolecularWeight  = "molecular_weight"
	ConstraintIsoelectricPoint = "isoelectric_point"
	ConstraintHydrophobicity   = "hydrophobicity"
)

var fractionConstraints = []string{ConstraintHydrophobic, ConstraintPolar, ConstraintCharged}

// Constraints map property names to target values.
type Constraints map[string]float64

// Validate rejects unknown names and out-of-range targets.
func (c Constraints) Validate() error {
	var total float64
	for name, v := range c {
		switch {
		case slices.Contains(fractionConstraints, name):
			if v < 0 || v > 1 {
				return errdefs.InvalidParameters("generate", "constraint %s must be a fraction in [0, 1], got %g", name, v)
			}
			total += v
		case name == ConstraintMolecularWeight:
			if v <= 0 {
				return errdefs.InvalidParameters("generate", "constraint %s must be positive, got %g", name, v)
			}
		case name == ConstraintIsoelectricPoint:
			if v < 0 || v > 14 {
				return errdefs.InvalidParameters("generate", "constraint %s must be within [0, 14], got %g", name, v)
			}
		case name == ConstraintHydrophobicity:
			if v < -4.5 || v > 4.5 {
				return errdefs.InvalidParameters("generate", "constraint %s must be within [-4.5, 4.5], got %g", name, v)
			}
		default:
			return errdefs.InvalidParameters("generate", "unknown constraint %q", name)
		}
	}
	if total > 1 {
		return errdefs.InvalidParameters("generate", "composition constraints sum to %g, more than 1", total)
	}
	return nil
}

// GenerationRequest asks for new sequences from a model.
type GenerationRequest struct {
	Model        string      `json:"model"`
	Length       int         `json:"length"`
	Temperature  float64     `json:"temperature"`
	NumSequences int         `json:"num_sequences"`
	Constraints  Constraints `json:"constraints,omitempty"`
	// Strict disables the synthetic fallback.
	Strict bool `json:"strict,omitempty"`
}

// Validate checks the numeric ranges of r.
func (r *GenerationRequest) Validate() error {
	if r.Length < MinLength || r.Length > MaxLength {
		return errdefs.InvalidParameters("generate", "length must be within [%d, %d], got %d", MinLength, MaxLength, r.Length)
	}
	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return errdefs.InvalidParameters("generate", "temperature must be within [%g, %g], got %g", MinTemperature, MaxTemperature, r.Temperature)
	}
	if r.NumSequences < MinNumSequences || r.NumSequences > MaxNumSequences {
		return errdefs.InvalidParameters("generate", "num_sequences must be within [%d, %d], got %d", MinNumSequences, MaxNumSequences, r.NumSequences)
	}
	return r.Constraints.Validate()
}

// DesignRequest asks for sequences biased towards a target function.
type DesignRequest struct {
	Model          string      `json:"model"`
	TargetFunction string      `json:"target_function"`
	Length         int         `json:"length"`
	Temperature    float64     `json:"temperature"`
	NumDesigns     int         `json:"num_designs"`
	Constraints    Constraints `json:"constraints,omitempty"`
	Strict         bool        `json:"strict,omitempty"`
}

// Validate checks the numeric ranges and target function of r.
func (r *DesignRequest) Validate() error {
	if !predict.IsFunction(r.TargetFunction) {
		return errdefs.InvalidParameters("design", "unknown target function %q", r.TargetFunction)
	}
	g := GenerationRequest{
		Length:       r.Length,
		Temperature:  r.Temperature,
		NumSequences: r.NumDesigns,
		Constraints:  r.Constraints,
	}
	return g.Validate()
}

// GeneratedProtein is one generated sequence with its analysis.
type GeneratedProtein struct {
	Sequence        string             `json:"sequence"`
	Confidence      float64            `json:"confidence"`
	ValidationScore float64            `json:"validation_score"`
	Properties      map[string]float64 `json:"properties"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

// GenerationResult is the outcome of a generation or design call.
type GenerationResult struct {
	ID             string             `json:"generation_id"`
	Model          string             `json:"model"`
	ModelUsed      string             `json:"model_used"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
	Proteins       []GeneratedProtein `json:"sequences"`
	Digest         digest.Digest      `json:"request_digest"`
	DurationMillis int64              `json:"generation_time_ms"`
}

// RequestDigest returns a stable digest of v's JSON encoding. Map keys are
// encoded in sorted order, so equal requests produce equal digests.
func RequestDigest(v any) digest.Digest {
	b, err := json.Marshal(v)
	if err != nil {
		// Request types are plain data; this only trips on programming
		// errors such as NaN constraints, which validation rejects.
		return digest.FromString(err.Error())
	}
	return digest.FromBytes(b)
}

// Seed derives a sampling seed from a digest.
func Seed(d digest.Digest) uint64 {
	b, err := hex.DecodeString(d.Encoded())
	if err != nil || len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[:8])
}
