// Package plm adapts protein language models. Sequences are sampled residue
// by residue from a background profile reshaped by the request's
// constraints, bias and temperature.
package plm

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/backends"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/protein/predict"
)

// Kind is the catalog kind served by this package.
const Kind = "plm"

// maxRun is the longest homopolymer run the sampler emits.
const maxRun = 3

// Config describes one language model.
type Config struct {
	Name        string
	LoadLatency time.Duration
	// Analysis enables function, stability and interaction prediction.
	Analysis bool
	// Confidence is the model's confidence at its tuned temperature.
	Confidence float64
}

// Model is a generation-only language model.
type Model struct {
	*backends.Lifecycle
	confidence float64
}

// AnalyzingModel is a language model that also annotates sequences.
type AnalyzingModel struct {
	*Model
}

// New creates the adapter for cfg. The result implements
// inference.Generator, and inference.Analyzer when cfg.Analysis is set.
func New(log logging.Logger, cfg Config) inference.Backend {
	m := &Model{
		Lifecycle:  backends.NewLifecycle(log, cfg.Name, cfg.LoadLatency),
		confidence: cfg.Confidence,
	}
	if m.confidence <= 0 {
		m.confidence = 0.85
	}
	if cfg.Analysis {
		return &AnalyzingModel{Model: m}
	}
	return m
}

// Generate samples params.Count sequences. Each sequence draws from its own
// stream of params.Seed so results do not depend on Count.
func (m *Model) Generate(ctx context.Context, params inference.GenerateParams) ([]inference.Candidate, error) {
	if err := m.Ready("generate"); err != nil {
		return nil, err
	}
	profile := backends.Background().
		Steer(params.Constraints).
		Biased(params.Bias).
		Tempered(params.Temperature)
	confidence := backends.TemperatureConfidence(m.confidence, params.Temperature)

	out := make([]inference.Candidate, 0, params.Count)
	for i := range params.Count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := backends.NewRand(params.Seed, uint64(i))
		out = append(out, inference.Candidate{
			Sequence:   sample(rng, profile, params.Length),
			Confidence: backends.Jitter(rng, confidence, 0.03),
		})
	}
	return out, nil
}

// sample draws length residues starting from methionine and redraws to keep
// homopolymer runs short.
func sample(rng *rand.Rand, profile backends.Profile, length int) string {
	seq := make([]byte, 0, length)
	if length > 0 {
		seq = append(seq, 'M')
	}
	for len(seq) < length {
		r := profile.Draw(rng)
		for attempt := 0; attempt < 5 && runLength(seq, r) >= maxRun; attempt++ {
			r = profile.Draw(rng)
		}
		seq = append(seq, r)
	}
	return string(seq)
}

// runLength counts how many trailing residues of seq equal r.
func runLength(seq []byte, r byte) int {
	n := 0
	for i := len(seq) - 1; i >= 0 && seq[i] == r; i-- {
		n++
	}
	return n
}

func (m *AnalyzingModel) boost(c float64) float64 {
	return math.Round(min(0.99, c+0.1*m.confidence)*1000) / 1000
}

// PredictFunction annotates seq with the model's calibrated confidence.
func (m *AnalyzingModel) PredictFunction(ctx context.Context, seq string) (*predict.Function, error) {
	if err := m.Ready("predict_function"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := predict.PredictFunction(seq)
	if err != nil {
		return nil, err
	}
	f.Confidence = m.boost(f.Confidence)
	f.Method = m.Name()
	return f, nil
}

// AnalyzeStability estimates stability under c.
func (m *AnalyzingModel) AnalyzeStability(ctx context.Context, seq string, c predict.Conditions) (*predict.Stability, error) {
	if err := m.Ready("analyze_stability"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := predict.AnalyzeStability(seq, c)
	if err != nil {
		return nil, err
	}
	s.Method = m.Name()
	return s, nil
}

// PredictInteractions lists likely partners of the given kind.
func (m *AnalyzingModel) PredictInteractions(ctx context.Context, seq string, kind predict.InteractionKind) (*predict.Interactions, error) {
	if err := m.Ready("predict_interactions"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := predict.PredictInteractions(seq, kind)
	if err != nil {
		return nil, err
	}
	in.Method = m.Name()
	return in, nil
}
