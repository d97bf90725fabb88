// Package fold adapts structure-aware design models. Generation assembles
// sequences from helix, strand and loop segments so that designs carry
// plausible secondary structure.
package fold

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/backends"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/protein/optimize"
	"github.com/docker/protein-runner/pkg/protein/predict"
)

// Kind is the catalog kind served by this package.
const Kind = "fold"

// Residue sets favoured by each segment type.
const (
	helixFormers  = "AELMQKRH"
	strandFormers = "VIYFWT"
	loopFormers   = "GPNDS"
)

type segment struct {
	profile  backends.Profile
	min, max int
}

var segments = []segment{
	{profile: backends.FromSet(helixFormers, 6), min: 8, max: 18},
	{profile: backends.FromSet(strandFormers, 6), min: 4, max: 8},
	{profile: backends.FromSet(loopFormers, 6), min: 2, max: 6},
}

// Config describes one design model.
type Config struct {
	Name        string
	LoadLatency time.Duration
	Confidence  float64
}

// Model implements inference.Generator, inference.StructurePredictor and
// inference.Optimizer.
type Model struct {
	*backends.Lifecycle
	confidence float64
}

// New creates the adapter for cfg.
func New(log logging.Logger, cfg Config) *Model {
	m := &Model{
		Lifecycle:  backends.NewLifecycle(log, cfg.Name, cfg.LoadLatency),
		confidence: cfg.Confidence,
	}
	if m.confidence <= 0 {
		m.confidence = 0.8
	}
	return m
}

// Generate assembles params.Count sequences from alternating structural
// segments. Loops separate every structured segment.
func (m *Model) Generate(ctx context.Context, params inference.GenerateParams) ([]inference.Candidate, error) {
	if err := m.Ready("generate"); err != nil {
		return nil, err
	}
	profiles := make([]backends.Profile, len(segments))
	for i, s := range segments {
		profiles[i] = s.profile.
			Steer(params.Constraints).
			Biased(params.Bias).
			Tempered(params.Temperature)
	}
	confidence := backends.TemperatureConfidence(m.confidence, params.Temperature)

	out := make([]inference.Candidate, 0, params.Count)
	for i := range params.Count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := backends.NewRand(params.Seed, uint64(i))
		out = append(out, inference.Candidate{
			Sequence:   assemble(rng, profiles, params.Length),
			Confidence: backends.Jitter(rng, confidence, 0.04),
		})
	}
	return out, nil
}

func assemble(rng *rand.Rand, profiles []backends.Profile, length int) string {
	seq := make([]byte, 0, length)
	loop := len(segments) - 1
	kind := loop
	for len(seq) < length {
		if kind == loop {
			kind = rng.IntN(loop)
		} else {
			kind = loop
		}
		s := segments[kind]
		n := s.min + rng.IntN(s.max-s.min+1)
		for j := 0; j < n && len(seq) < length; j++ {
			seq = append(seq, profiles[kind].Draw(rng))
		}
	}
	return string(seq)
}

// PredictStructure builds a C-alpha model of seq.
func (m *Model) PredictStructure(ctx context.Context, seq string) (*predict.Structure, error) {
	if err := m.Ready("predict_structure"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := predict.PredictStructure(seq)
	if err != nil {
		return nil, err
	}
	s.Method = m.Name()
	return s, nil
}

// Optimize applies the objective strategies with a source seeded from seed.
func (m *Model) Optimize(ctx context.Context, req optimize.Request, seed uint64) (*optimize.Result, error) {
	if err := m.Ready("optimize"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return optimize.Optimize(backends.NewRand(seed, 0), req)
}
