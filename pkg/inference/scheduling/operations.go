package scheduling

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/backends"
	"github.com/docker/protein-runner/pkg/internal/utils"
	"github.com/docker/protein-runner/pkg/protein/comparison"
	"github.com/docker/protein-runner/pkg/protein/mutation"
	"github.com/docker/protein-runner/pkg/protein/optimize"
	"github.com/docker/protein-runner/pkg/protein/predict"
	"github.com/docker/protein-runner/pkg/protein/sequence"
	"github.com/google/uuid"
)

// SequenceRequest names a sequence and, optionally, the model to analyse
// it with.
type SequenceRequest struct {
	Sequence string `json:"sequence"`
	Model    string `json:"model,omitempty"`
	// Strict disables the heuristic fallback.
	Strict bool `json:"strict,omitempty"`
}

// StabilityRequest asks for a stability estimate under conditions.
type StabilityRequest struct {
	SequenceRequest
	Temperature float64 `json:"temperature"`
	PH          float64 `json:"ph"`
}

// InteractionRequest asks for interaction sites of one kind.
type InteractionRequest struct {
	SequenceRequest
	InteractionType string `json:"interaction_type"`
}

// OptimizeRequest asks for an optimized variant of a sequence.
type OptimizeRequest struct {
	SequenceRequest
	Objectives   []string `json:"objectives"`
	MaxMutations int      `json:"max_mutations"`
	Conservative bool     `json:"preserve_function"`
}

// MutateRequest asks for mutated variants of a sequence.
type MutateRequest struct {
	Sequence     string `json:"sequence"`
	MutationType string `json:"mutation_type"`
	NumMutations int    `json:"num_mutations"`
	NumVariants  int    `json:"num_variants"`
}

// MutateResult lists the generated variants.
type MutateResult struct {
	Original string              `json:"original_sequence"`
	Variants []*mutation.Variant `json:"variants"`
}

// CompareRequest asks for a pairwise comparison. IncludeHistory appends up
// to that many stored sequences when a history source is configured.
type CompareRequest struct {
	Sequences      []string `json:"sequences"`
	IncludeHistory int      `json:"include_history,omitempty"`
}

// maxHistory bounds IncludeHistory.
const maxHistory = 20

// functionBias weights residues characteristic of each target function.
var functionBias = map[string]map[byte]float64{
	"enzyme":             {'H': 1.8, 'C': 1.5, 'D': 1.5, 'E': 1.3, 'S': 1.3, 'G': 1.3, 'K': 1.2},
	"binding_protein":    {'W': 2.0, 'Y': 1.8, 'F': 1.5, 'H': 1.4, 'R': 1.2},
	"structural_protein": {'G': 1.8, 'P': 1.6, 'A': 1.3, 'S': 1.2},
	"transport_protein":  {'L': 1.6, 'I': 1.6, 'V': 1.5, 'F': 1.4, 'A': 1.2},
	"dna_binding":        {'K': 2.0, 'R': 2.0, 'H': 1.5, 'C': 1.3, 'S': 1.1},
}

func (d *Dispatcher) normalized(op, seq string) (string, error) {
	seq = sequence.Normalize(seq)
	if seq == "" {
		return "", errdefs.InvalidSequence(op, "sequence is empty")
	}
	d.log.Debugf("%s: %s", op, utils.AbbreviateSequence(seq))
	return seq, nil
}

// residues is normalized for the byte-indexed predictors and models.
func (d *Dispatcher) residues(op, seq string) (string, error) {
	seq, err := d.normalized(op, seq)
	return sequence.ASCII(seq), err
}

// Design generates sequences biased towards the target function and ranks
// them by the predicted probability of that function.
func (d *Dispatcher) Design(ctx context.Context, req inference.DesignRequest) (*inference.GenerationResult, error) {
	start := time.Now()
	req.TargetFunction = strings.ToLower(strings.TrimSpace(req.TargetFunction))
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rt := d.route("design", req.Model, req.Strict, inference.CapabilityDesign)
	req.Model = rt.model
	dgst := inference.RequestDigest(req)
	params := inference.GenerateParams{
		Length:      req.Length,
		Temperature: req.Temperature,
		Count:       req.NumDesigns,
		Seed:        inference.Seed(dgst),
		Constraints: req.Constraints,
		Bias:        functionBias[req.TargetFunction],
	}
	resp, err := invoke(ctx, d, rt,
		func(ctx context.Context, g inference.Generator) ([]inference.Candidate, error) {
			return g.Generate(ctx, params)
		},
		func() ([]inference.Candidate, error) {
			return d.synthesize(dgst.String(), params), nil
		})
	if err != nil {
		return nil, err
	}
	proteins, err := finish(rt, resp, params)
	if err != nil {
		return nil, err
	}

	fit := make(map[string]float64, len(proteins))
	for i := range proteins {
		f, err := predict.PredictFunction(proteins[i].Sequence)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInternal, rt.op, err, "scoring design")
		}
		p := f.Probability(req.TargetFunction)
		fit[proteins[i].Sequence] = p
		proteins[i].Metadata["target_function"] = req.TargetFunction
		proteins[i].Properties["target_function_probability"] = p
	}
	slices.SortStableFunc(proteins, func(a, b inference.GeneratedProtein) int {
		switch pa, pb := fit[a.Sequence], fit[b.Sequence]; {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		}
		return 0
	})

	return &inference.GenerationResult{
		ID:             uuid.NewString(),
		Model:          rt.model,
		ModelUsed:      resp.ModelUsed,
		FallbackReason: resp.FallbackReason,
		Proteins:       proteins,
		Digest:         dgst,
		DurationMillis: time.Since(start).Milliseconds(),
	}, nil
}

// PredictFunction predicts functional categories, domains and localization.
func (d *Dispatcher) PredictFunction(ctx context.Context, req SequenceRequest) (*Response[*predict.Function], error) {
	seq, err := d.residues("predict_function", req.Sequence)
	if err != nil {
		return nil, err
	}
	rt := d.route("predict_function", req.Model, req.Strict, inference.CapabilityAnalysis)
	return invoke(ctx, d, rt,
		func(ctx context.Context, a inference.Analyzer) (*predict.Function, error) {
			return a.PredictFunction(ctx, seq)
		},
		func() (*predict.Function, error) {
			return predict.PredictFunction(seq)
		})
}

// AnalyzeStability estimates stability under the requested conditions.
func (d *Dispatcher) AnalyzeStability(ctx context.Context, req StabilityRequest) (*Response[*predict.Stability], error) {
	seq, err := d.residues("analyze_stability", req.Sequence)
	if err != nil {
		return nil, err
	}
	conditions := predict.Conditions{Temperature: req.Temperature, PH: req.PH}
	rt := d.route("analyze_stability", req.Model, req.Strict, inference.CapabilityAnalysis)
	return invoke(ctx, d, rt,
		func(ctx context.Context, a inference.Analyzer) (*predict.Stability, error) {
			return a.AnalyzeStability(ctx, seq, conditions)
		},
		func() (*predict.Stability, error) {
			return predict.AnalyzeStability(seq, conditions)
		})
}

// PredictInteractions predicts interaction sites of the requested kind.
func (d *Dispatcher) PredictInteractions(ctx context.Context, req InteractionRequest) (*Response[*predict.Interactions], error) {
	seq, err := d.residues("predict_interactions", req.Sequence)
	if err != nil {
		return nil, err
	}
	kind, err := predict.ParseInteractionKind(req.InteractionType)
	if err != nil {
		return nil, err
	}
	rt := d.route("predict_interactions", req.Model, req.Strict, inference.CapabilityAnalysis)
	return invoke(ctx, d, rt,
		func(ctx context.Context, a inference.Analyzer) (*predict.Interactions, error) {
			return a.PredictInteractions(ctx, seq, kind)
		},
		func() (*predict.Interactions, error) {
			return predict.PredictInteractions(seq, kind)
		})
}

// PredictStructure predicts a backbone trace and PDB rendering.
func (d *Dispatcher) PredictStructure(ctx context.Context, req SequenceRequest) (*Response[*predict.Structure], error) {
	seq, err := d.residues("predict_structure", req.Sequence)
	if err != nil {
		return nil, err
	}
	rt := d.route("predict_structure", req.Model, req.Strict, inference.CapabilityStructure)
	return invoke(ctx, d, rt,
		func(ctx context.Context, s inference.StructurePredictor) (*predict.Structure, error) {
			return s.PredictStructure(ctx, seq)
		},
		func() (*predict.Structure, error) {
			return predict.PredictStructure(seq)
		})
}

// Optimize improves a sequence towards the requested objectives. The
// search is seeded by the request, so repeated requests agree.
func (d *Dispatcher) Optimize(ctx context.Context, req OptimizeRequest) (*Response[*optimize.Result], error) {
	seq, err := d.residues("optimize", req.Sequence)
	if err != nil {
		return nil, err
	}
	objectives, err := optimize.ParseObjectives(req.Objectives)
	if err != nil {
		return nil, err
	}
	rt := d.route("optimize", req.Model, req.Strict, inference.CapabilityDesign)
	req.Sequence, req.Model = seq, rt.model
	seed := inference.Seed(inference.RequestDigest(req))
	oreq := optimize.Request{
		Sequence:     seq,
		Objectives:   objectives,
		MaxMutations: req.MaxMutations,
		Conservative: req.Conservative,
	}
	return invoke(ctx, d, rt,
		func(ctx context.Context, o inference.Optimizer) (*optimize.Result, error) {
			return o.Optimize(ctx, oreq, seed)
		},
		func() (*optimize.Result, error) {
			return optimize.Optimize(backends.NewRand(seed, 0), oreq)
		})
}

// Mutate generates variants of a sequence. No model is involved; the
// request seeds the engine.
func (d *Dispatcher) Mutate(_ context.Context, req MutateRequest) (*MutateResult, error) {
	start := time.Now()
	res, err := d.mutate(req)
	d.metrics.ObserveRequest("mutate", "", err, time.Since(start))
	return res, err
}

func (d *Dispatcher) mutate(req MutateRequest) (*MutateResult, error) {
	seq, err := d.normalized("mutate", req.Sequence)
	if err != nil {
		return nil, err
	}
	kind, err := mutation.ParseType(req.MutationType)
	if err != nil {
		return nil, err
	}
	req.Sequence = seq
	engine := mutation.NewSeeded(inference.Seed(inference.RequestDigest(req)))
	variants, err := engine.MutateMany(seq, kind, req.NumMutations, req.NumVariants)
	if err != nil {
		return nil, err
	}
	return &MutateResult{Original: seq, Variants: variants}, nil
}

// Compare scores every pair of sequences, optionally extended with stored
// sequences from the history source.
func (d *Dispatcher) Compare(ctx context.Context, req CompareRequest) (*comparison.Matrix, error) {
	start := time.Now()
	m, err := d.compare(ctx, req)
	d.metrics.ObserveRequest("compare", "", err, time.Since(start))
	return m, err
}

func (d *Dispatcher) compare(ctx context.Context, req CompareRequest) (*comparison.Matrix, error) {
	if req.IncludeHistory < 0 || req.IncludeHistory > maxHistory {
		return nil, errdefs.InvalidParameters("compare", "include_history must be within [0, %d], got %d", maxHistory, req.IncludeHistory)
	}
	seqs := make([]string, 0, len(req.Sequences)+req.IncludeHistory)
	for _, s := range req.Sequences {
		seqs = append(seqs, sequence.Normalize(s))
	}
	if req.IncludeHistory > 0 && d.history != nil {
		stored, err := d.history.RecentSequences(ctx, req.IncludeHistory)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInternal, "compare", err, "reading sequence history")
		}
		seqs = append(seqs, stored...)
	}
	return comparison.Compare(seqs)
}

// Validate scores a sequence's validity. It never fails for non-empty
// input; invalid characters lower the score instead.
func (d *Dispatcher) Validate(_ context.Context, req SequenceRequest) (*sequence.Validation, error) {
	seq, err := d.normalized("validate", req.Sequence)
	if err != nil {
		return nil, err
	}
	v := sequence.Validate(seq)
	return &v, nil
}

// AnalyzeProperties computes composition and physicochemical properties.
func (d *Dispatcher) AnalyzeProperties(_ context.Context, req SequenceRequest) (*sequence.Report, error) {
	seq, err := d.normalized("analyze_properties", req.Sequence)
	if err != nil {
		return nil, err
	}
	return sequence.Analyze(seq)
}
