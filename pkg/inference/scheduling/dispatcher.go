package scheduling

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/models"
	"github.com/docker/protein-runner/pkg/internal/utils"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/metrics"
	"github.com/docker/protein-runner/pkg/protein/sequence"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultInvocationTimeout bounds a single model call.
	DefaultInvocationTimeout = 30 * time.Second
	// SyntheticModel is reported as the model used when a request is served
	// without a model.
	SyntheticModel = "synthetic-fallback"
)

// defaultModels selects a model for requests that name none.
var defaultModels = map[inference.Capability]string{
	inference.CapabilityGeneration: "protgpt2",
	inference.CapabilityAnalysis:   "protflash",
	inference.CapabilityStructure:  "geneverse",
	inference.CapabilityDesign:     "geneverse",
}

// Config tunes a Dispatcher.
type Config struct {
	// InvocationTimeout bounds each model call. Zero means
	// DefaultInvocationTimeout.
	InvocationTimeout time.Duration
	// DefaultModels overrides the model used per capability when a request
	// leaves the model empty.
	DefaultModels map[inference.Capability]string
}

// Served names the model that produced a result. FallbackReason is set
// when the request was served without a model.
type Served struct {
	ModelUsed      string `json:"model_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Response wraps an operation result with the model that produced it.
type Response[T any] struct {
	Served
	Result T `json:"result"`
}

// Dispatcher routes requests to capable models and falls back to
// deterministic heuristics when no model can serve them.
type Dispatcher struct {
	// log is the associated logger.
	log logging.Logger
	// registry is the shared model registry.
	registry *models.Registry
	// metrics records request outcomes. It may be nil.
	metrics *metrics.Collector
	// history is an optional source of stored sequences.
	history inference.History
	// timeout bounds each model call.
	timeout time.Duration
	// defaults maps capabilities to default model names.
	defaults map[inference.Capability]string
	// fallbacks deduplicates concurrent identical synthetic generations.
	fallbacks singleflight.Group
}

// NewDispatcher creates a dispatcher over registry. history may be nil.
func NewDispatcher(log logging.Logger, registry *models.Registry, m *metrics.Collector, history inference.History, cfg Config) *Dispatcher {
	timeout := cfg.InvocationTimeout
	if timeout <= 0 {
		timeout = DefaultInvocationTimeout
	}
	defaults := make(map[inference.Capability]string, len(defaultModels))
	for c, name := range defaultModels {
		defaults[c] = name
	}
	for c, name := range cfg.DefaultModels {
		defaults[c] = strings.ToLower(name)
	}
	return &Dispatcher{
		log:      log,
		registry: registry,
		metrics:  m,
		history:  history,
		timeout:  timeout,
		defaults: defaults,
	}
}

// route describes one capability-routed call.
type route struct {
	op         string
	model      string
	strict     bool
	capability inference.Capability
}

func (d *Dispatcher) route(op, model string, strict bool, c inference.Capability) route {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		model = d.defaults[c]
	}
	return route{op: op, model: model, strict: strict, capability: c}
}

// canFallBack reports whether a non-strict request survives an
// acquisition failure by falling back.
func canFallBack(err error) bool {
	switch errdefs.KindOf(err) {
	case errdefs.KindUnknownModel, errdefs.KindModelUnavailable, errdefs.KindMemoryBudgetExceeded:
		return true
	}
	return false
}

type outcome[R any] struct {
	value R
	err   error
}

// invoke acquires rt's model, checks that it implements B and runs call
// under the invocation timeout. The model stays pinned until call returns,
// even when the caller has already given up on it. When the model cannot be
// acquired and rt is not strict, fallback serves the request instead.
func invoke[B inference.Backend, R any](ctx context.Context, d *Dispatcher, rt route, call func(context.Context, B) (R, error), fallback func() (R, error)) (*Response[R], error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindTimeout, rt.op, err, "request cancelled")
	}
	backend, release, err := d.acquire(ctx, rt)
	var capable B
	if err == nil {
		var ok bool
		if capable, ok = backend.(B); !ok {
			release()
			err = errdefs.New(errdefs.KindModelUnavailable, rt.op, "model %s does not implement %s", rt.model, rt.capability)
		}
	}
	if err != nil {
		if !canFallBack(err) {
			d.metrics.ObserveRequest(rt.op, rt.model, err, time.Since(start))
			return nil, err
		}
		if rt.strict {
			err = errdefs.Wrap(errdefs.KindModelUnavailable, rt.op, err, "model %s is unavailable", rt.model)
			d.metrics.ObserveRequest(rt.op, rt.model, err, time.Since(start))
			return nil, err
		}
		reason := errdefs.KindOf(err)
		d.log.Warnf("%s: serving without model %s (%s): %v", rt.op, utils.SanitizeForLog(rt.model), reason, err)
		d.metrics.ObserveFallback(rt.op, string(reason))
		value, ferr := fallback()
		d.metrics.ObserveRequest(rt.op, SyntheticModel, ferr, time.Since(start))
		if ferr != nil {
			return nil, ferr
		}
		return &Response[R]{
			Served: Served{ModelUsed: SyntheticModel, FallbackReason: err.Error()},
			Result: value,
		}, nil
	}

	ictx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	done := make(chan outcome[R], 1)
	go func() {
		defer release()
		value, err := call(ictx, capable)
		done <- outcome[R]{value, err}
	}()

	var o outcome[R]
	select {
	case o = <-done:
	case <-ictx.Done():
		select {
		case o = <-done:
		default:
			o.err = ictx.Err()
		}
	}
	if o.err != nil {
		o.err = d.invocationError(ctx, rt, o.err)
		d.metrics.ObserveRequest(rt.op, rt.model, o.err, time.Since(start))
		return nil, o.err
	}
	d.metrics.ObserveRequest(rt.op, rt.model, nil, time.Since(start))
	return &Response[R]{Served: Served{ModelUsed: rt.model}, Result: o.value}, nil
}

func (d *Dispatcher) acquire(ctx context.Context, rt route) (inference.Backend, func(), error) {
	spec, err := d.registry.Spec(rt.model)
	if err != nil {
		return nil, nil, err
	}
	if !spec.Has(rt.capability) {
		return nil, nil, errdefs.New(errdefs.KindModelUnavailable, rt.op, "model %s does not support %s", rt.model, rt.capability)
	}
	return d.registry.Acquire(ctx, rt.model)
}

// invocationError classifies a failed model call.
func (d *Dispatcher) invocationError(ctx context.Context, rt route, err error) error {
	var typed *errdefs.Error
	switch {
	case ctx.Err() != nil:
		return errdefs.Wrap(errdefs.KindTimeout, rt.op, ctx.Err(), "request cancelled while model %s was running", rt.model)
	case errors.Is(err, context.DeadlineExceeded):
		return errdefs.Wrap(errdefs.KindTimeout, rt.op, err, "model %s did not answer within %s", rt.model, d.timeout)
	case errors.As(err, &typed):
		return err
	default:
		return errdefs.Wrap(errdefs.KindInternal, rt.op, err, "model %s failed", rt.model)
	}
}

// Generate samples sequences from the requested model. Every returned
// sequence is analysed and scored against the request's constraints.
func (d *Dispatcher) Generate(ctx context.Context, req inference.GenerationRequest) (*inference.GenerationResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rt := d.route("generate", req.Model, req.Strict, inference.CapabilityGeneration)
	req.Model = rt.model
	dgst := inference.RequestDigest(req)
	params := inference.GenerateParams{
		Length:      req.Length,
		Temperature: req.Temperature,
		Count:       req.NumSequences,
		Seed:        inference.Seed(dgst),
		Constraints: req.Constraints,
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

func (d *Dispatcher) synthesize(key string, params inference.GenerateParams) []inference.Candidate {
	v, _, _ := d.fallbacks.Do(key, func() (any, error) {
		return Synthesize(params), nil
	})
	return v.([]inference.Candidate)
}

// finish turns raw candidates into analysed proteins. Models must return
// exactly the requested number of canonical sequences.
func finish(rt route, resp *Response[[]inference.Candidate], params inference.GenerateParams) ([]inference.GeneratedProtein, error) {
	if len(resp.Result) != params.Count {
		return nil, errdefs.New(errdefs.KindInternal, rt.op, "model %s returned %d sequences, want %d", resp.ModelUsed, len(resp.Result), params.Count)
	}
	proteins := make([]inference.GeneratedProtein, 0, len(resp.Result))
	for _, c := range resp.Result {
		if !sequence.Canonical(c.Sequence) {
			return nil, errdefs.New(errdefs.KindInternal, rt.op, "model %s returned a non-canonical sequence", resp.ModelUsed)
		}
		report, err := sequence.Analyze(c.Sequence)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInternal, rt.op, err, "analysing generated sequence")
		}
		validity := sequence.Validate(c.Sequence).Score
		proteins = append(proteins, inference.GeneratedProtein{
			Sequence:        c.Sequence,
			Confidence:      round(min(1, max(0, c.Confidence))),
			ValidationScore: round(min(validity, constraintScore(report, params.Constraints))),
			Properties:      report.Properties(),
			Metadata: map[string]string{
				"model": resp.ModelUsed,
			},
		})
	}
	return proteins, nil
}

// constraintScore rates how closely report meets c. Without constraints
// the score is 0.9. Each target otherwise costs half its deviation, at
// most 0.2, and the score never drops below 0.1. Deviations of absolute
// properties are taken relative to their scale.
func constraintScore(report *sequence.Report, c inference.Constraints) float64 {
	if len(c) == 0 {
		return 0.9
	}
	score := 1.0
	for name, target := range c {
		var deviation float64
		switch name {
		case inference.ConstraintHydrophobic:
			deviation = math.Abs(report.Classes.Hydrophobic - target)
		case inference.ConstraintPolar:
			deviation = math.Abs(report.Classes.Polar - target)
		case inference.ConstraintCharged:
			deviation = math.Abs(report.Classes.Charged - target)
		case inference.ConstraintMolecularWeight:
			deviation = math.Abs(report.MolecularWeight-target) / target
		case inference.ConstraintIsoelectricPoint:
			deviation = math.Abs(report.IsoelectricPoint-target) / 14
		case inference.ConstraintHydrophobicity:
			deviation = math.Abs(report.Hydrophobicity-target) / 9
		}
		score -= min(deviation*0.5, 0.2)
	}
	return max(score, 0.1)
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
