package scheduling

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchConcurrency bounds the items of one batch run at once.
	DefaultBatchConcurrency = 4
	// DefaultItemTimeout bounds a single batch item.
	DefaultItemTimeout = 60 * time.Second
	// MaxBatchGenerate is the largest number of generation requests per
	// batch.
	MaxBatchGenerate = 10
	// MaxBatchSequences is the largest number of sequences per batch
	// process call.
	MaxBatchSequences = 50
)

// Batch process operations.
const (
	BatchValidate          = "validate"
	BatchAnalyzeProperties = "analyze_properties"
	BatchPredictFunction   = "predict_function"
	BatchAnalyzeStability  = "analyze_stability"
	BatchPredictStructure  = "predict_structure"
)

var batchOperations = []string{
	BatchValidate,
	BatchAnalyzeProperties,
	BatchPredictFunction,
	BatchAnalyzeStability,
	BatchPredictStructure,
}

// Item is the outcome of one batch entry.
type Item struct {
	Index   int              `json:"request_index"`
	Success bool             `json:"success"`
	Result  any              `json:"result,omitempty"`
	Error   *errdefs.Payload `json:"error,omitempty"`
}

// BatchResult holds the items of a batch in request order. Successful and
// Failed always add up to Total, which equals len(Items).
type BatchResult struct {
	ID             string `json:"batch_id"`
	Items          []Item `json:"results"`
	Total          int    `json:"total"`
	Successful     int    `json:"successful"`
	Failed         int    `json:"failed"`
	DurationMillis int64  `json:"processing_time_ms"`
}

// CoordinatorConfig tunes a Coordinator.
type CoordinatorConfig struct {
	// Concurrency bounds the items run at once. Zero means
	// DefaultBatchConcurrency.
	Concurrency int
	// ItemTimeout bounds each item. Zero means DefaultItemTimeout.
	ItemTimeout time.Duration
}

// Coordinator runs batches of independent operations with bounded
// concurrency.
type Coordinator struct {
	// log is the associated logger.
	log logging.Logger
	// dispatcher serves batch items.
	dispatcher *Dispatcher
	// metrics records item outcomes. It may be nil.
	metrics *metrics.Collector
	// concurrency bounds the items run at once.
	concurrency int
	// itemTimeout bounds each item.
	itemTimeout time.Duration
}

// NewCoordinator creates a coordinator that serves items through d.
func NewCoordinator(log logging.Logger, d *Dispatcher, m *metrics.Collector, cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		log:         log,
		dispatcher:  d,
		metrics:     m,
		concurrency: cfg.Concurrency,
		itemTimeout: cfg.ItemTimeout,
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultBatchConcurrency
	}
	if c.itemTimeout <= 0 {
		c.itemTimeout = DefaultItemTimeout
	}
	return c
}

// Run executes op for indices 0..n-1. A failing item never affects the
// others. Once ctx is done, items that have not started are marked failed
// with a timeout; items already running finish under their own timeout.
func (c *Coordinator) Run(ctx context.Context, n int, op func(ctx context.Context, index int) (any, error)) *BatchResult {
	start := time.Now()
	items := make([]Item, n)
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i := range n {
		items[i].Index = i
		if ctx.Err() != nil {
			c.fail(&items[i], notStarted(ctx))
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				c.fail(&items[i], notStarted(ctx))
				return nil
			}
			ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.itemTimeout)
			defer cancel()
			result, err := op(ictx, i)
			if err != nil {
				c.fail(&items[i], err)
				return nil
			}
			items[i].Success = true
			items[i].Result = result
			c.metrics.ObserveBatchItem(nil)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{
		ID:             uuid.NewString(),
		Items:          items,
		Total:          n,
		DurationMillis: time.Since(start).Milliseconds(),
	}
	for _, it := range items {
		if it.Success {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	return res
}

func notStarted(ctx context.Context) error {
	return errdefs.Wrap(errdefs.KindTimeout, "batch", ctx.Err(), "cancelled before start")
}

func (c *Coordinator) fail(it *Item, err error) {
	payload := errdefs.ToPayload(err)
	if payload.Kind == errdefs.KindInternal {
		c.log.Errorf("Batch item %d failed: %v", it.Index, err)
	}
	it.Error = &payload
	c.metrics.ObserveBatchItem(err)
}

// BatchGenerate runs up to MaxBatchGenerate generation requests.
func (c *Coordinator) BatchGenerate(ctx context.Context, reqs []inference.GenerationRequest) (*BatchResult, error) {
	if len(reqs) == 0 || len(reqs) > MaxBatchGenerate {
		return nil, errdefs.InvalidParameters("batch_generate", "batch must hold 1 to %d requests, got %d", MaxBatchGenerate, len(reqs))
	}
	return c.Run(ctx, len(reqs), func(ctx context.Context, i int) (any, error) {
		return c.dispatcher.Generate(ctx, reqs[i])
	}), nil
}

// BatchProcessRequest applies operations to each of several sequences.
type BatchProcessRequest struct {
	Sequences []string `json:"sequences"`
	// Operations defaults to validate and analyze_properties.
	Operations []string `json:"operations,omitempty"`
	Model      string   `json:"model,omitempty"`
}

// BatchProcess runs the requested operations for every sequence. Each
// sequence is one item; its result maps operation names to their outputs,
// and the first failing operation fails the item.
func (c *Coordinator) BatchProcess(ctx context.Context, req BatchProcessRequest) (*BatchResult, error) {
	if len(req.Sequences) == 0 || len(req.Sequences) > MaxBatchSequences {
		return nil, errdefs.InvalidParameters("batch_process", "batch must hold 1 to %d sequences, got %d", MaxBatchSequences, len(req.Sequences))
	}
	ops := slices.Clone(req.Operations)
	if len(ops) == 0 {
		ops = []string{BatchValidate, BatchAnalyzeProperties}
	}
	for i, op := range ops {
		ops[i] = strings.ToLower(strings.TrimSpace(op))
		if !slices.Contains(batchOperations, ops[i]) {
			return nil, errdefs.InvalidParameters("batch_process", "unknown operation %q", op)
		}
	}
	return c.Run(ctx, len(req.Sequences), func(ctx context.Context, i int) (any, error) {
		seq := SequenceRequest{Sequence: req.Sequences[i], Model: req.Model}
		out := make(map[string]any, len(ops))
		for _, op := range ops {
			v, err := c.process(ctx, op, seq)
			if err != nil {
				return nil, err
			}
			out[op] = v
		}
		return out, nil
	}), nil
}

func (c *Coordinator) process(ctx context.Context, op string, seq SequenceRequest) (any, error) {
	d := c.dispatcher
	switch op {
	case BatchValidate:
		return d.Validate(ctx, seq)
	case BatchAnalyzeProperties:
		return d.AnalyzeProperties(ctx, seq)
	case BatchPredictFunction:
		return d.PredictFunction(ctx, seq)
	case BatchAnalyzeStability:
		return d.AnalyzeStability(ctx, StabilityRequest{SequenceRequest: seq})
	case BatchPredictStructure:
		return d.PredictStructure(ctx, seq)
	}
	return nil, errdefs.InvalidParameters("batch_process", "unknown operation %q", op)
}
