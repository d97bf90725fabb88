package scheduling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig) *Coordinator {
	t.Helper()
	d, _ := newTestDispatcher(t, testSetup{})
	return NewCoordinator(logging.Discard(), d, nil, cfg)
}

func requireTotals(t *testing.T, res *BatchResult) {
	t.Helper()
	require.Equal(t, len(res.Items), res.Total)
	require.Equal(t, res.Total, res.Successful+res.Failed)
	for i, it := range res.Items {
		require.Equal(t, i, it.Index)
		require.Equal(t, it.Success, it.Error == nil)
	}
}

func TestRunPreservesOrder(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{Concurrency: 3})
	res := c.Run(context.Background(), 9, func(_ context.Context, i int) (any, error) {
		// Later items finish first.
		time.Sleep(time.Duration(9-i) * time.Millisecond)
		if i%3 == 0 {
			return nil, errdefs.InvalidParameters("test", "item %d rejected", i)
		}
		return i * 10, nil
	})
	requireTotals(t, res)
	require.Equal(t, 6, res.Successful)
	require.Equal(t, 3, res.Failed)
	for i, it := range res.Items {
		if i%3 == 0 {
			require.False(t, it.Success)
			require.Equal(t, errdefs.KindInvalidParameters, it.Error.Kind)
			continue
		}
		require.Equal(t, i*10, it.Result)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{Concurrency: 2})
	var running, peak atomic.Int32
	res := c.Run(context.Background(), 10, func(context.Context, int) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	})
	requireTotals(t, res)
	require.Equal(t, 10, res.Successful)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := c.Run(ctx, 4, func(ctx context.Context, i int) (any, error) {
		if i == 0 {
			cancel()
		}
		// Running items are detached from the batch's cancellation.
		return i, ctx.Err()
	})
	requireTotals(t, res)
	require.True(t, res.Items[0].Success)
	for _, it := range res.Items[1:] {
		require.False(t, it.Success)
		require.Equal(t, errdefs.KindTimeout, it.Error.Kind)
		require.Contains(t, it.Error.Message, "cancelled before start")
	}
}

func TestRunItemTimeout(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{ItemTimeout: 10 * time.Millisecond})
	res := c.Run(context.Background(), 2, func(ctx context.Context, i int) (any, error) {
		if i == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "fast", nil
	})
	requireTotals(t, res)
	require.True(t, res.Items[0].Success)
	require.Equal(t, errdefs.KindTimeout, res.Items[1].Error.Kind)
}

func TestRunInternalErrors(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{})
	res := c.Run(context.Background(), 1, func(context.Context, int) (any, error) {
		return nil, errors.New("boom")
	})
	requireTotals(t, res)
	require.Equal(t, errdefs.KindInternal, res.Items[0].Error.Kind)
}

func TestRunEmpty(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{})
	res := c.Run(context.Background(), 0, nil)
	requireTotals(t, res)
	require.Zero(t, res.Total)
}

func TestBatchGenerate(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{})
	res, err := c.BatchGenerate(context.Background(), []inference.GenerationRequest{
		{Model: "protgpt2", Length: 20, Temperature: 0.8, NumSequences: 1},
		{Model: "protgpt2", Length: 0, Temperature: 0.8, NumSequences: 1},
		{Model: "unknown", Length: 15, Temperature: 0.8, NumSequences: 2},
	})
	require.NoError(t, err)
	requireTotals(t, res)
	require.Equal(t, 2, res.Successful)
	require.Equal(t, errdefs.KindInvalidParameters, res.Items[1].Error.Kind)
	fallback, ok := res.Items[2].Result.(*inference.GenerationResult)
	require.True(t, ok)
	require.Equal(t, SyntheticModel, fallback.ModelUsed)
	require.Len(t, fallback.Proteins, 2)

	_, err = c.BatchGenerate(context.Background(), nil)
	require.ErrorIs(t, err, errdefs.ErrInvalidParameters)
	_, err = c.BatchGenerate(context.Background(), make([]inference.GenerationRequest, MaxBatchGenerate+1))
	require.ErrorIs(t, err, errdefs.ErrInvalidParameters)
}

func TestBatchProcess(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{})
	res, err := c.BatchProcess(context.Background(), BatchProcessRequest{
		Sequences: []string{"MKTAYIAKQRQISFVKSHFSRQ", "", "malwmrll"},
	})
	require.NoError(t, err)
	requireTotals(t, res)
	require.Equal(t, 2, res.Successful)
	require.Equal(t, errdefs.KindInvalidSequence, res.Items[1].Error.Kind)
	out, ok := res.Items[0].Result.(map[string]any)
	require.True(t, ok)
	require.Contains(t, out, BatchValidate)
	require.Contains(t, out, BatchAnalyzeProperties)

	res, err = c.BatchProcess(context.Background(), BatchProcessRequest{
		Sequences:  []string{"MKTAYIAKQRQISFVKSHFSRQ"},
		Operations: []string{"Predict_Function", "analyze_stability", "predict_structure"},
	})
	require.NoError(t, err)
	requireTotals(t, res)
	out = res.Items[0].Result.(map[string]any)
	require.Len(t, out, 3)

	_, err = c.BatchProcess(context.Background(), BatchProcessRequest{
		Sequences:  []string{"MKT"},
		Operations: []string{"fold"},
	})
	require.ErrorIs(t, err, errdefs.ErrInvalidParameters)
	_, err = c.BatchProcess(context.Background(), BatchProcessRequest{})
	require.ErrorIs(t, err, errdefs.ErrInvalidParameters)
}
