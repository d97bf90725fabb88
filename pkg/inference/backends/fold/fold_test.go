package fold

import (
	"context"
	"testing"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/protein/optimize"
	"github.com/docker/protein-runner/pkg/protein/sequence"
	"github.com/stretchr/testify/require"
)

var (
	_ inference.Generator          = (*Model)(nil)
	_ inference.StructurePredictor = (*Model)(nil)
	_ inference.Optimizer          = (*Model)(nil)
)

func TestModel(t *testing.T) {
	m := New(logging.Discard(), Config{Name: "geneverse"})
	ctx := context.Background()

	_, err := m.PredictStructure(ctx, "MKT")
	require.ErrorIs(t, err, errdefs.ErrModelUnavailable)

	require.NoError(t, m.Load(ctx))
	out, err := m.Generate(ctx, inference.GenerateParams{Length: 75, Temperature: 0.5, Count: 2, Seed: 9})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, c := range out {
		require.Len(t, c.Sequence, 75)
		require.True(t, sequence.Canonical(c.Sequence))
	}

	s, err := m.PredictStructure(ctx, out[0].Sequence)
	require.NoError(t, err)
	require.Equal(t, "geneverse", s.Method)
	require.Len(t, s.Trace, 75)

	req := optimize.Request{Sequence: "MPGCKLEPGC", Objectives: []optimize.Objective{optimize.Stability}}
	a, err := m.Optimize(ctx, req, 5)
	require.NoError(t, err)
	b, err := m.Optimize(ctx, req, 5)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotEqual(t, req.Sequence, a.OptimizedSequence)
}
