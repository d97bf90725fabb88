package models

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/stretchr/testify/require"
)

const gib = 1 << 30

type fakeBackend struct {
	name    string
	loadErr error
	// gate, when non-nil, blocks Load until closed.
	gate chan struct{}

	mu      sync.Mutex
	loads   int
	unloads int
	loaded  bool
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Load(ctx context.Context) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = true
	return nil
}

func (f *fakeBackend) Unload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	f.loaded = false
	return nil
}

func (f *fakeBackend) counts() (loads, unloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.unloads
}

func newTestRegistry(t *testing.T, budget uint64, idle time.Duration, backends map[string]uint64) (*Registry, map[string]*fakeBackend) {
	t.Helper()
	fakes := make(map[string]*fakeBackend, len(backends))
	var models []Model
	for _, name := range []string{"a", "b", "c", "big"} {
		footprint, ok := backends[name]
		if !ok {
			continue
		}
		fakes[name] = &fakeBackend{name: name}
		models = append(models, Model{
			Spec: Spec{
				Name:         name,
				Kind:         "fake",
				Capabilities: []inference.Capability{inference.CapabilityGeneration},
				Footprint:    footprint,
			},
			Backend: fakes[name],
		})
	}
	r, err := NewRegistry(logging.Discard(), Config{Budget: budget, IdleTimeout: idle}, models, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, fakes
}

func stateOf(t *testing.T, r *Registry, name string) Descriptor {
	t.Helper()
	d, err := r.Info(name)
	require.NoError(t, err)
	return d
}

func TestLoadAndStatus(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": 2 * gib, "b": gib})
	ctx := context.Background()

	require.NoError(t, r.Load(ctx, "a"))
	status := r.Status()
	require.Len(t, status, 2)
	require.Equal(t, "a", status[0].Name)
	require.True(t, status[0].Loaded)
	require.Equal(t, StateLoaded, status[0].State)
	require.NotNil(t, status[0].LastUsed)
	require.Equal(t, StateUnloaded, status[1].State)

	// Loading again reuses the loaded model.
	require.NoError(t, r.Load(ctx, "a"))
	loads, _ := fakes["a"].counts()
	require.Equal(t, 1, loads)

	h := r.Health()
	require.Equal(t, 1, h.ModelsLoaded)
	require.Equal(t, []string{"a"}, h.LoadedModels)
	require.EqualValues(t, 2*gib, h.MemoryUsed)
	require.EqualValues(t, 4*gib, h.MemoryBudget)
	require.Equal(t, []string{"a", "b"}, h.Available)
}

func TestUnloadIdempotent(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	ctx := context.Background()

	require.NoError(t, r.Unload(ctx, "a"))
	require.NoError(t, r.Load(ctx, "a"))
	require.NoError(t, r.Unload(ctx, "a"))
	require.NoError(t, r.Unload(ctx, "a"))
	require.False(t, stateOf(t, r, "a").Loaded)
	_, unloads := fakes["a"].counts()
	require.Equal(t, 1, unloads)
	require.Zero(t, r.Health().MemoryUsed)
}

func TestUnknownModel(t *testing.T) {
	r, _ := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	ctx := context.Background()

	require.ErrorIs(t, r.Load(ctx, "unknown-model"), errdefs.ErrUnknownModel)
	require.ErrorIs(t, r.Unload(ctx, "unknown-model"), errdefs.ErrUnknownModel)
	_, err := r.Info("unknown-model")
	require.ErrorIs(t, err, errdefs.ErrUnknownModel)
}

func TestModelTooBig(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"big": 5 * gib})
	require.ErrorIs(t, r.Load(context.Background(), "big"), errdefs.ErrMemoryBudgetExceeded)
	loads, _ := fakes["big"].counts()
	require.Zero(t, loads)
}

func TestLRUEvictionWhenOnlyOneFits(t *testing.T) {
	r, fakes := newTestRegistry(t, 3*gib, 0, map[string]uint64{"a": 2 * gib, "b": 2 * gib})
	ctx := context.Background()

	require.NoError(t, r.Load(ctx, "a"))
	require.NoError(t, r.Load(ctx, "b"))

	status := r.Status()
	require.False(t, status[0].Loaded)
	require.True(t, status[1].Loaded)
	_, unloads := fakes["a"].counts()
	require.Equal(t, 1, unloads)
	require.EqualValues(t, 2*gib, r.Health().MemoryUsed)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	r, _ := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib, "b": gib, "c": 2*gib + 1})
	ctx := context.Background()

	require.NoError(t, r.Load(ctx, "a"))
	require.NoError(t, r.Load(ctx, "b"))
	// Touch a so that b becomes the least recently used.
	require.NoError(t, r.Load(ctx, "a"))
	require.NoError(t, r.Load(ctx, "c"))

	require.True(t, stateOf(t, r, "a").Loaded)
	require.False(t, stateOf(t, r, "b").Loaded)
	require.True(t, stateOf(t, r, "c").Loaded)
}

func TestPinnedModelIsNotEvicted(t *testing.T) {
	r, _ := newTestRegistry(t, 3*gib, 0, map[string]uint64{"a": 2 * gib, "b": 2 * gib})
	ctx := context.Background()

	backend, release, err := r.Acquire(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", backend.Name())
	require.EqualValues(t, 1, stateOf(t, r, "a").References)

	require.ErrorIs(t, r.Load(ctx, "b"), errdefs.ErrMemoryBudgetExceeded)
	require.True(t, stateOf(t, r, "a").Loaded)

	release()
	release()
	require.Zero(t, stateOf(t, r, "a").References)
	require.NoError(t, r.Load(ctx, "b"))
	require.False(t, stateOf(t, r, "a").Loaded)
}

func TestConcurrentLoadsShareTransition(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	fakes["a"].gate = make(chan struct{})

	const callers = 8
	errs := make(chan error, callers)
	for range callers {
		go func() {
			errs <- r.Load(context.Background(), "a")
		}()
	}
	require.Eventually(t, func() bool {
		return stateOf(t, r, "a").State == StateLoading
	}, time.Second, time.Millisecond)
	close(fakes["a"].gate)

	for range callers {
		require.NoError(t, <-errs)
	}
	loads, _ := fakes["a"].counts()
	require.Equal(t, 1, loads)
}

func TestFailedLoad(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	fakes["a"].loadErr = errors.New("weights corrupted")

	err := r.Load(context.Background(), "a")
	require.ErrorIs(t, err, errdefs.ErrModelUnavailable)
	require.ErrorContains(t, err, "weights corrupted")

	d := stateOf(t, r, "a")
	require.Equal(t, StateUnloaded, d.State)
	require.Equal(t, "weights corrupted", d.LastError)
	require.Zero(t, r.Health().MemoryUsed)
	_, unloads := fakes["a"].counts()
	require.Equal(t, 1, unloads)

	// A later attempt retries the load.
	fakes["a"].mu.Lock()
	fakes["a"].loadErr = nil
	fakes["a"].mu.Unlock()
	require.NoError(t, r.Load(context.Background(), "a"))
	require.Empty(t, stateOf(t, r, "a").LastError)
}

func TestAcquireCancelledWhileLoading(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	fakes["a"].gate = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.Acquire(ctx, "a")
	require.ErrorIs(t, err, errdefs.ErrTimeout)

	// The load itself carries on and completes.
	close(fakes["a"].gate)
	require.Eventually(t, func() bool {
		return stateOf(t, r, "a").Loaded
	}, time.Second, time.Millisecond)
	require.Zero(t, stateOf(t, r, "a").References)
}

func TestUnloadWaitsForReferences(t *testing.T) {
	r, _ := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	_, release, err := r.Acquire(context.Background(), "a")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- r.Unload(context.Background(), "a")
	}()
	select {
	case <-done:
		t.Fatal("unload returned while the model was in use")
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, stateOf(t, r, "a").Loaded)

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("unload did not finish after release")
	}
	require.False(t, stateOf(t, r, "a").Loaded)

	// A cancelled unload gives up without changing state.
	_, release, err = r.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Unload(ctx, "a"), errdefs.ErrTimeout)
	require.True(t, stateOf(t, r, "a").Loaded)
}

func TestIdleEviction(t *testing.T) {
	r, _ := newTestRegistry(t, 4*gib, 50*time.Millisecond, map[string]uint64{"a": gib, "b": gib})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() {
		stopped <- r.Run(ctx)
	}()

	_, release, err := r.Acquire(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx, "b"))

	require.Eventually(t, func() bool {
		return !stateOf(t, r, "b").Loaded
	}, 2*time.Second, 10*time.Millisecond)
	// Pinned models are never idle.
	require.True(t, stateOf(t, r, "a").Loaded)

	release()
	require.Eventually(t, func() bool {
		return !stateOf(t, r, "a").Loaded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-stopped)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	r, fakes := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib, "b": gib})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() {
		stopped <- r.Run(ctx)
	}()

	require.NoError(t, r.Preload(ctx, []string{"a", "b"}))
	require.Equal(t, 2, r.Health().ModelsLoaded)

	cancel()
	require.NoError(t, <-stopped)
	require.Zero(t, r.Health().ModelsLoaded)
	for _, f := range fakes {
		_, unloads := f.counts()
		require.Equal(t, 1, unloads)
	}
	require.ErrorIs(t, r.Load(context.Background(), "a"), errdefs.ErrModelUnavailable)
}

func TestPreloadJoinsErrors(t *testing.T) {
	r, _ := newTestRegistry(t, 4*gib, 0, map[string]uint64{"a": gib})
	err := r.Preload(context.Background(), []string{"missing", "a"})
	require.ErrorIs(t, err, errdefs.ErrUnknownModel)
	require.True(t, stateOf(t, r, "a").Loaded)
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(logging.Discard(), Config{}, nil, nil)
	require.Error(t, err)

	dup := []Model{
		{Spec: Spec{Name: "a"}, Backend: &fakeBackend{name: "a"}},
		{Spec: Spec{Name: "a"}, Backend: &fakeBackend{name: "a"}},
	}
	_, err = NewRegistry(logging.Discard(), Config{Budget: gib}, dup, nil)
	require.Error(t, err)

	_, err = NewRegistry(logging.Discard(), Config{Budget: gib}, []Model{{Spec: Spec{Name: "a"}}}, nil)
	require.Error(t, err)
}
