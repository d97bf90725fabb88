package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/metrics"
)

const (
	// DefaultIdleTimeout is how long an unused model stays loaded.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultLoadTimeout bounds a single backend load.
	DefaultLoadTimeout = 2 * time.Minute
)

// errLoadsDisabled indicates that the registry is shutting down.
var errLoadsDisabled = errors.New("model loading disabled")

// Config tunes a Registry.
type Config struct {
	// Budget is the total memory available to loaded models.
	Budget uint64
	// IdleTimeout is how long a model may sit unused before the run loop
	// unloads it. Zero disables idle eviction.
	IdleTimeout time.Duration
	// LoadTimeout bounds each backend load. Zero means DefaultLoadTimeout.
	LoadTimeout time.Duration
}

// Model pairs a catalog entry with the backend that serves it.
type Model struct {
	Spec    Spec
	Backend inference.Backend
}

// transition tracks an in-progress load or unload. done is closed when the
// transition finishes; err is only valid after that.
type transition struct {
	load bool
	done chan struct{}
	err  error
}

type entry struct {
	spec       Spec
	backend    inference.Backend
	state      State
	refs       uint
	transition *transition
	// useSeq orders entries by recency for eviction.
	useSeq   uint64
	lastUsed time.Time
	loadedAt time.Time
	lastErr  error
}

// Registry owns model lifecycle. Loading a model reserves its footprint
// against the memory budget; if the budget is short, idle loaded models are
// unloaded in least recently used order. Models pinned by Acquire are never
// evicted.
type Registry struct {
	// log is the associated logger.
	log logging.Logger
	// metrics records lifecycle events. It may be nil.
	metrics *metrics.Collector
	// budget is the memory available to models.
	budget uint64
	// idleTimeout is the idle eviction threshold.
	idleTimeout time.Duration
	// loadTimeout bounds backend loads.
	loadTimeout time.Duration
	// order is the catalog order of model names.
	order []string
	// entries maps names to entries. The map itself is immutable after
	// construction; entry fields are protected by guard.
	entries map[string]*entry
	// idleCheck is used to signal the run loop when timestamps have updated.
	idleCheck chan struct{}
	// guard is a semaphore controlling access to all subsequent fields and to
	// entry fields. It is buffered (with size 1) and contains a single
	// element that must be held in order to operate on them. A channel is
	// used instead of a sync.Mutex to enable polling.
	guard chan struct{}
	// loadsEnabled signals that loads are currently enabled.
	loadsEnabled bool
	// used is the memory reserved by loaded and loading models.
	used uint64
	// useCounter feeds entry.useSeq.
	useCounter uint64
	// waiters is the set of signal channels associated with waiting callers.
	// Each signaling channel is buffered (with size 1).
	waiters map[chan<- struct{}]bool
}

// NewRegistry creates a registry for the given models. Loads are enabled
// immediately; Run only adds idle eviction and shutdown draining.
func NewRegistry(log logging.Logger, cfg Config, models []Model, m *metrics.Collector) (*Registry, error) {
	if cfg.Budget == 0 {
		return nil, errors.New("memory budget must be positive")
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	r := &Registry{
		log:          log,
		metrics:      m,
		budget:       cfg.Budget,
		idleTimeout:  cfg.IdleTimeout,
		loadTimeout:  cfg.LoadTimeout,
		entries:      make(map[string]*entry, len(models)),
		idleCheck:    make(chan struct{}, 1),
		guard:        make(chan struct{}, 1),
		loadsEnabled: true,
		waiters:      make(map[chan<- struct{}]bool),
	}
	for _, model := range models {
		if model.Backend == nil {
			return nil, fmt.Errorf("model %s has no backend", model.Spec.Name)
		}
		if _, ok := r.entries[model.Spec.Name]; ok {
			return nil, fmt.Errorf("model %s registered twice", model.Spec.Name)
		}
		r.order = append(r.order, model.Spec.Name)
		r.entries[model.Spec.Name] = &entry{
			spec:    model.Spec,
			backend: model.Backend,
			state:   StateUnloaded,
		}
	}
	r.guard <- struct{}{}
	r.metrics.SetMemory(0, 0, r.budget)
	return r, nil
}

// lock acquires the guard semaphore. It returns true if the lock was acquired
// and false if ctx is cancelled before acquisition.
func (r *Registry) lock(ctx context.Context) bool {
	select {
	case <-r.guard:
		return true
	case <-ctx.Done():
		return false
	}
}

// unlock releases the guard semaphore.
func (r *Registry) unlock() {
	r.guard <- struct{}{}
}

// broadcast signals all waiters. Callers must hold the lock.
func (r *Registry) broadcast() {
	for waiter := range r.waiters {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// signalIdle nudges the run loop to recompute its idle timer.
func (r *Registry) signalIdle() {
	select {
	case r.idleCheck <- struct{}{}:
	default:
	}
}

// touch marks e as just used. Callers must hold the lock.
func (r *Registry) touch(e *entry) {
	r.useCounter++
	e.useSeq = r.useCounter
	e.lastUsed = time.Now()
}

// publish pushes occupancy to metrics. Callers must hold the lock.
func (r *Registry) publish() {
	var loaded int
	for _, e := range r.entries {
		if e.state == StateLoaded {
			loaded++
		}
	}
	r.metrics.SetMemory(loaded, r.used, r.budget)
}

func (r *Registry) lookup(op, name string) (*entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, errdefs.New(errdefs.KindUnknownModel, op, "unknown model %q", name)
	}
	return e, nil
}

func cancelled(ctx context.Context, op, name string) error {
	return errdefs.Wrap(errdefs.KindTimeout, op, ctx.Err(), "gave up waiting for model %s", name)
}

// Spec returns the catalog entry for name.
func (r *Registry) Spec(name string) (Spec, error) {
	e, err := r.lookup("info", name)
	if err != nil {
		return Spec{}, err
	}
	return e.spec, nil
}

// Load ensures the named model is loaded. It is equivalent to an Acquire
// followed by an immediate release.
func (r *Registry) Load(ctx context.Context, name string) error {
	_, release, err := r.Acquire(ctx, name)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Acquire loads the named model if needed and pins it until the returned
// release function is called. Concurrent callers for a model that is already
// loading wait for that load and share its outcome.
func (r *Registry) Acquire(ctx context.Context, name string) (inference.Backend, func(), error) {
	e, err := r.lookup("load", name)
	if err != nil {
		return nil, nil, err
	}
	if e.spec.Footprint > r.budget {
		return nil, nil, errdefs.New(errdefs.KindMemoryBudgetExceeded, "load",
			"model %s needs %s but the budget is %s", name, humanSize(e.spec.Footprint), humanSize(r.budget))
	}

	if !r.lock(ctx) {
		return nil, nil, cancelled(ctx, "load", name)
	}
	for {
		if !r.loadsEnabled {
			r.unlock()
			return nil, nil, errdefs.Wrap(errdefs.KindModelUnavailable, "load", errLoadsDisabled, "model %s", name)
		}

		// Wait out any transition in progress.
		if t := e.transition; t != nil {
			r.unlock()
			select {
			case <-ctx.Done():
				return nil, nil, cancelled(ctx, "load", name)
			case <-t.done:
			}
			if t.load && t.err != nil {
				return nil, nil, t.err
			}
			if !r.lock(ctx) {
				return nil, nil, cancelled(ctx, "load", name)
			}
			continue
		}

		if e.state == StateLoaded {
			e.refs++
			r.touch(e)
			r.unlock()
			return e.backend, r.releaser(e), nil
		}

		// Reserve memory, evicting idle models if necessary, and start the
		// load. The next iteration waits for it.
		if err := r.reserve(e); err != nil {
			r.unlock()
			r.metrics.ObserveLoad(name, err)
			return nil, nil, err
		}
		r.startLoad(e)
	}
}

// reserve claims e's footprint. Callers must hold the lock.
func (r *Registry) reserve(e *entry) error {
	for r.used+e.spec.Footprint > r.budget {
		victim := r.evictionCandidate(e)
		if victim == nil {
			return errdefs.New(errdefs.KindMemoryBudgetExceeded, "load",
				"model %s needs %s but only %s of %s is free and no idle model can be evicted",
				e.spec.Name, humanSize(e.spec.Footprint), humanSize(r.budget-r.used), humanSize(r.budget))
		}
		r.evictEntry(victim, "lru")
	}
	r.used += e.spec.Footprint
	return nil
}

// evictionCandidate returns the least recently used loaded model with no
// references, other than exclude. Callers must hold the lock.
func (r *Registry) evictionCandidate(exclude *entry) *entry {
	var victim *entry
	for _, e := range r.entries {
		if e == exclude || e.state != StateLoaded || e.refs > 0 || e.transition != nil {
			continue
		}
		if victim == nil || e.useSeq < victim.useSeq {
			victim = e
		}
	}
	return victim
}

// evictEntry unloads an idle loaded model synchronously. Callers must hold
// the lock.
func (r *Registry) evictEntry(e *entry, reason string) {
	r.log.Infof("Evicting model %s (%s)", e.spec.Name, reason)
	if err := e.backend.Unload(context.Background()); err != nil {
		r.log.Warnf("Unloading model %s during eviction: %v", e.spec.Name, err)
		e.lastErr = err
	}
	e.state = StateUnloaded
	e.loadedAt = time.Time{}
	r.used -= e.spec.Footprint
	r.metrics.ObserveEviction(e.spec.Name, reason)
	r.publish()
	r.broadcast()
}

// startLoad moves e to loading and runs the backend load in the background.
// Memory must already be reserved. Callers must hold the lock.
func (r *Registry) startLoad(e *entry) {
	t := &transition{load: true, done: make(chan struct{})}
	e.state = StateLoading
	e.transition = t
	r.publish()
	r.log.Infof("Loading model %s", e.spec.Name)
	go r.finishLoad(e, t)
}

// finishLoad performs the backend load outside the lock and records the
// outcome. The load is not tied to any caller's context so that a caller
// giving up does not abort a load that others may be waiting on.
func (r *Registry) finishLoad(e *entry, t *transition) {
	ctx, cancel := context.WithTimeout(context.Background(), r.loadTimeout)
	defer cancel()
	start := time.Now()
	err := e.backend.Load(ctx)

	r.lock(context.Background())
	defer r.unlock()

	if err != nil {
		r.log.Warnf("Loading model %s failed: %v", e.spec.Name, err)
		e.state = StateFailed
		e.lastErr = err
		r.unlock()
		if uerr := e.backend.Unload(context.Background()); uerr != nil {
			r.log.Warnf("Cleaning up model %s after failed load: %v", e.spec.Name, uerr)
		}
		r.lock(context.Background())
		e.state = StateUnloaded
		r.used -= e.spec.Footprint
		t.err = errdefs.Wrap(errdefs.KindModelUnavailable, "load", err, "model %s failed to load", e.spec.Name)
	} else {
		r.log.Infof("Loaded model %s in %s", e.spec.Name, time.Since(start).Round(time.Millisecond))
		e.state = StateLoaded
		e.lastErr = nil
		e.loadedAt = time.Now()
		r.touch(e)
		r.signalIdle()
	}
	e.transition = nil
	close(t.done)
	r.metrics.ObserveLoad(e.spec.Name, t.err)
	r.publish()
	r.broadcast()
}

// releaser returns an idempotent function dropping one reference to e.
func (r *Registry) releaser(e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.lock(context.Background())
			defer r.unlock()
			e.refs--
			if e.refs == 0 {
				r.touch(e)
				r.signalIdle()
			}
			r.broadcast()
		})
	}
}

// Unload unloads the named model after its in-flight references drain.
// Unloading a model that is not loaded succeeds without doing anything.
func (r *Registry) Unload(ctx context.Context, name string) error {
	e, err := r.lookup("unload", name)
	if err != nil {
		return err
	}

	if !r.lock(ctx) {
		return cancelled(ctx, "unload", name)
	}
	defer r.unlock()

	poll := make(chan struct{}, 1)
	r.waiters[poll] = true
	defer func() {
		delete(r.waiters, poll)
	}()

	for {
		var wait <-chan struct{}
		switch {
		case e.transition != nil:
			wait = e.transition.done
		case e.state != StateLoaded:
			return nil
		case e.refs > 0:
			wait = poll
		default:
			t := &transition{done: make(chan struct{})}
			e.state = StateUnloading
			e.transition = t
			r.publish()
			r.unlock()
			r.log.Infof("Unloading model %s", e.spec.Name)
			uerr := e.backend.Unload(context.WithoutCancel(ctx))
			r.lock(context.Background())
			if uerr != nil {
				r.log.Warnf("Unloading model %s: %v", e.spec.Name, uerr)
				e.lastErr = uerr
			}
			e.state = StateUnloaded
			e.loadedAt = time.Time{}
			e.transition = nil
			r.used -= e.spec.Footprint
			close(t.done)
			r.metrics.ObserveEviction(e.spec.Name, "request")
			r.publish()
			r.broadcast()
			return nil
		}

		// Wait for something to change. Always re-lock with
		// context.Background() so the lock is held on return.
		r.unlock()
		select {
		case <-ctx.Done():
			r.lock(context.Background())
			return cancelled(ctx, "unload", name)
		case <-wait:
			r.lock(context.Background())
		}
	}
}

// evict unloads unused models. If idleOnly is true, only models unused for
// longer than the idle timeout are unloaded. The caller must hold the lock.
// It returns the number of models that remain loaded or in transition.
func (r *Registry) evict(idleOnly bool) int {
	now := time.Now()
	remaining := 0
	for _, name := range r.order {
		e := r.entries[name]
		if e.transition != nil {
			remaining++
			continue
		}
		if e.state != StateLoaded {
			continue
		}
		unused := e.refs == 0
		idle := unused && r.idleTimeout > 0 && now.Sub(e.lastUsed) > r.idleTimeout
		if unused && (!idleOnly || idle) {
			reason := "shutdown"
			if idleOnly {
				reason = "idle"
			}
			r.evictEntry(e, reason)
			continue
		}
		remaining++
	}
	return remaining
}

// stopAndDrainTimer stops and drains a timer without knowing if it was running.
func stopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// idleCheckDuration computes the duration until the next idle eviction. The
// caller must hold the lock. It returns -1s when no check is needed and 0
// when an unused model has already expired.
func (r *Registry) idleCheckDuration() time.Duration {
	if r.idleTimeout <= 0 {
		return -1 * time.Second
	}
	var oldest time.Time
	for _, e := range r.entries {
		if e.state == StateLoaded && e.refs == 0 && e.transition == nil {
			if oldest.IsZero() || e.lastUsed.Before(oldest) {
				oldest = e.lastUsed
			}
		}
	}
	if oldest.IsZero() {
		return -1 * time.Second
	}
	if remaining := r.idleTimeout - time.Since(oldest); remaining < 0 {
		return 0
	} else {
		return remaining + 100*time.Millisecond
	}
}

// Run drives idle eviction until ctx is cancelled. By the time Run returns,
// loads are disabled and every model has been unloaded.
func (r *Registry) Run(ctx context.Context) error {
	defer r.drain()

	idleTimer := time.NewTimer(0)
	if !idleTimer.Stop() {
		<-idleTimer.C
	}
	defer idleTimer.Stop()

	// Schedule a first check in case models were preloaded.
	r.signalIdle()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idleTimer.C:
			if r.lock(ctx) {
				r.evict(true)
				if next := r.idleCheckDuration(); next >= 0 {
					idleTimer.Reset(next)
				}
				r.unlock()
			}
		case <-r.idleCheck:
			if r.lock(ctx) {
				stopAndDrainTimer(idleTimer)
				if next := r.idleCheckDuration(); next >= 0 {
					idleTimer.Reset(next)
				}
				r.unlock()
			}
		}
	}
}

// Close disables loads and unloads every model once its references drain.
// It is safe to call more than once and after Run has returned.
func (r *Registry) Close() {
	r.drain()
}

func (r *Registry) drain() {
	poll := make(chan struct{}, 1)
	poll <- struct{}{}
	r.lock(context.Background())
	r.loadsEnabled = false
	r.broadcast()
	r.waiters[poll] = true
	r.unlock()
	for range poll {
		r.lock(context.Background())
		if r.evict(false) == 0 {
			delete(r.waiters, poll)
			r.unlock()
			break
		}
		r.unlock()
	}
}

// Preload loads each named model in turn. Failures are logged and joined;
// later models are still attempted.
func (r *Registry) Preload(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if err := r.Load(ctx, name); err != nil {
			r.log.Warnf("Preloading model %s: %v", name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) describe(e *entry) Descriptor {
	d := Descriptor{
		Name:         e.spec.Name,
		Description:  e.spec.Description,
		Capabilities: e.spec.Capabilities,
		Footprint:    e.spec.Footprint,
		Memory:       humanSize(e.spec.Footprint),
		State:        e.state,
		Loaded:       e.state == StateLoaded,
		References:   e.refs,
		LastUsed:     optionalTime(e.lastUsed),
		LoadedAt:     optionalTime(e.loadedAt),
	}
	if e.lastErr != nil {
		d.LastError = e.lastErr.Error()
	}
	return d
}

// Status returns a snapshot of every model in catalog order.
func (r *Registry) Status() []Descriptor {
	r.lock(context.Background())
	defer r.unlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.describe(r.entries[name]))
	}
	return out
}

// Info returns a snapshot of the named model.
func (r *Registry) Info(name string) (Descriptor, error) {
	e, err := r.lookup("info", name)
	if err != nil {
		return Descriptor{}, err
	}
	r.lock(context.Background())
	defer r.unlock()
	return r.describe(e), nil
}

// Health summarises occupancy.
func (r *Registry) Health() Health {
	r.lock(context.Background())
	defer r.unlock()
	h := Health{
		LoadedModels: []string{},
		MemoryUsed:   r.used,
		MemoryBudget: r.budget,
		Memory:       fmt.Sprintf("%s / %s", humanSize(r.used), humanSize(r.budget)),
		Available:    append([]string(nil), r.order...),
	}
	for _, name := range r.order {
		if r.entries[name].state == StateLoaded {
			h.LoadedModels = append(h.LoadedModels, name)
		}
	}
	h.ModelsLoaded = len(h.LoadedModels)
	return h
}

// Budget returns the configured memory budget.
func (r *Registry) Budget() uint64 {
	return r.budget
}
