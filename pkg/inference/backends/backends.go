// Package backends holds the pieces shared by the in-process model adapters:
// the simulated load lifecycle and residue sampling.
package backends

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/protein/sequence"
)

// minTemperature floors sampling temperature so that zero means "nearly
// greedy" rather than a division by zero.
const minTemperature = 0.05

// Lifecycle implements the Load and Unload half of inference.Backend for
// adapters whose weights are simulated by a fixed load latency.
type Lifecycle struct {
	name    string
	latency time.Duration
	log     logging.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewLifecycle creates an unloaded lifecycle for the named model.
func NewLifecycle(log logging.Logger, name string, latency time.Duration) *Lifecycle {
	return &Lifecycle{name: name, latency: latency, log: log}
}

// Name returns the model name.
func (l *Lifecycle) Name() string {
	return l.name
}

// Load waits out the load latency. It returns ctx's error if ctx ends first.
func (l *Lifecycle) Load(ctx context.Context) error {
	if l.latency > 0 {
		timer := time.NewTimer(l.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = true
	l.log.Debugf("Weights for %s resident", l.name)
	return nil
}

// Unload marks the model unloaded.
func (l *Lifecycle) Unload(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	return nil
}

// Ready fails with ModelUnavailable unless the model is loaded.
func (l *Lifecycle) Ready(op string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return errdefs.New(errdefs.KindModelUnavailable, op, "model %s is not loaded", l.name)
	}
	return nil
}

// NewRand returns a PCG source for seed. Distinct streams give independent
// sequences from the same seed.
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream^0x853c49e6748fea9b))
}

// Profile is a residue sampling distribution indexed like sequence.Alphabet.
type Profile [len(sequence.Alphabet)]float64

// Background returns natural amino-acid frequencies in percent.
func Background() Profile {
	return Profile{
		8.25, 1.37, 5.45, 6.75, 3.86, // A C D E F
		7.07, 2.27, 5.96, 5.84, 9.66, // G H I K L
		2.42, 4.06, 4.70, 3.93, 5.53, // M N P Q R
		6.56, 5.34, 6.87, 1.08, 2.92, // S T V W Y
	}
}

// FromSet returns a profile concentrated on the residues in set.
func FromSet(set string, weight float64) Profile {
	var p Profile
	for i := range p {
		p[i] = 1
	}
	for i := 0; i < len(set); i++ {
		if idx := index(set[i]); idx >= 0 {
			p[idx] += weight
		}
	}
	return p
}

func index(r byte) int {
	for i := 0; i < len(sequence.Alphabet); i++ {
		if sequence.Alphabet[i] == r {
			return i
		}
	}
	return -1
}

// Steer rescales class masses so that the hydrophobic, polar and charged
// fractions named in c become the expected composition. Classes without a
// target share what remains in proportion to their current mass.
func (p Profile) Steer(c inference.Constraints) Profile {
	targets := map[sequence.Class]float64{}
	for name, class := range map[string]sequence.Class{
		inference.ConstraintHydrophobic: sequence.ClassHydrophobic,
		inference.ConstraintPolar:       sequence.ClassPolar,
		inference.ConstraintCharged:     sequence.ClassCharged,
	} {
		if v, ok := c[name]; ok {
			targets[class] = v
		}
	}
	if len(targets) == 0 {
		return p
	}

	mass := map[sequence.Class]float64{}
	for i, w := range p {
		mass[sequence.ClassOf(sequence.Alphabet[i])] += w
	}
	var targeted, free float64
	for _, f := range targets {
		targeted += f
	}
	for class, m := range mass {
		if _, ok := targets[class]; !ok {
			free += m
		}
	}

	var out Profile
	for i, w := range p {
		class := sequence.ClassOf(sequence.Alphabet[i])
		if f, ok := targets[class]; ok {
			if mass[class] > 0 {
				out[i] = w / mass[class] * f
			}
		} else if free > 0 {
			out[i] = w / free * (1 - targeted)
		}
	}
	return out
}

// Biased multiplies individual residue weights.
func (p Profile) Biased(bias map[byte]float64) Profile {
	for r, f := range bias {
		if idx := index(r); idx >= 0 && f >= 0 {
			p[idx] *= f
		}
	}
	return p
}

// Tempered sharpens (t < 1) or flattens (t > 1) the distribution.
func (p Profile) Tempered(t float64) Profile {
	t = max(t, minTemperature)
	for i, w := range p {
		if w > 0 {
			p[i] = math.Pow(w, 1/t)
		}
	}
	return p
}

// Draw samples one residue.
func (p Profile) Draw(rng *rand.Rand) byte {
	var total float64
	for _, w := range p {
		total += w
	}
	if total <= 0 {
		return sequence.Alphabet[rng.IntN(len(sequence.Alphabet))]
	}
	x := rng.Float64() * total
	for i, w := range p {
		x -= w
		if x < 0 {
			return sequence.Alphabet[i]
		}
	}
	return sequence.Alphabet[len(sequence.Alphabet)-1]
}

// Jitter returns base perturbed by up to ±spread, clamped to [0, 1].
func Jitter(rng *rand.Rand, base, spread float64) float64 {
	v := base + (rng.Float64()*2-1)*spread
	return math.Round(min(1, max(0, v))*1000) / 1000
}

// TemperatureConfidence lowers confidence as temperature moves away from
// the range a model was tuned for.
func TemperatureConfidence(base, temperature float64) float64 {
	return min(1, max(0, base-0.1*math.Abs(temperature-0.8)))
}
