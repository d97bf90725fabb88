// Package mutation generates point, insertion and deletion variants of a
// sequence together with predicted stability and function deltas.
package mutation

import (
	"math/rand/v2"
	"slices"
	"sort"
	"unicode/utf8"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/protein/sequence"
)

// Type selects how a sequence is mutated.
type Type string

const (
	TypeRandom       Type = "random"
	TypeConservative Type = "conservative"
	TypeInsertion    Type = "insertion"
	TypeDeletion     Type = "deletion"
)

// Kind is the kind of a single recorded mutation.
type Kind string

const (
	KindSubstitution Kind = "substitution"
	KindInsertion    Kind = "insertion"
	KindDeletion     Kind = "deletion"
)

const (
	// MaxVariants is the largest number of variants MutateMany returns.
	MaxVariants = 10
	// withinClassScale bounds deltas of substitutions inside one class.
	withinClassScale = 0.1
	// crossClassScale bounds deltas of everything else.
	crossClassScale = 0.3
)

// Mutation records a single change. Positions are 0-indexed; insertion
// positions refer to the mutated sequence, all others to the original.
type Mutation struct {
	Position       int     `json:"position"`
	Original       string  `json:"original"`
	Mutated        string  `json:"mutated"`
	Kind           Kind    `json:"kind"`
	StabilityDelta float64 `json:"stability_delta"`
	FunctionDelta  float64 `json:"function_delta"`
}

// Effects aggregates the predicted effects of all mutations in a variant.
type Effects struct {
	Stability float64 `json:"stability_change"`
	Function  float64 `json:"function_change"`
}

// Variant is one mutated sequence.
type Variant struct {
	Sequence   string     `json:"sequence"`
	Type       Type       `json:"mutation_type"`
	Mutations  []Mutation `json:"mutations"`
	Effects    Effects    `json:"predicted_effects"`
	Confidence float64    `json:"confidence"`
}

// Engine mutates sequences using its own pseudo-random source. An Engine is
// not safe for concurrent use.
type Engine struct {
	rng *rand.Rand
}

// New creates an engine drawing from src.
func New(src rand.Source) *Engine {
	return &Engine{rng: rand.New(src)}
}

// NewSeeded creates an engine with a deterministic PCG source.
func NewSeeded(seed uint64) *Engine {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ParseType validates a mutation type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeRandom, TypeConservative, TypeInsertion, TypeDeletion:
		return t, nil
	case "":
		return TypeRandom, nil
	default:
		return "", errdefs.InvalidParameters("mutate", "unknown mutation type %q", s)
	}
}

// Mutate applies count mutations of type t to seq. Positions and lengths
// count characters, not bytes.
func (e *Engine) Mutate(seq string, t Type, count int) (*Variant, error) {
	if seq == "" {
		return nil, errdefs.InvalidSequence("mutate", "sequence is empty")
	}
	if count < 1 {
		return nil, errdefs.InvalidParameters("mutate", "mutation count must be at least 1, got %d", count)
	}
	res := []rune(seq)
	if count > len(res) {
		if t == TypeDeletion {
			return nil, errdefs.InvalidSequence("mutate", "cannot delete %d residues from a sequence of length %d", count, len(res))
		}
		return nil, errdefs.InvalidParameters("mutate", "mutation count %d exceeds sequence length %d", count, len(res))
	}

	var (
		mutated   string
		mutations []Mutation
		err       error
	)
	switch t {
	case TypeRandom:
		mutated, mutations = e.substitute(res, count)
	case TypeConservative:
		mutated, mutations, err = e.conservative(res, count)
	case TypeInsertion:
		mutated, mutations = e.insert(res, count)
	case TypeDeletion:
		mutated, mutations = e.remove(res, count)
	default:
		return nil, errdefs.InvalidParameters("mutate", "unknown mutation type %q", t)
	}
	if err != nil {
		return nil, err
	}
	return newVariant(mutated, t, mutations), nil
}

// MutateMany returns up to MaxVariants independent variants.
func (e *Engine) MutateMany(seq string, t Type, count, variants int) ([]*Variant, error) {
	variants = min(max(variants, 1), MaxVariants)
	result := make([]*Variant, 0, variants)
	for i := 0; i < variants; i++ {
		v, err := e.Mutate(seq, t, count)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// substitute replaces residues at count distinct positions with a uniformly
// chosen different canonical residue.
func (e *Engine) substitute(res []rune, count int) (string, []Mutation) {
	positions := e.rng.Perm(len(res))[:count]
	sort.Ints(positions)
	mutations := make([]Mutation, 0, count)
	for _, pos := range positions {
		original := res[pos]
		replacement := e.pickOther(sequence.Alphabet, original)
		res[pos] = replacement
		mutations = append(mutations, e.record(pos, original, replacement, KindSubstitution))
	}
	return string(res), mutations
}

// conservative substitutes within the physicochemical class of the original
// residue. Only canonical positions are eligible.
func (e *Engine) conservative(res []rune, count int) (string, []Mutation, error) {
	eligible := make([]int, 0, len(res))
	for i, r := range res {
		if sequence.IsCanonicalRune(r) {
			eligible = append(eligible, i)
		}
	}
	if count > len(eligible) {
		return "", nil, errdefs.InvalidParameters("mutate",
			"conservative mutation count %d exceeds %d canonical positions", count, len(eligible))
	}
	e.rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	positions := eligible[:count]
	sort.Ints(positions)
	mutations := make([]Mutation, 0, count)
	for _, pos := range positions {
		original := res[pos]
		replacement := e.pickOther(sequence.ClassMembers(sequence.ClassOfRune(original)), original)
		res[pos] = replacement
		mutations = append(mutations, e.record(pos, original, replacement, KindSubstitution))
	}
	return string(res), mutations, nil
}

// insert adds count random residues at random positions.
func (e *Engine) insert(res []rune, count int) (string, []Mutation) {
	mutations := make([]Mutation, 0, count)
	for i := 0; i < count; i++ {
		pos := e.rng.IntN(len(res) + 1)
		residue := rune(sequence.Alphabet[e.rng.IntN(len(sequence.Alphabet))])
		res = slices.Insert(res, pos, residue)
		for j := range mutations {
			if mutations[j].Position >= pos {
				mutations[j].Position++
			}
		}
		mutations = append(mutations, e.record(pos, 0, residue, KindInsertion))
	}
	sort.Slice(mutations, func(i, j int) bool { return mutations[i].Position < mutations[j].Position })
	return string(res), mutations
}

// remove deletes residues at count distinct positions.
func (e *Engine) remove(res []rune, count int) (string, []Mutation) {
	positions := e.rng.Perm(len(res))[:count]
	sort.Ints(positions)
	removed := make(map[int]bool, count)
	mutations := make([]Mutation, 0, count)
	for _, pos := range positions {
		removed[pos] = true
		mutations = append(mutations, e.record(pos, res[pos], 0, KindDeletion))
	}
	kept := make([]rune, 0, len(res)-count)
	for i, r := range res {
		if !removed[i] {
			kept = append(kept, r)
		}
	}
	return string(kept), mutations
}

// pickOther chooses uniformly from pool excluding r. Pools always contain
// at least one other residue.
func (e *Engine) pickOther(pool string, r rune) rune {
	others := make([]rune, 0, len(pool))
	for _, c := range pool {
		if c != r {
			others = append(others, c)
		}
	}
	return others[e.rng.IntN(len(others))]
}

// record builds a Mutation with bounded random effect deltas. Substitutions
// that stay inside a class get the small scale; everything else the large.
func (e *Engine) record(pos int, original, mutated rune, kind Kind) Mutation {
	scale := crossClassScale
	if kind == KindSubstitution && sequence.SameClassRune(original, mutated) {
		scale = withinClassScale
	}
	m := Mutation{
		Position:       pos,
		Kind:           kind,
		StabilityDelta: clamp(scale*(2*e.rng.Float64()-1), -1, 1),
		FunctionDelta:  clamp(scale*(2*e.rng.Float64()-1), -1, 1),
	}
	if kind != KindInsertion {
		m.Original = string(original)
	}
	if kind != KindDeletion {
		m.Mutated = string(mutated)
	}
	return m
}

func newVariant(seq string, t Type, mutations []Mutation) *Variant {
	v := &Variant{Sequence: seq, Type: t, Mutations: mutations}
	cross := 0
	for _, m := range mutations {
		v.Effects.Stability += m.StabilityDelta
		v.Effects.Function += m.FunctionDelta
		original, _ := utf8.DecodeRuneInString(m.Original)
		mutated, _ := utf8.DecodeRuneInString(m.Mutated)
		if m.Kind != KindSubstitution || !sequence.SameClassRune(original, mutated) {
			cross++
		}
	}
	v.Effects.Stability = clamp(v.Effects.Stability, -1, 1)
	v.Effects.Function = clamp(v.Effects.Function, -1, 1)
	v.Confidence = clamp(0.9-0.2*float64(cross)/float64(len(mutations)), 0, 1)
	return v
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
