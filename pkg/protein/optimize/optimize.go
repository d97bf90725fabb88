// Package optimize applies rule-based substitutions that push a sequence
// towards stability, solubility or expression objectives. Sequences are
// indexed by byte, see sequence.ASCII.
package optimize

import (
	"math/rand/v2"
	"strings"

	"github.com/docker/protein-runner/pkg/errdefs"
)

// Objective names an optimization target.
type Objective string

const (
	Stability  Objective = "stability"
	Solubility Objective = "solubility"
	Expression Objective = "expression"
)

// defaultConfidence is reported when no objective changed anything.
const defaultConfidence = 0.7

const (
	hydrophobicSet = "AILMFPWV"
	hydrophilicSet = "NQSTYDEKREH"
	chargedSet     = "DEKR"
	rareSet        = "WMC"
)

type strategy struct {
	substitutions map[byte]string
	// acceptance is the chance a candidate is changed in conservative mode.
	acceptance float64
	reason     string
	score      func(string) float64
	improved   float64
}

var strategies = map[Objective]strategy{
	Stability: {
		substitutions: map[byte]string{'P': "AG", 'G': "AS", 'C': "ST"},
		acceptance:    0.3,
		reason:        "improved structural stability",
		score:         StabilityScore,
		improved:      0.8,
	},
	Solubility: {
		substitutions: map[byte]string{'I': "TS", 'L': "KR", 'V': "NQ", 'F': "YH", 'W': "YH"},
		acceptance:    0.4,
		reason:        "increased surface hydrophilicity",
		score:         SolubilityScore,
		improved:      0.75,
	},
	Expression: {
		substitutions: map[byte]string{'M': "LI", 'C': "AS", 'W': "FY"},
		acceptance:    0.35,
		reason:        "improved expression compatibility",
		score:         ExpressionScore,
		improved:      0.7,
	},
}

// Request describes one optimization run.
type Request struct {
	Sequence     string
	Objectives   []Objective
	MaxMutations int // 0 means unlimited
	Conservative bool
}

// Change is one substitution. Position is 0-indexed.
type Change struct {
	Position int    `json:"position"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason"`
}

// Improvement reports the effect of one objective.
type Improvement struct {
	Objective      Objective `json:"objective"`
	OriginalScore  float64   `json:"original_score"`
	OptimizedScore float64   `json:"optimized_score"`
	Improvement    float64   `json:"improvement"`
	Confidence     float64   `json:"confidence"`
	Changes        []Change  `json:"changes"`
}

// Result is the outcome of Optimize.
type Result struct {
	OriginalSequence  string        `json:"original_sequence"`
	OptimizedSequence string        `json:"optimized_sequence"`
	Improvements      []Improvement `json:"improvements"`
	OverallConfidence float64       `json:"overall_confidence"`
	MutationsMade     int           `json:"mutations_made"`
}

// ParseObjectives validates objective names. An empty list selects
// stability.
func ParseObjectives(names []string) ([]Objective, error) {
	if len(names) == 0 {
		return []Objective{Stability}, nil
	}
	out := make([]Objective, 0, len(names))
	for _, n := range names {
		o := Objective(strings.ToLower(strings.TrimSpace(n)))
		if _, ok := strategies[o]; !ok {
			return nil, errdefs.InvalidParameters("optimize", "unknown objective %q", n)
		}
		out = append(out, o)
	}
	return out, nil
}

// Optimize applies each objective in turn to the output of the previous
// one. MaxMutations caps the changes made per objective.
func Optimize(rng *rand.Rand, req Request) (*Result, error) {
	if req.Sequence == "" {
		return nil, errdefs.InvalidSequence("optimize", "sequence is empty")
	}
	if req.MaxMutations < 0 {
		return nil, errdefs.InvalidParameters("optimize", "max mutations must not be negative, got %d", req.MaxMutations)
	}
	objectives := req.Objectives
	if len(objectives) == 0 {
		objectives = []Objective{Stability}
	}

	res := &Result{
		OriginalSequence: req.Sequence,
		Improvements:     []Improvement{},
	}
	current := req.Sequence
	for _, o := range objectives {
		s, ok := strategies[o]
		if !ok {
			return nil, errdefs.InvalidParameters("optimize", "unknown objective %q", o)
		}
		next, changes := s.apply(rng, current, req)
		if len(changes) == 0 {
			continue
		}
		before, after := s.score(current), s.score(next)
		imp := Improvement{
			Objective:      o,
			OriginalScore:  before,
			OptimizedScore: after,
			Improvement:    after - before,
			Confidence:     0.6,
			Changes:        changes,
		}
		if imp.Improvement > 0 {
			imp.Confidence = s.improved
		}
		res.Improvements = append(res.Improvements, imp)
		res.MutationsMade += len(changes)
		current = next
	}
	res.OptimizedSequence = current

	res.OverallConfidence = defaultConfidence
	if len(res.Improvements) > 0 {
		var sum float64
		for _, imp := range res.Improvements {
			sum += imp.Confidence
		}
		res.OverallConfidence = sum / float64(len(res.Improvements))
	}
	return res, nil
}

func (s strategy) apply(rng *rand.Rand, seq string, req Request) (string, []Change) {
	b := []byte(seq)
	var changes []Change
	for i, r := range b {
		if req.MaxMutations > 0 && len(changes) >= req.MaxMutations {
			break
		}
		options, ok := s.substitutions[r]
		if !ok {
			continue
		}
		if req.Conservative && rng.Float64() >= s.acceptance {
			continue
		}
		to := options[rng.IntN(len(options))]
		b[i] = to
		changes = append(changes, Change{Position: i, From: string(r), To: string(to), Reason: s.reason})
	}
	return string(b), changes
}

// StabilityScore rewards balanced charge and moderate hydrophobicity and
// penalises proline above 10%.
func StabilityScore(seq string) float64 {
	if seq == "" {
		return 0
	}
	n := float64(len(seq))
	score := 0.5
	if p := float64(strings.Count(seq, "P")) / n; p > 0.1 {
		score -= (p - 0.1) * 0.5
	}
	pos := float64(countAny(seq, "KRH"))
	neg := float64(countAny(seq, "DE"))
	score += (1 - abs(pos-neg)/n) * 0.2
	if h := float64(countAny(seq, hydrophobicSet)) / n; h >= 0.3 && h <= 0.5 {
		score += 0.2
	}
	return clamp01(score)
}

// SolubilityScore rewards hydrophilic and charged residues.
func SolubilityScore(seq string) float64 {
	if seq == "" {
		return 0
	}
	n := float64(len(seq))
	score := 0.5 + float64(countAny(seq, hydrophilicSet))/n*0.4
	if h := float64(countAny(seq, hydrophobicSet)) / n; h > 0.4 {
		score -= (h - 0.4) * 0.5
	}
	score += float64(countAny(seq, chargedSet)) / n * 0.3
	return clamp01(score)
}

// ExpressionScore penalises rare residues and long hydrophobic runs.
func ExpressionScore(seq string) float64 {
	if seq == "" {
		return 0
	}
	n := float64(len(seq))
	score := 0.6
	if r := float64(countAny(seq, rareSet)) / n; r > 0.05 {
		score -= (r - 0.05) * 0.3
	}
	run, longest := 0, 0
	for i := 0; i < len(seq); i++ {
		if strings.IndexByte(hydrophobicSet, seq[i]) >= 0 {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	if longest > 3 {
		score -= float64(longest-3) * 0.1
	}
	return clamp01(score)
}

func countAny(seq, set string) int {
	n := 0
	for i := 0; i < len(seq); i++ {
		if strings.IndexByte(set, seq[i]) >= 0 {
			n++
		}
	}
	return n
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
