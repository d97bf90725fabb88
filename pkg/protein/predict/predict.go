// Package predict holds deterministic, composition-based heuristics for
// function, stability, interaction and structure prediction. Model adapters
// build on them and the dispatcher falls back to them when no capable
// model is available.
//
// Positions are byte offsets. Callers holding arbitrary text pass it
// through sequence.ASCII first.
package predict

import (
	"math"
	"strings"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/protein/sequence"
)

// Region is a half-open span [Start, End) of 0-indexed positions.
type Region struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of residues covered.
func (r Region) Len() int { return r.End - r.Start }

func checkSequence(op, seq string) error {
	if seq == "" {
		return errdefs.InvalidSequence(op, "sequence is empty")
	}
	return nil
}

// fraction returns the share of seq made of residues in set.
func fraction(seq, set string) float64 {
	if seq == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(seq); i++ {
		if strings.IndexByte(set, seq[i]) >= 0 {
			n++
		}
	}
	return float64(n) / float64(len(seq))
}

// windows returns the regions of at least minLen where every window of
// width w has at least threshold of its residues in set. Overlapping
// windows are merged.
func windows(seq, set string, w int, threshold float64, minLen int) []Region {
	if len(seq) < w {
		if len(seq) >= minLen && fraction(seq, set) >= threshold {
			return []Region{{0, len(seq)}}
		}
		return nil
	}
	var out []Region
	for i := 0; i+w <= len(seq); i++ {
		if fraction(seq[i:i+w], set) < threshold {
			continue
		}
		if n := len(out); n > 0 && out[n-1].End >= i {
			out[n-1].End = i + w
			continue
		}
		out = append(out, Region{i, i + w})
	}
	kept := out[:0]
	for _, r := range out {
		if r.Len() >= minLen {
			kept = append(kept, r)
		}
	}
	return kept
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func classFraction(seq string, c sequence.Class) float64 {
	return fraction(seq, sequence.ClassMembers(c))
}
