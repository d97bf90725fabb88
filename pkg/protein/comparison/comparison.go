// Package comparison scores sequences against each other position by
// position and derives a consensus and a guide tree from the scores.
//
// Scores are computed over the aligned prefix of each pair only. There are
// no gaps and no dynamic programming, so the alignment score and the tree
// are approximations meant for quick visual comparison.
package comparison

import (
	"strconv"
	"strings"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/protein/sequence"
)

const (
	matchScore      = 5
	similarScore    = 2
	dissimilarScore = -1
	// similarWeight is the identity credit given to a same-class mismatch.
	similarWeight = 0.5
)

// Pair holds the scores of one unordered pair of inputs, I < J.
type Pair struct {
	I              int     `json:"sequence_1_index"`
	J              int     `json:"sequence_2_index"`
	Similarity     float64 `json:"similarity"`
	Identity       float64 `json:"identity"`
	AlignmentScore float64 `json:"alignment_score"`
	Overlap        int     `json:"overlap"`
}

// Matrix is the result of Compare.
type Matrix struct {
	Sequences []string    `json:"sequences"`
	Pairs     []Pair      `json:"comparisons"`
	Consensus string      `json:"consensus_sequence"`
	Newick    string      `json:"newick"`
	Distances [][]float64 `json:"distances"`
}

// Compare scores every pair of seqs and builds the consensus and tree.
func Compare(seqs []string) (*Matrix, error) {
	if len(seqs) < 2 {
		return nil, errdefs.InvalidSequence("compare", "at least 2 sequences are required, got %d", len(seqs))
	}
	for i, s := range seqs {
		if s == "" {
			return nil, errdefs.InvalidSequence("compare", "sequence %d is empty", i)
		}
	}

	n := len(seqs)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	pairs := make([]Pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			p := ComparePair(seqs[i], seqs[j])
			p.I, p.J = i, j
			pairs = append(pairs, p)
			dist[i][j] = 1 - p.Identity
			dist[j][i] = dist[i][j]
		}
	}

	labels := make([]string, n)
	for i := range labels {
		labels[i] = leafName(i)
	}
	return &Matrix{
		Sequences: seqs,
		Pairs:     pairs,
		Consensus: Consensus(seqs),
		Newick:    Tree(labels, dist),
		Distances: dist,
	}, nil
}

// ComparePair scores a against b over their common prefix, counted in
// characters. The returned pair has zero indices.
func ComparePair(a, b string) Pair {
	ra, rb := []rune(a), []rune(b)
	overlap := min(len(ra), len(rb))
	longest := max(len(ra), len(rb))
	if overlap == 0 {
		return Pair{}
	}
	var matches, similar, dissimilar int
	for k := 0; k < overlap; k++ {
		switch x, y := ra[k], rb[k]; {
		case x == y:
			matches++
		case sequence.SameClassRune(x, y):
			similar++
		default:
			dissimilar++
		}
	}
	o := float64(overlap)
	raw := float64(matchScore*matches + similarScore*similar + dissimilarScore*dissimilar)
	return Pair{
		Identity:       float64(matches) / o,
		Similarity:     min(1, (float64(matches)+similarWeight*float64(similar))/o),
		AlignmentScore: raw * o / float64(longest),
		Overlap:        overlap,
	}
}

// Consensus returns the majority residue at every position up to the
// longest input. Only inputs long enough to cover a position vote on it;
// ties go to the lexicographically smallest residue.
func Consensus(seqs []string) string {
	decoded := make([][]rune, len(seqs))
	longest := 0
	for i, s := range seqs {
		decoded[i] = []rune(s)
		longest = max(longest, len(decoded[i]))
	}
	var b strings.Builder
	b.Grow(longest)
	counts := make(map[rune]int)
	for pos := 0; pos < longest; pos++ {
		clear(counts)
		for _, res := range decoded {
			if pos < len(res) {
				counts[res[pos]]++
			}
		}
		var best rune
		for r, n := range counts {
			if n > counts[best] || (n == counts[best] && r < best) {
				best = r
			}
		}
		b.WriteRune(best)
	}
	return b.String()
}

func leafName(i int) string {
	return "seq_" + strconv.Itoa(i)
}
