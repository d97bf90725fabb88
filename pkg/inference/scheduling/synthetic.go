package scheduling

import (
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/backends"
	"github.com/docker/protein-runner/pkg/protein/sequence"
)

// syntheticConfidence is the confidence reported for every synthetic
// sequence.
const syntheticConfidence = 0.7

// classConstraints lists the composition constraints in fill order.
var classConstraints = []struct {
	name  string
	class sequence.Class
}{
	{inference.ConstraintHydrophobic, sequence.ClassHydrophobic},
	{inference.ConstraintPolar, sequence.ClassPolar},
	{inference.ConstraintCharged, sequence.ClassCharged},
}

// Synthesize produces params.Count sequences without a model. Each sequence
// first receives int(length*f) residues of every constrained class, is
// filled up to length with residues drawn uniformly (or weighted by
// params.Bias), then shuffled. Output depends only on params.
func Synthesize(params inference.GenerateParams) []inference.Candidate {
	fill := backends.FromSet("", 0)
	if len(params.Bias) > 0 {
		fill = fill.Biased(params.Bias)
	}
	out := make([]inference.Candidate, 0, params.Count)
	for i := range params.Count {
		rng := backends.NewRand(params.Seed, uint64(i))
		residues := make([]byte, 0, params.Length)
		for _, cc := range classConstraints {
			f, ok := params.Constraints[cc.name]
			if !ok {
				continue
			}
			members := sequence.ClassMembers(cc.class)
			n := min(int(float64(params.Length)*f), params.Length-len(residues))
			for range n {
				residues = append(residues, members[rng.IntN(len(members))])
			}
		}
		for len(residues) < params.Length {
			residues = append(residues, fill.Draw(rng))
		}
		rng.Shuffle(len(residues), func(a, b int) {
			residues[a], residues[b] = residues[b], residues[a]
		})
		out = append(out, inference.Candidate{
			Sequence:   string(residues),
			Confidence: syntheticConfidence,
		})
	}
	return out
}
