package sequence

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/stretchr/testify/require"
)

func randomSequence(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[r.IntN(len(Alphabet))]
	}
	return string(b)
}

func TestAnalyzeEmpty(t *testing.T) {
	_, err := Analyze("")
	require.ErrorIs(t, err, errdefs.ErrInvalidSequence)
}

func TestAnalyzeScenario(t *testing.T) {
	report, err := Analyze("MALWMRLL")
	require.NoError(t, err)
	require.Equal(t, 8, report.Length)
	require.Equal(t, map[string]int{"M": 2, "A": 1, "L": 3, "W": 1, "R": 1}, report.Composition.Counts())

	// Composition keeps first-seen order.
	var order []rune
	for _, rc := range report.Composition {
		order = append(order, rc.Residue)
	}
	require.Equal(t, "MALWR", string(order))

	encoded, err := json.Marshal(report.Composition)
	require.NoError(t, err)
	require.Equal(t, `{"M":2,"A":1,"L":3,"W":1,"R":1}`, string(encoded))

	require.True(t, Validate("MALWMRLL").Valid)
}

func TestCompositionSumsToLength(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		seq := randomSequence(r, 1+r.IntN(300))
		report, err := Analyze(seq)
		require.NoError(t, err)
		require.Equal(t, len(seq), report.Composition.Total())
		require.Equal(t, len(seq), report.Length)
	}
}

func TestMolecularWeight(t *testing.T) {
	tests := []struct {
		seq  string
		want float64
	}{
		{"G", 75.07},
		{"GG", 132.12},
		{"AR", 89.094 + 174.203 - 18.015},
	}
	for _, tt := range tests {
		t.Run(tt.seq, func(t *testing.T) {
			report, err := Analyze(tt.seq)
			require.NoError(t, err)
			require.InDelta(t, tt.want, report.MolecularWeight, 0.01)
		})
	}
}

func TestIsoelectricPoint(t *testing.T) {
	tests := []struct {
		name   string
		seq    string
		lo, hi float64
	}{
		{"basic", "KKKKRRRR", 10, 14},
		{"acidic", "DDDDEEEE", 2, 4.5},
		{"scenario", "MALWMRLL", 9, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pI := IsoelectricPoint(tt.seq)
			require.Greater(t, pI, tt.lo)
			require.Less(t, pI, tt.hi)
			require.InDelta(t, 0, NetCharge(tt.seq, pI), 0.01)
		})
	}
}

func TestHydrophobicityAndStructure(t *testing.T) {
	report, err := Analyze("AAAA")
	require.NoError(t, err)
	require.InDelta(t, 1.8, report.Hydrophobicity, 1e-9)

	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 50; i++ {
		report, err := Analyze(randomSequence(r, 1+r.IntN(100)))
		require.NoError(t, err)
		ss := report.SecondaryStructure
		require.InDelta(t, 1.0, ss.Helix+ss.Sheet+ss.Coil, 1e-9)
		require.GreaterOrEqual(t, ss.Coil, 0.0)
	}
}

func TestAnalyzeNonCanonical(t *testing.T) {
	report, err := Analyze("XXB")
	require.NoError(t, err)
	require.Equal(t, 3, report.Length)
	require.Zero(t, report.MolecularWeight)
	require.Equal(t, StructureFractions{Coil: 1}, report.SecondaryStructure)
}

func TestNonASCIICharacters(t *testing.T) {
	report, err := Analyze("AÅA")
	require.NoError(t, err)
	require.Equal(t, 3, report.Length)
	require.Equal(t, Composition{{Residue: 'A', Count: 2}, {Residue: 'Å', Count: 1}}, report.Composition)
	require.Equal(t, report.Length, report.Composition.Total())

	encoded, err := json.Marshal(report.Composition)
	require.NoError(t, err)
	require.Equal(t, `{"A":2,"Å":1}`, string(encoded))

	v := Validate("AÅC")
	require.Equal(t, 3, v.Length)
	require.Len(t, v.Errors, 1)
	require.Equal(t, 1, v.Errors[0].Position)
	require.Equal(t, "Å", v.Errors[0].Residue)
	require.InDelta(t, (1-1.0/3)*outlierFactor, v.Score, 1e-9)

	require.Equal(t, "AXC", ASCII("AÅC"))
	require.Equal(t, "MKT", ASCII("MKT"))
	require.True(t, SameClassRune('D', 'K'))
	require.False(t, SameClassRune('Å', 'Å'))
	require.False(t, IsCanonicalRune('Å'))
}

func TestValidate(t *testing.T) {
	v := Validate("MKTAYIAKQRQISFVKSHFSRQ")
	require.True(t, v.Valid)
	require.Empty(t, v.Errors)
	require.Equal(t, 1.0, v.Score)

	v = Validate("MKTAYIAKQXQISFVKSHFSRQ")
	require.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	require.Equal(t, 9, v.Errors[0].Position)
	require.Equal(t, "X", v.Errors[0].Residue)
	require.Less(t, v.Score, 1.0)

	short := Validate("MKT")
	require.True(t, short.Valid)
	require.InDelta(t, outlierFactor, short.Score, 1e-9)
	require.NotEmpty(t, short.Warnings)

	long := Validate(strings.Repeat("A", MaxTypicalLength+1))
	require.InDelta(t, outlierFactor, long.Score, 1e-9)

	empty := Validate("")
	require.False(t, empty.Valid)
	require.Zero(t, empty.Score)
}

func TestValidateMonotonic(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	invalid := []byte("XBZJO*1-")
	for i := 0; i < 200; i++ {
		seq := randomSequence(r, 1+r.IntN(25))
		prev := Validate(seq).Score
		for j := 0; j < 12; j++ {
			seq += string(invalid[r.IntN(len(invalid))])
			score := Validate(seq).Score
			require.LessOrEqual(t, score, prev, "appending to %q raised the score", seq)
			prev = score
		}
	}
}

func TestAssignSecondary(t *testing.T) {
	states := AssignSecondary("EEEEAAAALLLLMMMM")
	require.Equal(t, strings.Repeat("H", 16), SecondaryString(states))

	states = AssignSecondary("VVVVIIIIYYYY")
	require.Equal(t, strings.Repeat("E", 12), SecondaryString(states))

	states = AssignSecondary("GGGG?NNNPPP")
	require.Len(t, states, 11)
	require.Equal(t, Coil, states[4])
}

func TestClasses(t *testing.T) {
	seen := map[byte]bool{}
	for _, c := range []Class{ClassHydrophobic, ClassPolar, ClassCharged, ClassAromatic} {
		members := ClassMembers(c)
		require.GreaterOrEqual(t, len(members), 3)
		for i := 0; i < len(members); i++ {
			require.False(t, seen[members[i]], "residue %c in two classes", members[i])
			seen[members[i]] = true
			require.Equal(t, c, ClassOf(members[i]))
		}
	}
	require.Len(t, seen, len(Alphabet))
	require.True(t, SameClass('D', 'K'))
	require.False(t, SameClass('D', 'X'))
	require.Equal(t, "MKTA", Normalize(" mk\tta\n"))
}
