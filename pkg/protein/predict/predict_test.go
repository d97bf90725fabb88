package predict

import (
	"math"
	"strings"
	"testing"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/stretchr/testify/require"
)

const ubiquitin = "MQIFVKTLTGKTITLEVEPSDTIENVKAKIQDKEGIPPDQQRLIFAGKQLEDGRTLSDYNIQKESTLHLVLRLRGG"

func TestEmptySequence(t *testing.T) {
	_, err := PredictFunction("")
	require.ErrorIs(t, err, errdefs.ErrInvalidSequence)
	_, err = AnalyzeStability("", Conditions{})
	require.ErrorIs(t, err, errdefs.ErrInvalidSequence)
	_, err = PredictInteractions("", ProteinPartners)
	require.ErrorIs(t, err, errdefs.ErrInvalidSequence)
	_, err = PredictStructure("")
	require.ErrorIs(t, err, errdefs.ErrInvalidSequence)
}

func TestPredictFunction(t *testing.T) {
	f, err := PredictFunction(ubiquitin)
	require.NoError(t, err)
	require.Len(t, f.Functions, len(goTerms))
	for i := 1; i < len(f.Functions); i++ {
		require.GreaterOrEqual(t, f.Functions[i-1].Probability, f.Functions[i].Probability)
	}
	for _, fs := range f.Functions {
		require.NotEmpty(t, fs.GOTerm)
		require.GreaterOrEqual(t, fs.Probability, 0.05)
		require.LessOrEqual(t, fs.Probability, 0.95)
	}
	require.Equal(t, f.Top().Probability, f.Probability(f.Top().Name))
	require.Zero(t, f.Probability("chaperone"))
	require.True(t, IsFunction("dna_binding"))
	require.False(t, IsFunction("chaperone"))

	loc := f.Localization
	require.InDelta(t, 1, loc.Cytoplasm+loc.Nucleus+loc.Membrane+loc.Extracellular, 0.005)

	again, err := PredictFunction(ubiquitin)
	require.NoError(t, err)
	require.Equal(t, f, again)
}

func TestPredictFunctionZincFinger(t *testing.T) {
	// Zif268 DNA-binding domain, three C2H2 fingers.
	seq := "MERPYACPVESCDRRFSRSDELTRHIRIHTGQKPFQCRICMRNFSRSDHLTTHIRTHTGEKPFACDICGRKFARSDERKRHTKIHLRQKD"
	f, err := PredictFunction(seq)
	require.NoError(t, err)
	require.Equal(t, "dna_binding", f.Top().Name)
	var zf int
	for _, d := range f.Domains {
		if d.Name == "C2H2 zinc finger" {
			zf++
		}
	}
	require.Equal(t, 3, zf)
}

func TestTransmembraneSegments(t *testing.T) {
	seq := "MKKDE" + strings.Repeat("LIVFA", 5) + "KDEKR"
	tm := TransmembraneSegments(seq)
	require.Len(t, tm, 1)
	require.GreaterOrEqual(t, tm[0].Len(), tmWindow)
	require.Empty(t, TransmembraneSegments(strings.Repeat("KDE", 20)))
}

func TestAnalyzeStability(t *testing.T) {
	s, err := AnalyzeStability(ubiquitin, Conditions{})
	require.NoError(t, err)
	require.Equal(t, Conditions{Temperature: DefaultTemperature, PH: DefaultPH}, s.Conditions)
	require.InDelta(t, s.OverallScore, s.Metrics.Thermodynamic, 1e-3)

	hot, err := AnalyzeStability(ubiquitin, Conditions{Temperature: 80, PH: 7})
	require.NoError(t, err)
	require.Less(t, hot.Metrics.Thermodynamic, s.Metrics.Thermodynamic)

	acid, err := AnalyzeStability(ubiquitin, Conditions{Temperature: 37, PH: 2})
	require.NoError(t, err)
	require.Greater(t, acid.Metrics.NetCharge, s.Metrics.NetCharge)

	_, err = AnalyzeStability(ubiquitin, Conditions{PH: 15})
	require.ErrorIs(t, err, errdefs.ErrInvalidParameters)
}

func TestWeakRegions(t *testing.T) {
	s, err := AnalyzeStability("SSSS"+"LLLLLLL"+"SSSS"+"KKKKK"+"SSSS", Conditions{})
	require.NoError(t, err)
	reasons := map[string]Region{}
	for _, w := range s.WeakRegions {
		reasons[w.Reason] = w.Region
		require.GreaterOrEqual(t, w.Severity, 0.3)
		require.LessOrEqual(t, w.Severity, 0.8)
	}
	require.Equal(t, Region{4, 11}, reasons["hydrophobic_cluster"])
	require.Equal(t, Region{15, 20}, reasons["charge_repulsion"])
	require.Len(t, s.Suggestions, 2)
	for _, sg := range s.Suggestions {
		require.NotEqual(t, sg.Original, sg.Suggested)
	}
}

func TestPredictInteractions(t *testing.T) {
	lig, err := PredictInteractions("MGAAAAGKSTLLKAAGLGAIG", LigandPartners)
	require.NoError(t, err)
	partners := map[string]bool{}
	for _, in := range lig.Interactions {
		partners[in.Partner] = true
	}
	require.True(t, partners["ATP"])
	require.Equal(t, len(lig.Interactions), lig.Summary.Total)
	require.Len(t, lig.Network.Nodes, lig.Summary.Total+1)
	require.Len(t, lig.Network.Edges, lig.Summary.Total)

	none, err := PredictInteractions("SSSSSSSS", ProteinPartners)
	require.NoError(t, err)
	require.Empty(t, none.Interactions)
	require.Zero(t, none.Summary.AverageConfidence)

	dna, err := PredictInteractions("SSKRKRKRKRSS", DNAPartners)
	require.NoError(t, err)
	require.NotEmpty(t, dna.Interactions)

	_, err = ParseInteractionKind("rna")
	require.ErrorIs(t, err, errdefs.ErrInvalidParameters)
	k, err := ParseInteractionKind("")
	require.NoError(t, err)
	require.Equal(t, ProteinPartners, k)
}

func TestPredictStructure(t *testing.T) {
	s, err := PredictStructure(ubiquitin)
	require.NoError(t, err)
	require.Len(t, s.Secondary, len(ubiquitin))
	require.Len(t, s.Confidence, len(ubiquitin))
	require.Len(t, s.Trace, len(ubiquitin))
	for i := 1; i < len(s.Trace); i++ {
		a, b := s.Trace[i-1], s.Trace[i]
		d := math.Sqrt((a.X-b.X)*(a.X-b.X) + (a.Y-b.Y)*(a.Y-b.Y) + (a.Z-b.Z)*(a.Z-b.Z))
		require.InDelta(t, 3.75, d, 0.15, "C-alpha distance at %d", i)
	}
	for _, c := range s.Confidence {
		require.GreaterOrEqual(t, c, 0.1)
		require.LessOrEqual(t, c, 0.99)
	}

	lines := strings.Split(strings.TrimSpace(s.PDB), "\n")
	var atoms int
	for _, l := range lines {
		if strings.HasPrefix(l, "ATOM  ") {
			atoms++
			require.Len(t, l, 78)
			require.Equal(t, " CA ", l[12:16])
		}
	}
	require.Equal(t, len(ubiquitin), atoms)
	require.Equal(t, "END", lines[len(lines)-1])
	require.Equal(t, "MET", lines[3][17:20])
}

func TestDisorderedRegions(t *testing.T) {
	seq := "LIVLIV" + strings.Repeat("SPEKG", 4) + "LIVLIV"
	rs := DisorderedRegions(seq)
	require.Len(t, rs, 1)
	require.Equal(t, Region{4, 28}, rs[0])
	require.Empty(t, DisorderedRegions("LIVLIVLIVLIV"))
}
