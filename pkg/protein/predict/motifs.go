package predict

import "regexp"

// motif is a PROSITE-style pattern with what a hit implies.
type motif struct {
	name      string
	family    string
	pattern   *regexp.Regexp
	ligands   []string
	dna       bool
	function  string
	certainty float64
}

var motifs = []motif{
	{
		name:      "P-loop NTPase",
		family:    "P-loop",
		pattern:   regexp.MustCompile(`[AG].{4}GK[ST]`),
		ligands:   []string{"ATP", "Mg2+"},
		function:  "enzyme",
		certainty: 0.85,
	},
	{
		name:      "Rossmann fold",
		family:    "Rossmann",
		pattern:   regexp.MustCompile(`G.G..G`),
		ligands:   []string{"NADH", "FAD"},
		function:  "enzyme",
		certainty: 0.7,
	},
	{
		name:      "EF-hand",
		family:    "EF-hand",
		pattern:   regexp.MustCompile(`D.[DNS][^ILVFYW][DENSTG][DNQGHRK][^GP][LIVMC][DENQSTAGC]..[DE]`),
		ligands:   []string{"Ca2+"},
		function:  "binding_protein",
		certainty: 0.8,
	},
	{
		name:      "C2H2 zinc finger",
		family:    "Zinc finger",
		pattern:   regexp.MustCompile(`C.{2,4}C.{3}[LIVMFYWC].{8}H.{3,5}H`),
		ligands:   []string{"Zn2+"},
		dna:       true,
		function:  "dna_binding",
		certainty: 0.9,
	},
	{
		name:      "Leucine zipper",
		family:    "bZIP",
		pattern:   regexp.MustCompile(`L.{6}L.{6}L.{6}L`),
		dna:       true,
		function:  "dna_binding",
		certainty: 0.75,
	},
	{
		name:      "Heme binding",
		family:    "Cytochrome c",
		pattern:   regexp.MustCompile(`C..CH`),
		ligands:   []string{"heme"},
		function:  "transport_protein",
		certainty: 0.8,
	},
}

// nlsPattern matches classical nuclear localization signals.
var nlsPattern = regexp.MustCompile(`[KR]{4}|P.?KK[KR].[KR]`)

type motifHit struct {
	motif  *motif
	region Region
}

// findMotifs returns every non-overlapping hit of every motif, grouped by
// motif in table order.
func findMotifs(seq string) []motifHit {
	var hits []motifHit
	for i := range motifs {
		m := &motifs[i]
		for _, loc := range m.pattern.FindAllStringIndex(seq, -1) {
			hits = append(hits, motifHit{motif: m, region: Region{loc[0], loc[1]}})
		}
	}
	return hits
}
