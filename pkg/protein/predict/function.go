package predict

import (
	"cmp"
	"slices"

	"github.com/docker/protein-runner/pkg/protein/sequence"
)

const (
	// tmWindow and tmThreshold follow the Kyte-Doolittle transmembrane
	// helix criterion.
	tmWindow    = 19
	tmThreshold = 1.6
)

var goTerms = map[string]string{
	"enzyme":             "GO:0003824",
	"binding_protein":    "GO:0005515",
	"structural_protein": "GO:0005198",
	"transport_protein":  "GO:0005215",
	"dna_binding":        "GO:0003677",
}

// FunctionScore is the probability of one functional category.
type FunctionScore struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	GOTerm      string  `json:"go_term"`
}

// Domain is a predicted domain or motif.
type Domain struct {
	Name        string  `json:"name"`
	Family      string  `json:"family"`
	Region      Region  `json:"region"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// Localization holds subcellular localization shares summing to 1.
type Localization struct {
	Cytoplasm     float64 `json:"cytoplasm"`
	Nucleus       float64 `json:"nucleus"`
	Membrane      float64 `json:"membrane"`
	Extracellular float64 `json:"extracellular"`
}

// Function is the result of PredictFunction.
type Function struct {
	Sequence     string          `json:"sequence"`
	Functions    []FunctionScore `json:"predicted_functions"`
	Domains      []Domain        `json:"domains"`
	Localization Localization    `json:"subcellular_localization"`
	Confidence   float64         `json:"confidence"`
	Method       string          `json:"method"`
}

// IsFunction reports whether name is a known functional category.
func IsFunction(name string) bool {
	_, ok := goTerms[name]
	return ok
}

// Probability returns the probability of the named category, or zero when
// it was not scored.
func (f *Function) Probability(name string) float64 {
	for _, s := range f.Functions {
		if s.Name == name {
			return s.Probability
		}
	}
	return 0
}

// Top returns the most probable function.
func (f *Function) Top() FunctionScore {
	if len(f.Functions) == 0 {
		return FunctionScore{}
	}
	return f.Functions[0]
}

// PredictFunction scores functional categories from composition, motifs
// and transmembrane segments.
func PredictFunction(seq string) (*Function, error) {
	if err := checkSequence("predict_function", seq); err != nil {
		return nil, err
	}
	hits := findMotifs(seq)
	tm := TransmembraneSegments(seq)

	scores := map[string]float64{
		"enzyme":             0.3 + 1.5*fraction(seq, "HCDSE")*min(1, float64(len(seq))/100),
		"binding_protein":    0.2 + 1.2*classFraction(seq, sequence.ClassAromatic) + 0.3*classFraction(seq, sequence.ClassHydrophobic),
		"structural_protein": 0.1 + 1.5*fraction(seq, "GP") + repeatBonus(seq),
		"transport_protein":  0.1 + 0.2*float64(len(tm)),
		"dna_binding":        0.05 + 1.2*fraction(seq, "KR"),
	}
	for _, h := range hits {
		scores[h.motif.function] += 0.25 * h.motif.certainty
	}

	f := &Function{
		Sequence:  seq,
		Functions: make([]FunctionScore, 0, len(scores)),
		Domains:   domainsFrom(seq, hits),
		Method:    "composition-motif",
	}
	for name, s := range scores {
		f.Functions = append(f.Functions, FunctionScore{
			Name:        name,
			Probability: round(max(0.05, min(0.95, s)), 3),
			GOTerm:      goTerms[name],
		})
	}
	slices.SortFunc(f.Functions, func(a, b FunctionScore) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	f.Localization = localize(seq, len(tm))
	f.Confidence = round(0.6+0.3*f.Top().Probability, 3)
	return f, nil
}

// TransmembraneSegments returns hydrophobic stretches long enough to span
// a lipid bilayer.
func TransmembraneSegments(seq string) []Region {
	var out []Region
	for i := 0; i+tmWindow <= len(seq); i++ {
		var sum float64
		for j := i; j < i+tmWindow; j++ {
			sum += sequence.Hydropathy(seq[j])
		}
		if sum/tmWindow < tmThreshold {
			continue
		}
		if n := len(out); n > 0 && out[n-1].End >= i {
			out[n-1].End = i + tmWindow
			continue
		}
		out = append(out, Region{i, i + tmWindow})
	}
	return out
}

// repeatBonus rewards Gly-X-Pro style periodicity.
func repeatBonus(seq string) float64 {
	if len(seq) < 9 {
		return 0
	}
	n := 0
	for i := 0; i+2 < len(seq); i += 3 {
		if seq[i] == 'G' && (seq[i+2] == 'P' || seq[i+1] == 'P') {
			n++
		}
	}
	return min(0.5, float64(n)*3/float64(len(seq)))
}

func domainsFrom(seq string, hits []motifHit) []Domain {
	domains := make([]Domain, 0, len(hits))
	for _, h := range hits {
		domains = append(domains, Domain{
			Name:        h.motif.name,
			Family:      h.motif.family,
			Region:      h.region,
			Confidence:  h.motif.certainty,
			Description: "matched " + h.motif.name + " signature",
		})
	}
	if len(domains) == 0 && len(seq) > 50 {
		domains = append(domains, Domain{
			Name:        "Globular domain",
			Family:      "Unknown",
			Region:      Region{0, len(seq)},
			Confidence:  0.5,
			Description: "no signature matched; whole chain assumed globular",
		})
	}
	return domains
}

func localize(seq string, tmSegments int) Localization {
	membrane := 0.05 + 0.3*float64(tmSegments)
	nucleus := 0.05 + 1.5*fraction(seq, "KR")
	if nlsPattern.MatchString(seq) {
		nucleus += 0.3
	}
	extracellular := 0.05 + 3*fraction(seq, "C")
	if signalPeptide(seq) {
		extracellular += 0.3
	}
	cytoplasm := 0.4
	total := membrane + nucleus + extracellular + cytoplasm
	return Localization{
		Cytoplasm:     round(cytoplasm/total, 3),
		Nucleus:       round(nucleus/total, 3),
		Membrane:      round(membrane/total, 3),
		Extracellular: round(extracellular/total, 3),
	}
}

// signalPeptide reports a hydrophobic core in the first 30 residues.
func signalPeptide(seq string) bool {
	head := seq[:min(len(seq), 30)]
	return len(windows(head, "AILMFVW", 8, 0.75, 8)) > 0
}
