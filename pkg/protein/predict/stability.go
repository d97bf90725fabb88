package predict

import (
	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/protein/optimize"
	"github.com/docker/protein-runner/pkg/protein/sequence"
)

// Default assay conditions.
const (
	DefaultTemperature = 37.0
	DefaultPH          = 7.0
)

// Conditions are the temperature (Celsius) and pH of a stability query.
type Conditions struct {
	Temperature float64 `json:"temperature"`
	PH          float64 `json:"ph"`
}

// StabilityMetrics are the scalar stability estimates.
type StabilityMetrics struct {
	Thermodynamic        float64 `json:"thermodynamic_stability"`
	Kinetic              float64 `json:"kinetic_stability"`
	Aggregation          float64 `json:"aggregation_propensity"`
	UnfoldingTemperature float64 `json:"unfolding_temperature"`
	HalfLifeHours        float64 `json:"half_life"`
	NetCharge            float64 `json:"net_charge"`
}

// WeakRegion is a span predicted to destabilize the fold.
type WeakRegion struct {
	Region   Region  `json:"region"`
	Severity float64 `json:"severity"`
	Reason   string  `json:"reason"`
}

// Suggestion proposes a stabilizing substitution at a 0-indexed position.
type Suggestion struct {
	Position            int     `json:"position"`
	Original            string  `json:"original"`
	Suggested           string  `json:"suggested"`
	ExpectedImprovement float64 `json:"expected_improvement"`
	Confidence          float64 `json:"confidence"`
}

// Stability is the result of AnalyzeStability.
type Stability struct {
	Sequence     string           `json:"sequence"`
	Conditions   Conditions       `json:"conditions"`
	Metrics      StabilityMetrics `json:"stability_metrics"`
	WeakRegions  []WeakRegion     `json:"destabilizing_regions"`
	Suggestions  []Suggestion     `json:"stabilization_suggestions"`
	OverallScore float64          `json:"overall_stability_score"`
	Method       string           `json:"method"`
}

var stabilizingSwap = map[byte]byte{
	'K': 'Q', 'R': 'Q', 'D': 'N', 'E': 'Q',
	'G': 'A', 'P': 'A',
	'A': 'S', 'I': 'T', 'L': 'Q', 'M': 'T', 'F': 'Y', 'V': 'T', 'W': 'Y',
}

// AnalyzeStability estimates stability of seq under c. Zero conditions
// mean 37 C and pH 7.
func AnalyzeStability(seq string, c Conditions) (*Stability, error) {
	if err := checkSequence("analyze_stability", seq); err != nil {
		return nil, err
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.PH == 0 {
		c.PH = DefaultPH
	}
	if c.PH < 0 || c.PH > 14 {
		return nil, errdefs.InvalidParameters("analyze_stability", "pH must be within [0, 14], got %g", c.PH)
	}
	if c.Temperature < -50 || c.Temperature > 150 {
		return nil, errdefs.InvalidParameters("analyze_stability", "temperature must be within [-50, 150] C, got %g", c.Temperature)
	}

	report, err := sequence.Analyze(seq)
	if err != nil {
		return nil, err
	}
	base := optimize.StabilityScore(seq)
	tempFactor := max(0.1, 1-abs(c.Temperature-DefaultTemperature)*0.01)
	phFactor := max(0.1, 1-abs(c.PH-DefaultPH)*0.05)
	kinetic := clamp01(0.4 + report.AliphaticIndex/250)

	s := &Stability{
		Sequence:   seq,
		Conditions: c,
		Metrics: StabilityMetrics{
			Thermodynamic:        round(base*tempFactor*phFactor, 3),
			Kinetic:              round(kinetic, 3),
			Aggregation:          round(aggregation(seq), 3),
			UnfoldingTemperature: round(45+40*base, 1),
			HalfLifeHours:        round(1+47*kinetic*phFactor, 1),
			NetCharge:            round(sequence.NetCharge(seq, c.PH), 2),
		},
		WeakRegions:  weakRegions(seq),
		OverallScore: round(base, 3),
		Method:       "propensity-heuristic",
	}
	s.Suggestions = make([]Suggestion, 0, len(s.WeakRegions))
	for _, w := range s.WeakRegions {
		pos := w.Region.Start + w.Region.Len()/2
		to, ok := stabilizingSwap[seq[pos]]
		if !ok {
			continue
		}
		s.Suggestions = append(s.Suggestions, Suggestion{
			Position:            pos,
			Original:            string(seq[pos]),
			Suggested:           string(to),
			ExpectedImprovement: round(w.Severity*0.3, 3),
			Confidence:          round(0.5+w.Severity/2, 3),
		})
	}
	return s, nil
}

func weakRegions(seq string) []WeakRegion {
	out := []WeakRegion{}
	add := func(rs []Region, reason string) {
		for _, r := range rs {
			out = append(out, WeakRegion{
				Region:   r,
				Severity: round(min(0.8, 0.3+0.05*float64(r.Len())), 3),
				Reason:   reason,
			})
		}
	}
	add(windows(seq, "AILMFVW", 5, 1, 5), "hydrophobic_cluster")
	add(windows(seq, "KR", 4, 1, 4), "charge_repulsion")
	add(windows(seq, "DE", 4, 1, 4), "charge_repulsion")
	add(windows(seq, "GP", 6, 0.67, 6), "loop_region")
	return out
}

// aggregation combines hydrophobic content with the longest hydrophobic run.
func aggregation(seq string) float64 {
	run, longest := 0, 0
	for i := 0; i < len(seq); i++ {
		if sequence.ClassOf(seq[i]) == sequence.ClassHydrophobic || seq[i] == 'F' || seq[i] == 'W' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return clamp01(0.5*classFraction(seq, sequence.ClassHydrophobic) + float64(longest)/12)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
