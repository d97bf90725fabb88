package sequence

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/docker/protein-runner/pkg/errdefs"
)

const (
	// isoelectricTolerance is the pH interval width at which titration stops.
	isoelectricTolerance = 1e-3
	// isoelectricMaxIterations bounds the bisection.
	isoelectricMaxIterations = 100
	// physiologicalPH is the pH used for the reported net charge.
	physiologicalPH = 7.0
)

// ResidueCount is a single composition entry.
type ResidueCount struct {
	Residue rune
	Count   int
}

// Composition lists residue counts in first-seen order.
type Composition []ResidueCount

// Counts returns the composition as a map keyed by residue letter.
func (c Composition) Counts() map[string]int {
	counts := make(map[string]int, len(c))
	for _, rc := range c {
		counts[string(rc.Residue)] = rc.Count
	}
	return counts
}

// Total returns the sum of all counts.
func (c Composition) Total() int {
	total := 0
	for _, rc := range c {
		total += rc.Count
	}
	return total
}

// MarshalJSON encodes the composition as a JSON object whose keys keep
// first-seen order.
func (c Composition) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, rc := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(rc.Residue))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(rc.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StructureFractions is a coarse helix/sheet/coil estimate summing to 1.
type StructureFractions struct {
	Helix float64 `json:"helix"`
	Sheet float64 `json:"sheet"`
	Coil  float64 `json:"coil"`
}

// ClassFractions holds the fraction of residues in each physicochemical
// class.
type ClassFractions struct {
	Hydrophobic float64 `json:"hydrophobic"`
	Polar       float64 `json:"polar"`
	Charged     float64 `json:"charged"`
	Aromatic    float64 `json:"aromatic"`
}

// Report is the result of Analyze.
type Report struct {
	Length             int                `json:"length"`
	Composition        Composition        `json:"composition"`
	MolecularWeight    float64            `json:"molecular_weight"`
	IsoelectricPoint   float64            `json:"isoelectric_point"`
	Hydrophobicity     float64            `json:"hydrophobicity"`
	NetCharge          float64            `json:"net_charge"`
	AliphaticIndex     float64            `json:"aliphatic_index"`
	SecondaryStructure StructureFractions `json:"secondary_structure"`
	Classes            ClassFractions     `json:"classes"`
}

// Properties flattens the report into the property map attached to
// generated proteins.
func (r *Report) Properties() map[string]float64 {
	return map[string]float64{
		"length":            float64(r.Length),
		"molecular_weight":  r.MolecularWeight,
		"isoelectric_point": r.IsoelectricPoint,
		"hydrophobicity":    r.Hydrophobicity,
		"net_charge":        r.NetCharge,
		"aliphatic_index":   r.AliphaticIndex,
		"helix":             r.SecondaryStructure.Helix,
		"sheet":             r.SecondaryStructure.Sheet,
		"coil":              r.SecondaryStructure.Coil,
		"hydrophobic":       r.Classes.Hydrophobic,
		"polar":             r.Classes.Polar,
		"charged":           r.Classes.Charged,
		"aromatic":          r.Classes.Aromatic,
	}
}

// Analyze computes the property report for seq. Length and composition
// count characters, not bytes. Non-canonical characters are counted there
// but contribute no mass, charge or hydropathy.
func Analyze(seq string) (*Report, error) {
	if seq == "" {
		return nil, errdefs.InvalidSequence("analyze", "sequence is empty")
	}

	var (
		composition Composition
		index       = make(map[rune]int)
		length      int
		canonical   int
		mass        float64
		hydropathy  float64
		classCounts [5]int
	)
	for _, r := range seq {
		length++
		if slot, ok := index[r]; ok {
			composition[slot].Count++
		} else {
			index[r] = len(composition)
			composition = append(composition, ResidueCount{Residue: r, Count: 1})
		}
		if !IsCanonicalRune(r) {
			continue
		}
		canonical++
		mass += residueMass[byte(r)]
		hydropathy += kyteDoolittle[byte(r)]
		classCounts[ClassOfRune(r)]++
	}

	report := &Report{
		Length:             length,
		Composition:        composition,
		SecondaryStructure: StructureFractions{Coil: 1},
	}
	if canonical == 0 {
		return report, nil
	}

	n := float64(canonical)
	report.MolecularWeight = round(mass-float64(canonical-1)*waterMass, 2)
	report.Hydrophobicity = round(hydropathy/n, 3)
	report.IsoelectricPoint = round(IsoelectricPoint(seq), 2)
	report.NetCharge = round(NetCharge(seq, physiologicalPH), 3)
	report.AliphaticIndex = round(aliphaticIndex(seq, canonical), 2)
	report.SecondaryStructure = secondaryFractions(seq)
	report.Classes = ClassFractions{
		Hydrophobic: float64(classCounts[ClassHydrophobic]) / n,
		Polar:       float64(classCounts[ClassPolar]) / n,
		Charged:     float64(classCounts[ClassCharged]) / n,
		Aromatic:    float64(classCounts[ClassAromatic]) / n,
	}
	return report, nil
}

// NetCharge returns the net charge of seq at the given pH using the fixed
// pKa table (Henderson-Hasselbalch).
func NetCharge(seq string, pH float64) float64 {
	if seq == "" {
		return 0
	}
	charge := 1/(1+math.Pow(10, pH-pKaNTerminus)) - 1/(1+math.Pow(10, pKaCTerminus-pH))
	for i := 0; i < len(seq); i++ {
		r := seq[i]
		if pKa, ok := positivePKa[r]; ok {
			charge += 1 / (1 + math.Pow(10, pH-pKa))
		} else if pKa, ok := negativePKa[r]; ok {
			charge -= 1 / (1 + math.Pow(10, pKa-pH))
		}
	}
	return charge
}

// IsoelectricPoint bisects pH in [0, 14] until the net charge crosses zero
// within isoelectricTolerance or the iteration limit is reached.
func IsoelectricPoint(seq string) float64 {
	lo, hi := 0.0, 14.0
	for i := 0; i < isoelectricMaxIterations && hi-lo > isoelectricTolerance; i++ {
		mid := (lo + hi) / 2
		if NetCharge(seq, mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// aliphaticIndex computes the relative volume of aliphatic side chains.
func aliphaticIndex(seq string, canonical int) float64 {
	var a, v, il float64
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A':
			a++
		case 'V':
			v++
		case 'I', 'L':
			il++
		}
	}
	n := float64(canonical)
	return 100 * (a/n + 2.9*v/n + 3.9*il/n)
}

// secondaryFractions normalises mean Chou-Fasman propensities into
// helix/sheet/coil fractions. Coil is derived so the three sum to 1.
func secondaryFractions(seq string) StructureFractions {
	var helix, sheet, turn float64
	for i := 0; i < len(seq); i++ {
		r := seq[i]
		if !IsCanonical(r) {
			continue
		}
		helix += helixPropensity[r]
		sheet += sheetPropensity[r]
		turn += turnPropensity[r]
	}
	total := helix + sheet + turn
	if total == 0 {
		return StructureFractions{Coil: 1}
	}
	h := round(helix/total, 4)
	s := round(sheet/total, 4)
	return StructureFractions{Helix: h, Sheet: s, Coil: 1 - h - s}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
