package predict

import (
	"fmt"
	"math"
	"strings"

	"github.com/docker/protein-runner/pkg/protein/sequence"
)

// Ideal backbone geometry in angstroms and degrees.
const (
	helixRadius = 2.3
	helixRise   = 1.5
	helixTurn   = 100.0
	strandRise  = 3.3
	strandPleat = 1.7
	coilStep    = 3.8
	coilBend    = 30.0
)

var threeLetter = map[byte]string{
	'A': "ALA", 'R': "ARG", 'N': "ASN", 'D': "ASP", 'C': "CYS",
	'Q': "GLN", 'E': "GLU", 'G': "GLY", 'H': "HIS", 'I': "ILE",
	'L': "LEU", 'K': "LYS", 'M': "MET", 'F': "PHE", 'P': "PRO",
	'S': "SER", 'T': "THR", 'W': "TRP", 'Y': "TYR", 'V': "VAL",
}

// Point is a 3D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point) add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y, p.Z + q.Z} }

func (p Point) scale(f float64) Point { return Point{p.X * f, p.Y * f, p.Z * f} }

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Structure is the result of PredictStructure.
type Structure struct {
	Sequence          string    `json:"sequence"`
	Secondary         string    `json:"secondary_structure"`
	Confidence        []float64 `json:"confidence"`
	AverageConfidence float64   `json:"average_confidence"`
	Domains           []Domain  `json:"domains"`
	Disorder          []Region  `json:"disorder_regions"`
	Trace             []Point   `json:"ca_trace"`
	PDB               string    `json:"pdb_data"`
	Method            string    `json:"method"`
}

// PredictStructure assigns secondary structure, per-residue confidence and
// disorder, and builds an idealised C-alpha trace from the assignment.
func PredictStructure(seq string) (*Structure, error) {
	if err := checkSequence("predict_structure", seq); err != nil {
		return nil, err
	}
	states := sequence.AssignSecondary(seq)
	s := &Structure{
		Sequence:   seq,
		Secondary:  sequence.SecondaryString(states),
		Confidence: ResidueConfidence(seq),
		Domains:    domainsFrom(seq, findMotifs(seq)),
		Disorder:   DisorderedRegions(seq),
		Trace:      Trace(seq, states),
		Method:     "propensity-trace",
	}
	var sum float64
	for _, c := range s.Confidence {
		sum += c
	}
	s.AverageConfidence = round(sum/float64(len(s.Confidence)), 3)
	s.PDB = PDB(seq, s.Trace, s.Confidence)
	return s, nil
}

// ResidueConfidence scores each residue: terminal, flexible and
// disorder-prone residues are less certain.
func ResidueConfidence(seq string) []float64 {
	out := make([]float64, len(seq))
	for i := 0; i < len(seq); i++ {
		c := 0.7
		if i < 5 || i >= len(seq)-5 {
			c -= 0.1
		}
		switch r := seq[i]; {
		case strings.IndexByte("AILMFV", r) >= 0:
			c += 0.1
		case r == 'G' || r == 'P':
			c -= 0.15
		case strings.IndexByte("DEKR", r) >= 0:
			c += 0.05
		case !sequence.IsCanonical(r):
			c = 0.1
		}
		out[i] = round(max(0.1, min(0.99, c)), 3)
	}
	return out
}

// DisorderedRegions returns stretches dominated by disorder-promoting
// residues.
func DisorderedRegions(seq string) []Region {
	rs := windows(seq, "AGRQSPEK", 10, 0.8, 10)
	if rs == nil {
		return []Region{}
	}
	return rs
}

// Trace walks an idealised C-alpha chain: helices wind around the current
// axis, strands advance with a pleat, and coils bend the axis.
func Trace(seq string, states []sequence.SecondaryState) []Point {
	trace := make([]Point, 0, len(seq))
	p := Point{}
	axis, u, v := Point{0, 0, 1}, Point{1, 0, 0}, Point{0, 1, 0}
	theta := 0.0
	pleat := 1.0
	for i := range states {
		if i == 0 {
			trace = append(trace, p)
			continue
		}
		switch states[i] {
		case sequence.Helix:
			next := theta + rad(helixTurn)
			step := u.scale(helixRadius * (math.Cos(next) - math.Cos(theta))).
				add(v.scale(helixRadius * (math.Sin(next) - math.Sin(theta)))).
				add(axis.scale(helixRise))
			theta = next
			p = p.add(step)
		case sequence.Sheet:
			pleat = -pleat
			p = p.add(axis.scale(strandRise)).add(u.scale(pleat * strandPleat))
		default:
			// Bend alternately so long coils stay compact.
			phi := rad(coilBend)
			if i%2 == 0 {
				phi = -phi
			}
			if sequence.IsCanonical(seq[i]) && sequence.ClassOf(seq[i]) == sequence.ClassPolar {
				phi *= 1.5
			}
			axis, u = axis.scale(math.Cos(phi)).add(u.scale(math.Sin(phi))),
				axis.scale(-math.Sin(phi)).add(u.scale(math.Cos(phi)))
			p = p.add(axis.scale(coilStep))
		}
		trace = append(trace, p)
	}
	return trace
}

// PDB renders trace as C-alpha ATOM records with confidence in the
// B-factor column.
func PDB(seq string, trace []Point, confidence []float64) string {
	var b strings.Builder
	b.WriteString("HEADER    PREDICTED STRUCTURE\n")
	b.WriteString("TITLE     C-ALPHA TRACE FROM SECONDARY STRUCTURE PROPENSITIES\n")
	b.WriteString("MODEL        1\n")
	for i, p := range trace {
		name, ok := threeLetter[seq[i]]
		if !ok {
			name = "UNK"
		}
		var bf float64
		if i < len(confidence) {
			bf = confidence[i] * 100
		}
		fmt.Fprintf(&b, "ATOM  %5d  CA  %3s A%4d    %8.3f%8.3f%8.3f%6.2f%6.2f           C\n",
			i+1, name, (i+1)%10000, p.X, p.Y, p.Z, 1.0, bf)
	}
	if n := len(trace); n > 0 {
		name, ok := threeLetter[seq[n-1]]
		if !ok {
			name = "UNK"
		}
		fmt.Fprintf(&b, "TER   %5d      %3s A%4d\n", n+1, name, n%10000)
	}
	b.WriteString("ENDMDL\nEND\n")
	return b.String()
}
