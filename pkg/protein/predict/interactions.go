package predict

import (
	"fmt"
	"strings"

	"github.com/docker/protein-runner/pkg/errdefs"
)

// InteractionKind selects the partner type.
type InteractionKind string

const (
	ProteinPartners InteractionKind = "protein"
	DNAPartners     InteractionKind = "dna"
	LigandPartners  InteractionKind = "ligand"
)

// ParseInteractionKind validates k; empty means protein.
func ParseInteractionKind(k string) (InteractionKind, error) {
	switch kind := InteractionKind(strings.ToLower(k)); kind {
	case "":
		return ProteinPartners, nil
	case ProteinPartners, DNAPartners, LigandPartners:
		return kind, nil
	default:
		return "", errdefs.InvalidParameters("predict_interactions", "unknown interaction type %q", k)
	}
}

// Interaction is one predicted partner and the residues that bind it.
type Interaction struct {
	Partner    string  `json:"partner"`
	Type       string  `json:"interaction_type"`
	Site       Region  `json:"binding_site"`
	Confidence float64 `json:"confidence"`
	Strength   float64 `json:"binding_strength,omitempty"`
}

// NetworkNode is a node of the interaction graph.
type NetworkNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NetworkEdge links the query protein to a partner.
type NetworkEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Network is the star graph around the query protein.
type Network struct {
	Nodes []NetworkNode `json:"nodes"`
	Edges []NetworkEdge `json:"edges"`
}

// InteractionSummary aggregates the interaction list.
type InteractionSummary struct {
	Total             int     `json:"total_interactions"`
	HighConfidence    int     `json:"high_confidence_interactions"`
	AverageConfidence float64 `json:"average_confidence"`
}

// Interactions is the result of PredictInteractions.
type Interactions struct {
	Sequence     string             `json:"sequence"`
	Kind         InteractionKind    `json:"interaction_type"`
	Interactions []Interaction      `json:"predicted_interactions"`
	Network      Network            `json:"interaction_network"`
	Summary      InteractionSummary `json:"summary"`
	Method       string             `json:"method"`
}

const (
	queryNode           = "query_protein"
	highConfidenceLevel = 0.8
)

// PredictInteractions lists likely partners of the given kind from surface
// hotspots, basic patches and ligand-binding signatures.
func PredictInteractions(seq string, kind InteractionKind) (*Interactions, error) {
	if err := checkSequence("predict_interactions", seq); err != nil {
		return nil, err
	}
	var list []Interaction
	switch kind {
	case ProteinPartners, "":
		kind = ProteinPartners
		for i, r := range windows(seq, "FWYILMV", 6, 0.5, 6) {
			t := "binding"
			if fraction(seq[r.Start:r.End], "FWY") == 0 {
				t = "regulation"
			}
			list = append(list, Interaction{
				Partner:    fmt.Sprintf("partner_%d", i+1),
				Type:       t,
				Site:       r,
				Confidence: round(min(0.95, 0.55+0.03*float64(r.Len())), 3),
			})
		}
	case DNAPartners:
		for _, r := range windows(seq, "KR", 8, 0.5, 8) {
			list = append(list, Interaction{
				Partner:    "dna",
				Type:       "basic_patch",
				Site:       r,
				Confidence: round(min(0.9, 0.5+0.02*float64(r.Len())), 3),
				Strength:   round(clamp01(fraction(seq[r.Start:r.End], "KR")), 3),
			})
		}
		for _, h := range findMotifs(seq) {
			if !h.motif.dna {
				continue
			}
			list = append(list, Interaction{
				Partner:    "dna",
				Type:       h.motif.name,
				Site:       h.region,
				Confidence: h.motif.certainty,
				Strength:   round(h.motif.certainty*0.9, 3),
			})
		}
	case LigandPartners:
		for _, h := range findMotifs(seq) {
			for _, l := range h.motif.ligands {
				list = append(list, Interaction{
					Partner:    l,
					Type:       h.motif.name,
					Site:       h.region,
					Confidence: h.motif.certainty,
				})
			}
		}
	default:
		return nil, errdefs.InvalidParameters("predict_interactions", "unknown interaction type %q", kind)
	}

	res := &Interactions{
		Sequence:     seq,
		Kind:         kind,
		Interactions: list,
		Network:      Network{Nodes: []NetworkNode{{ID: queryNode, Type: "protein"}}, Edges: []NetworkEdge{}},
		Method:       "signature-scan",
	}
	if res.Interactions == nil {
		res.Interactions = []Interaction{}
	}
	var sum float64
	for i, in := range list {
		id := fmt.Sprintf("partner_%d", i)
		res.Network.Nodes = append(res.Network.Nodes, NetworkNode{ID: id, Type: string(kind)})
		res.Network.Edges = append(res.Network.Edges, NetworkEdge{Source: queryNode, Target: id, Weight: in.Confidence})
		sum += in.Confidence
		if in.Confidence > highConfidenceLevel {
			res.Summary.HighConfidence++
		}
	}
	res.Summary.Total = len(list)
	if len(list) > 0 {
		res.Summary.AverageConfidence = round(sum/float64(len(list)), 3)
	}
	return res, nil
}
