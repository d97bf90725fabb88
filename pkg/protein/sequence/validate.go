package sequence

import "fmt"

const (
	// MinTypicalLength is the residue count below which a sequence is an
	// outlier.
	MinTypicalLength = 10
	// MaxTypicalLength is the length above which a sequence is an outlier.
	MaxTypicalLength = 2000
	// outlierFactor scales the score of length outliers.
	outlierFactor = 0.8
)

// PositionError describes a non-canonical character.
type PositionError struct {
	Position int    `json:"position"`
	Residue  string `json:"residue"`
	Message  string `json:"message"`
}

// Validation is the result of Validate.
type Validation struct {
	Valid    bool            `json:"valid"`
	Length   int             `json:"length"`
	Errors   []PositionError `json:"errors"`
	Warnings []string        `json:"warnings"`
	Score    float64         `json:"score"`
}

// Validate scores seq. Validity is a score, not a gate: the score is
// (1 - invalid fraction) scaled down by outlierFactor when the number of
// canonical residues is below MinTypicalLength or the total length exceeds
// MaxTypicalLength. Appending a non-canonical character therefore never
// raises the score. Lengths and positions count characters.
func Validate(seq string) Validation {
	v := Validation{Errors: []PositionError{}, Warnings: []string{}}
	if seq == "" {
		v.Errors = append(v.Errors, PositionError{Position: 0, Message: "sequence is empty"})
		return v
	}

	var length, canonical, prolines, cysteines int
	for _, r := range seq {
		pos := length
		length++
		if !IsCanonicalRune(r) {
			v.Errors = append(v.Errors, PositionError{
				Position: pos,
				Residue:  string(r),
				Message:  fmt.Sprintf("non-canonical residue %q at position %d", r, pos),
			})
			continue
		}
		canonical++
		switch r {
		case 'P':
			prolines++
		case 'C':
			cysteines++
		}
	}
	v.Length = length

	factor := 1.0
	if canonical < MinTypicalLength {
		factor = outlierFactor
		v.Warnings = append(v.Warnings, fmt.Sprintf("sequence is very short (< %d residues)", MinTypicalLength))
	}
	if length > MaxTypicalLength {
		factor = outlierFactor
		v.Warnings = append(v.Warnings, fmt.Sprintf("sequence is very long (> %d residues)", MaxTypicalLength))
	}
	n := float64(length)
	if float64(prolines)/n > 0.15 {
		v.Warnings = append(v.Warnings, "high proline content may affect structure")
	}
	if float64(cysteines)/n > 0.1 {
		v.Warnings = append(v.Warnings, "high cysteine content, check disulfide bonds")
	}

	invalid := length - canonical
	v.Valid = invalid == 0
	v.Score = clamp01((1 - float64(invalid)/n) * factor)
	return v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
