package sequence

// SecondaryState is a per-residue secondary structure assignment.
type SecondaryState byte

const (
	Helix SecondaryState = 'H'
	Sheet SecondaryState = 'E'
	Coil  SecondaryState = 'C'
)

const (
	// propensityWindow is the sliding window width used by AssignSecondary.
	propensityWindow = 6
	helixThreshold   = 1.03
	sheetThreshold   = 1.05
)

// AssignSecondary assigns each position of seq a helix, sheet or coil state
// from the mean Chou-Fasman propensities of a window centred on it.
// Non-canonical characters are always coil. Positions are byte offsets.
func AssignSecondary(seq string) []SecondaryState {
	states := make([]SecondaryState, len(seq))
	half := propensityWindow / 2
	for i := 0; i < len(seq); i++ {
		if !IsCanonical(seq[i]) {
			states[i] = Coil
			continue
		}
		lo, hi := max(0, i-half), min(len(seq), i+half)
		var helix, sheet float64
		var n int
		for j := lo; j < hi; j++ {
			if r := seq[j]; IsCanonical(r) {
				helix += helixPropensity[r]
				sheet += sheetPropensity[r]
				n++
			}
		}
		helix /= float64(n)
		sheet /= float64(n)
		switch {
		case helix > helixThreshold && helix >= sheet:
			states[i] = Helix
		case sheet > sheetThreshold:
			states[i] = Sheet
		default:
			states[i] = Coil
		}
	}
	return states
}

// SecondaryString renders states as an H/E/C string.
func SecondaryString(states []SecondaryState) string {
	b := make([]byte, len(states))
	for i, s := range states {
		b[i] = byte(s)
	}
	return string(b)
}
