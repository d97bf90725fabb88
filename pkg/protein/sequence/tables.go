package sequence

// waterMass is the average mass of water lost per peptide bond, in Daltons.
const waterMass = 18.015

// residueMass holds average masses of the free amino acids, in Daltons.
var residueMass = map[byte]float64{
	'A': 89.094, 'R': 174.203, 'N': 132.119, 'D': 133.104, 'C': 121.154,
	'E': 147.131, 'Q': 146.146, 'G': 75.067, 'H': 155.156, 'I': 131.175,
	'L': 131.175, 'K': 146.189, 'M': 149.208, 'F': 165.192, 'P': 115.132,
	'S': 105.093, 'T': 119.119, 'W': 204.228, 'Y': 181.191, 'V': 117.148,
}

// kyteDoolittle is the Kyte-Doolittle hydropathy scale.
var kyteDoolittle = map[byte]float64{
	'A': 1.8, 'R': -4.5, 'N': -3.5, 'D': -3.5, 'C': 2.5,
	'Q': -3.5, 'E': -3.5, 'G': -0.4, 'H': -3.2, 'I': 4.5,
	'L': 3.8, 'K': -3.9, 'M': 1.9, 'F': 2.8, 'P': -1.6,
	'S': -0.8, 'T': -0.7, 'W': -0.9, 'Y': -1.3, 'V': 4.2,
}

// Terminal and side-chain pKa values used for titration.
const (
	pKaNTerminus = 9.69
	pKaCTerminus = 2.34
)

// positivePKa holds side chains that carry +1 when protonated.
var positivePKa = map[byte]float64{
	'K': 10.5,
	'R': 12.4,
	'H': 6.0,
}

// negativePKa holds side chains that carry -1 when deprotonated.
var negativePKa = map[byte]float64{
	'D': 3.86,
	'E': 4.25,
	'C': 8.33,
	'Y': 10.07,
}

// Chou-Fasman conformational propensities.
var (
	helixPropensity = map[byte]float64{
		'E': 1.51, 'M': 1.45, 'A': 1.42, 'L': 1.21, 'K': 1.16,
		'F': 1.13, 'Q': 1.11, 'W': 1.08, 'I': 1.08, 'V': 1.06,
		'D': 1.01, 'H': 1.00, 'R': 0.98, 'T': 0.83, 'S': 0.77,
		'C': 0.70, 'Y': 0.69, 'N': 0.67, 'P': 0.57, 'G': 0.57,
	}
	sheetPropensity = map[byte]float64{
		'V': 1.70, 'I': 1.60, 'Y': 1.47, 'F': 1.38, 'W': 1.37,
		'L': 1.30, 'C': 1.19, 'T': 1.19, 'Q': 1.10, 'M': 1.05,
		'R': 0.93, 'N': 0.89, 'H': 0.87, 'A': 0.83, 'S': 0.75,
		'G': 0.75, 'K': 0.74, 'P': 0.55, 'D': 0.54, 'E': 0.37,
	}
	turnPropensity = map[byte]float64{
		'N': 1.56, 'G': 1.56, 'P': 1.52, 'D': 1.46, 'S': 1.43,
		'C': 1.19, 'Y': 1.14, 'K': 1.01, 'Q': 0.98, 'T': 0.96,
		'W': 0.96, 'R': 0.95, 'H': 0.95, 'E': 0.74, 'A': 0.66,
		'M': 0.60, 'F': 0.60, 'L': 0.59, 'V': 0.50, 'I': 0.47,
	}
)

// Hydropathy returns the Kyte-Doolittle value of r, or 0 if r is not
// canonical.
func Hydropathy(r byte) float64 {
	return kyteDoolittle[r]
}

// Mass returns the free amino-acid mass of r, or 0 if r is not canonical.
func Mass(r byte) float64 {
	return residueMass[r]
}
