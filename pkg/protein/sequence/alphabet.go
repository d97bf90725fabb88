// Package sequence implements deterministic, side-effect free metrics over
// amino-acid sequences: composition, molecular weight, isoelectric point,
// hydropathy, coarse secondary structure and validity scoring.
package sequence

import (
	"strings"
	"unicode/utf8"
)

// Unknown is the IUPAC code for an unidentified residue.
const Unknown = 'X'

// Alphabet is the canonical 20-letter amino-acid alphabet in lexicographic
// order.
const Alphabet = "ACDEFGHIKLMNPQRSTVWY"

// Class is a physicochemical residue class.
type Class uint8

const (
	// ClassNone is reported for non-canonical characters.
	ClassNone Class = iota
	ClassHydrophobic
	ClassPolar
	ClassCharged
	ClassAromatic
)

// String implements Stringer.String for Class.
func (c Class) String() string {
	switch c {
	case ClassHydrophobic:
		return "hydrophobic"
	case ClassPolar:
		return "polar"
	case ClassCharged:
		return "charged"
	case ClassAromatic:
		return "aromatic"
	default:
		return "none"
	}
}

// classMembers is the fixed grouping table. Every canonical residue belongs
// to exactly one class and every class has at least three members.
var classMembers = map[Class]string{
	ClassHydrophobic: "AILMPV",
	ClassPolar:       "CGNQST",
	ClassCharged:     "DEHKR",
	ClassAromatic:    "FWY",
}

// residueIndex maps an ASCII byte to its index in Alphabet, or -1.
var residueIndex [256]int8

// residueClass maps an ASCII byte to its Class.
var residueClass [256]Class

func init() {
	for i := range residueIndex {
		residueIndex[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		residueIndex[Alphabet[i]] = int8(i)
	}
	for class, members := range classMembers {
		for i := 0; i < len(members); i++ {
			residueClass[members[i]] = class
		}
	}
}

// IsCanonical reports whether r is one of the 20 canonical residues.
func IsCanonical(r byte) bool {
	return residueIndex[r] >= 0
}

// ClassOf returns the physicochemical class of r.
func ClassOf(r byte) Class {
	return residueClass[r]
}

// IsCanonicalRune is IsCanonical for a decoded character.
func IsCanonicalRune(r rune) bool {
	return r < utf8.RuneSelf && IsCanonical(byte(r))
}

// ClassOfRune is ClassOf for a decoded character.
func ClassOfRune(r rune) Class {
	if r < 0 || r >= utf8.RuneSelf {
		return ClassNone
	}
	return residueClass[r]
}

// ClassMembers returns the residues of class c in lexicographic order.
func ClassMembers(c Class) string {
	return classMembers[c]
}

// SameClass reports whether a and b are canonical and share a class.
func SameClass(a, b byte) bool {
	ca := residueClass[a]
	return ca != ClassNone && ca == residueClass[b]
}

// SameClassRune is SameClass for decoded characters.
func SameClassRune(a, b rune) bool {
	ca := ClassOfRune(a)
	return ca != ClassNone && ca == ClassOfRune(b)
}

// Normalize upper-cases s and strips whitespace. It is intended for
// boundary code accepting user input; core functions never normalize.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, s)
}

// Canonical reports whether every character of s is canonical.
func Canonical(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsCanonical(s[i]) {
			return false
		}
	}
	return true
}

// ASCII replaces every non-ASCII character of s, and every invalid UTF-8
// byte, with Unknown. Byte offsets into the result are residue positions.
func ASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= utf8.RuneSelf {
			return Unknown
		}
		return r
	}, s)
}
