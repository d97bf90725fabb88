// Package utils holds small helpers shared by the service packages.
package utils

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// maxLogLength bounds sanitized strings.
	maxLogLength = 100
	// sequenceEdge is the number of residues kept at each end of an
	// abbreviated sequence.
	sequenceEdge = 8
)

// SanitizeForLog makes a client-supplied string safe to log. Line breaks
// and tabs are escaped, other control and non-printable characters become
// '?', and long input is truncated.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(min(len(s), maxLogLength))
	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString(`\n`)
		case r == '\r':
			result.WriteString(`\r`)
		case r == '\t':
			result.WriteString(`\t`)
		case r == '\\':
			result.WriteString(`\\`)
		case unicode.IsControl(r), !unicode.IsPrint(r):
			result.WriteByte('?')
		default:
			result.WriteRune(r)
		}
	}

	if result.Len() > maxLogLength {
		return result.String()[:maxLogLength] + "...[truncated]"
	}
	return result.String()
}

// AbbreviateSequence renders a protein sequence for logs: short sequences
// verbatim, long ones as their two ends and the residue count.
func AbbreviateSequence(seq string) string {
	if len(seq) <= 3*sequenceEdge {
		return SanitizeForLog(seq)
	}
	head, tail := seq[:sequenceEdge], seq[len(seq)-sequenceEdge:]
	return fmt.Sprintf("%s...%s (%d aa)", SanitizeForLog(head), SanitizeForLog(tail), len(seq))
}
