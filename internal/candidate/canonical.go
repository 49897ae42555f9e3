// Package candidate implements the review workflow for producer proposals:
// intake, listing, approval (with preserved attribution), edit-and-approve,
// and permanent dismissal with canonical-form propagation.
package candidate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var caseFolder = cases.Fold()

// Canonicalize reduces a proposed value to its canonical identity: Unicode
// NFKC normalization, case folding, and whitespace collapsed to single
// spaces. Two proposals with the same canonical form are the same candidate
// for dismissal purposes ("Golden  Gate" resurfacing as "golden gate" stays
// dismissed).
func Canonicalize(value string) string {
	folded := caseFolder.String(norm.NFKC.String(value))
	return strings.Join(strings.Fields(folded), " ")
}
