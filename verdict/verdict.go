// Package verdict implements the Verdict Parser (C3): structured extraction
// of approval/revision signals and model-identity markers from free-form
// reviewer text. The matching rule is literal substring containment, not a
// parsing grammar, so this stays on the standard library (see DESIGN.md).
package verdict

import "strings"

// Approved and Revise are the exact, case-sensitive, literal sentinel
// tokens the Reviewer LLM's prompt contract requires. Free-form verdicts
// cannot be classified reliably (spec §9); requiring fixed tokens gives a
// deterministic parser.
const (
	Approved = "[x] **APPROVED**"
	Revise   = "[x] **REVISE**"
)

// Result is the parser's output.
type Result struct {
	// ApprovedVerdict is true iff text contains Approved and does not
	// contain Revise.
	ApprovedVerdict bool
	// ModelIdentityWarning is set when the reviewer's self-declared model
	// identity does not contain "pro" (case-insensitive).
	ModelIdentityWarning string
	// StoredText is the text to persist as the verdict artifact: the raw
	// text, optionally prefixed with ModelIdentityWarning.
	StoredText string
}

// Parse extracts the approve/revise decision and the model-identity warning
// from raw reviewer text. modelIdentity is the reviewer's self-declared
// model identity string, reported alongside the same response (spec §6).
func Parse(text, modelIdentity string) Result {
	approved := strings.Contains(text, Approved) && !strings.Contains(text, Revise)

	res := Result{
		ApprovedVerdict: approved,
		StoredText:      text,
	}

	if !strings.Contains(strings.ToLower(modelIdentity), "pro") {
		warning := "WARNING: reviewer model identity \"" + modelIdentity + "\" does not confirm a \"pro\"-tier model; verdict may be less reliable."
		res.ModelIdentityWarning = warning
		res.StoredText = warning + "\n\n" + text
	}

	return res
}
