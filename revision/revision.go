// Package revision implements the Revision Loop Controller (C7): cumulative
// feedback accumulation, bounded retries, and auto-routing on the Verdict
// Parser's decision. Grounded on the teacher's reviewloop.go (iteration
// bounding, terminal routing on exhaustion) and reviewloop_feedback.go
// (cumulative history assembly for the next prompt).
package revision

import (
	"fmt"
	"strings"
	"time"

	"github.com/nickmisasi/governance-engine/node"
	"github.com/nickmisasi/governance-engine/verdict"
)

// DefaultMaxIterations is the bound spec §4.7 names as the default.
const DefaultMaxIterations = 20

// Controller holds the loop's single piece of external configuration: the
// iteration bound. Everything else it needs lives in-band in node.State,
// per spec §4.7 ("State. Lives in-band in the Workflow State").
type Controller struct {
	MaxIterations int
}

func New(maxIterations int) Controller {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return Controller{MaxIterations: maxIterations}
}

// BuildPrompt constructs a drafting node's prompt per spec §4.7: the
// original input, the stage template, the latest user feedback (if any),
// then a cumulative section listing every verdict received so far, each
// tagged with its iteration index. Cumulation is never truncated — every
// entry in history is included, regardless of how large history grows.
func (c Controller) BuildPrompt(originalInput, template, latestFeedback string, history []node.VerdictRecord) string {
	var b strings.Builder
	b.WriteString(originalInput)
	b.WriteString("\n\n")
	b.WriteString(template)

	if latestFeedback != "" {
		b.WriteString("\n\n## User Feedback\n")
		b.WriteString(latestFeedback)
	}

	if len(history) > 0 {
		b.WriteString("\n\n## Cumulative Review History\n")
		for _, v := range history {
			fmt.Fprintf(&b, "\n### Iteration %d\n%s\n", v.Iteration, v.Content)
		}
	}

	return b.String()
}

// RecordVerdict appends the parsed verdict to history and bumps
// VerdictCount, preserving the invariant that history length equals
// verdict_count (spec §3).
func (c Controller) RecordVerdict(s node.State, iteration int, res verdict.Result) node.Delta {
	record := node.VerdictRecord{
		Iteration:  iteration,
		Content:    res.StoredText,
		Approved:   res.ApprovedVerdict,
		RecordedAt: time.Now(),
	}
	return node.Delta{
		AppendVerdict:  &record,
		VerdictCount:   node.IntPtr(s.VerdictCount + 1),
		VerdictContent: node.StringPtr(res.StoredText),
	}
}

// NextRoute implements the controller's post-review auto-routing (spec
// §4.7): finalize iff approved; otherwise back to drafting, unless the
// iteration bound has been reached, in which case the instance is routed to
// the terminal route with a MAX_ITERATIONS_REACHED error.
func (c Controller) NextRoute(s node.State, approved bool, finalizeNode, draftNode string) node.Delta {
	if approved {
		return node.Delta{NextNode: node.StringPtr(finalizeNode)}
	}
	if s.IterationCount >= c.MaxIterations {
		msg := fmt.Sprintf("MAX_ITERATIONS_REACHED:%d", c.MaxIterations)
		return node.Delta{ErrorMessage: node.StringPtr(msg)}
	}
	return node.Delta{NextNode: node.StringPtr(draftNode)}
}
