package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nickmisasi/governance-engine/checkpoint"
	"github.com/nickmisasi/governance-engine/govlog"
	"github.com/nickmisasi/governance-engine/graph"
	"github.com/nickmisasi/governance-engine/handoff"
	"github.com/nickmisasi/governance-engine/node"
	"github.com/nickmisasi/governance-engine/verdict"
)

// LLDTemplate is the hard-coded low-level-design drafting template.
const LLDTemplate = `## LLD Template

Draft a low-level design document from the issue below. Start with a
single top-level heading naming the change. Include sections for
Approach, Data Model Changes, and Test Plan.`

// LLDReviewPrompt is the hard-coded reviewer prompt for the LLD stage.
const LLDReviewPrompt = `## LLD Review

Review the drafted design for completeness and internal consistency.
Respond with exactly one of the sentinels "[x] **APPROVED**" or
"[x] **REVISE**", followed by your reasoning.`

// BuildLLDGraph composes the LLD Stage (spec §4.8.2): same backbone as the
// Issue Stage with load-issue in place of load-brief, and finalization
// writing the approved LLD to docs/lld/active/LLD-<issue>.md.
func BuildLLDGraph(d Deps, store checkpoint.Store, lldRoot string) *graph.Graph {
	g := graph.New(store, d.logger())

	g.Add("load-issue", loadIssueNode(d), map[string]string{"sandbox": "sandbox"})
	g.Add("sandbox", issueSandboxNode(d), map[string]string{"draft": "draft"})
	g.Add("draft", lldDraftNode(d), map[string]string{"human-edit-draft": "human-edit-draft"})
	g.Add("human-edit-draft", humanEditDraftNode(d, "review", "draft"), map[string]string{
		"review": "review",
		"draft":  "draft",
	})
	g.Add("review", lldReviewNode(d), map[string]string{"human-edit-verdict": "human-edit-verdict"})
	g.Add("human-edit-verdict", humanEditVerdictNode(d, "finalize-lld", "draft"), map[string]string{
		"finalize-lld": "finalize-lld",
		"draft":        "draft",
	})
	g.Add("finalize-lld", finalizeLLDNode(d, lldRoot), nil)

	g.StartAt("load-issue")
	return g
}

// loadIssueNode fetches the external tracker issue body for external_id
// and seeds the instance's original input, in place of load-brief.
func loadIssueNode(d Deps) node.Node {
	return node.Func{NodeName: "load-issue", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("external_id", s.ExternalID); bad {
			return delta, nil
		}
		num, err := strconv.Atoi(s.ExternalID)
		if err != nil {
			return node.GuardFailure("external_id must be numeric: " + err.Error()), nil
		}

		var slug, body string
		if s.MockMode || d.Tracker == nil {
			slug = fmt.Sprintf("issue-%d", num)
			body = fmt.Sprintf("# Mock issue %d\n\nmock body for offline testing.", num)
		} else {
			tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			iss, err := d.Tracker.GetIssue(tctx, num)
			if err != nil {
				return node.Delta{ErrorMessage: node.StringPtr(classifyExternalErr(tctx, "tracker", err))}, nil
			}
			slug = slugify(iss.Title)
			body = fmt.Sprintf("# %s\n\n%s", iss.Title, iss.Body)
		}

		dir := activeDir(d, slug)
		if _, statErr := os.Stat(dir); statErr == nil && s.FileCounter == 0 {
			return node.Delta{ErrorMessage: node.StringPtr("SLUG_COLLISION")}, nil
		}

		path, err := d.Audit.Save(dir, 1, "issue.md", body)
		if err != nil {
			return node.Delta{}, fmt.Errorf("save issue snapshot: %w", err)
		}

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventWorkflowStarted, ThreadID: s.ExternalID + "-lld", Node: "load-issue", Detail: path})

		return node.Delta{
			Slug:          node.StringPtr(slug),
			OriginalInput: node.StringPtr(body),
			FileCounter:   node.IntPtr(2),
			NextNode:      node.StringPtr("sandbox"),
		}, nil
	}}
}

func lldDraftNode(d Deps) node.Node {
	return node.Func{NodeName: "draft", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("original_input", s.OriginalInput); bad {
			return delta, nil
		}

		prompt := d.Revision.BuildPrompt(s.OriginalInput, LLDTemplate, s.PendingFeedback, s.VerdictHistory)

		dctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		raw, err := callDrafter(dctx, d, s, LLDTemplate, prompt)
		if err != nil {
			return node.Delta{ErrorMessage: node.StringPtr(classifyExternalErr(dctx, "drafter", err))}, nil
		}

		_, stripped, ok := firstHeading(raw)
		if !ok {
			stripped = raw
		}
		if delta, bad := guardTooLarge("draft", stripped); bad {
			return delta, nil
		}

		dir := activeDir(d, s.Slug)
		num, err := nextAuditNumber(d.Audit, dir)
		if err != nil {
			return node.Delta{}, err
		}
		path, err := d.Audit.Save(dir, num, "draft.md", stripped)
		if err != nil {
			return node.Delta{}, fmt.Errorf("save draft: %w", err)
		}

		return node.Delta{
			DraftPath:       node.StringPtr(path),
			DraftContent:    node.StringPtr(stripped),
			DraftCount:      node.IntPtr(s.DraftCount + 1),
			IterationCount:  node.IntPtr(s.IterationCount + 1),
			FileCounter:     node.IntPtr(num + 1),
			PendingFeedback: node.StringPtr(""),
			NextNode:        node.StringPtr("human-edit-draft"),
		}, nil
	}}
}

func lldReviewNode(d Deps) node.Node {
	return node.Func{NodeName: "review", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("draft_content", s.DraftContent); bad {
			return delta, nil
		}

		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		text, identity, err := callReviewer(rctx, d, s, LLDReviewPrompt, s.DraftContent)
		if err != nil {
			return node.Delta{ErrorMessage: node.StringPtr(classifyExternalErr(rctx, "reviewer", err))}, nil
		}

		res := verdict.Parse(text, identity)

		dir := activeDir(d, s.Slug)
		num, err := nextAuditNumber(d.Audit, dir)
		if err != nil {
			return node.Delta{}, err
		}
		path, err := d.Audit.Save(dir, num, "verdict.md", res.StoredText)
		if err != nil {
			return node.Delta{}, fmt.Errorf("save verdict: %w", err)
		}

		delta := d.Revision.RecordVerdict(s, s.IterationCount, res)
		delta.VerdictPath = node.StringPtr(path)
		delta.FileCounter = node.IntPtr(num + 1)
		delta.NextNode = node.StringPtr("human-edit-verdict")

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventReviewCompleted, ThreadID: s.ThreadID(), Node: "review"})
		return delta, nil
	}}
}

// finalizeLLDNode writes the approved LLD to docs/lld/active/LLD-<issue>.md,
// records an approved.json, moves the audit directory to done, and commits.
func finalizeLLDNode(d Deps, lldRoot string) node.Node {
	return node.Func{NodeName: "finalize-lld", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("draft_content", s.DraftContent); bad {
			return delta, nil
		}

		lldPath := filepath.Join(lldRoot, "active", fmt.Sprintf("LLD-%s.md", s.ExternalID))
		if err := os.MkdirAll(filepath.Dir(lldPath), 0o755); err != nil {
			return node.Delta{}, fmt.Errorf("create lld directory: %w", err)
		}
		if err := os.WriteFile(lldPath, []byte(s.DraftContent), 0o644); err != nil {
			return node.Delta{}, fmt.Errorf("write approved lld: %w", err)
		}

		title, _, _ := firstHeading(s.DraftContent)
		approvedJSON := fmt.Sprintf(`{"external_id":%q,"url":%q,"title":%q,"timestamp":%q,"source":%q,"iterations":%d,"drafts":%d,"verdicts":%d}`,
			s.ExternalID, lldPath, title, time.Now().UTC().Format(time.RFC3339), s.ExternalID, s.IterationCount, s.DraftCount, s.VerdictCount)

		dir := activeDir(d, s.Slug)
		num, err := nextAuditNumber(d.Audit, dir)
		if err != nil {
			return node.Delta{}, err
		}
		if _, err := d.Audit.Save(dir, num, "approved.json", approvedJSON); err != nil {
			return node.Delta{}, fmt.Errorf("save finalization record: %w", err)
		}

		res, err := handoff.Finalize(d.Audit, dir, filepath.Join(d.LineageRoot, "done"), s.ExternalID, d.RepoRoot,
			fmt.Sprintf("governance: approve LLD for issue #%s (%s)", s.ExternalID, s.Slug))
		if err != nil {
			return node.Delta{}, fmt.Errorf("finalize handoff: %w", err)
		}

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventWorkflowFinalize, ThreadID: s.ThreadID(), Node: "finalize-lld", Detail: res.DonePath})

		return node.Delta{
			FinalExternalID:   node.StringPtr(s.ExternalID),
			FinalURL:          node.StringPtr(lldPath),
			FinalArtifactPath: node.StringPtr(res.DonePath),
			Finalized:         node.BoolPtr(true),
		}, nil
	}}
}
