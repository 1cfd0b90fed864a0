package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nickmisasi/governance-engine/checkpoint"
	"github.com/nickmisasi/governance-engine/gate"
	"github.com/nickmisasi/governance-engine/govlog"
	"github.com/nickmisasi/governance-engine/graph"
	"github.com/nickmisasi/governance-engine/handoff"
	"github.com/nickmisasi/governance-engine/node"
	"github.com/nickmisasi/governance-engine/verdict"
)

// IssueTemplate is the hard-coded issue-drafting template, per spec §6:
// "These paths are not overridable from state to prevent prompt
// substitution by an agent."
const IssueTemplate = `## Issue Template

Draft a GitHub issue from the brief below. Start with a single top-level
heading that is the issue title. Include a "**Labels:**" line listing
comma-separated labels. Be specific about acceptance criteria.`

// IssueReviewPrompt is the hard-coded reviewer prompt for the issue stage.
const IssueReviewPrompt = `## Issue Review

Review the drafted issue for clarity, scope, and testability. Respond with
exactly one of the sentinels "[x] **APPROVED**" or "[x] **REVISE**",
followed by your reasoning.`

// BuildIssueGraph composes the Issue Stage (spec §4.8.1): load-brief,
// sandbox, draft, human-edit-draft, review, human-edit-verdict,
// file-issue.
func BuildIssueGraph(d Deps, store checkpoint.Store) *graph.Graph {
	g := graph.New(store, d.logger())

	g.Add("load-brief", loadBriefNode(d), map[string]string{"sandbox": "sandbox"})
	g.Add("sandbox", issueSandboxNode(d), map[string]string{"draft": "draft"})
	g.Add("draft", issueDraftNode(d), map[string]string{"human-edit-draft": "human-edit-draft"})
	g.Add("human-edit-draft", humanEditDraftNode(d, "review", "draft"), map[string]string{
		"review": "review",
		"draft":  "draft",
	})
	g.Add("review", issueReviewNode(d), map[string]string{"human-edit-verdict": "human-edit-verdict"})
	g.Add("human-edit-verdict", humanEditVerdictNode(d, "file-issue", "draft"), map[string]string{
		"file-issue": "file-issue",
		"draft":      "draft",
	})
	g.Add("file-issue", fileIssueNode(d), nil)

	g.StartAt("load-brief")
	return g
}

func activeDir(d Deps, slug string) string {
	return filepath.Join(d.LineageRoot, "active", slug)
}

// loadBriefNode reads a markdown brief, derives the slug, creates the
// active audit directory, and writes 001-brief.md.
func loadBriefNode(d Deps) node.Node {
	return node.Func{NodeName: "load-brief", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("source_path", s.SourcePath); bad {
			return delta, nil
		}

		content, err := os.ReadFile(s.SourcePath)
		if err != nil {
			return node.GuardFailure("cannot read brief: " + err.Error()), nil
		}

		slug := slugify(filepath.Base(s.SourcePath))
		dir := activeDir(d, slug)

		if _, statErr := os.Stat(dir); statErr == nil && s.FileCounter == 0 {
			return node.Delta{ErrorMessage: node.StringPtr("SLUG_COLLISION")}, nil
		}

		path, err := d.Audit.Save(dir, 1, "brief.md", string(content))
		if err != nil {
			return node.Delta{}, fmt.Errorf("save brief: %w", err)
		}

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventWorkflowStarted, ThreadID: slug + "-issue", Node: "load-brief", Detail: path})

		return node.Delta{
			Slug:          node.StringPtr(slug),
			OriginalInput: node.StringPtr(string(content)),
			FileCounter:   node.IntPtr(2),
			NextNode:      node.StringPtr("sandbox"),
		}, nil
	}}
}

// issueSandboxNode pre-flight checks that the editor and tracker are
// available before any LLM call is attempted.
func issueSandboxNode(d Deps) node.Node {
	return node.Func{NodeName: "sandbox", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if s.MockMode {
			return node.Delta{NextNode: node.StringPtr("draft")}, nil
		}
		if d.Editor == nil {
			return node.GuardFailure("no editor integration configured"), nil
		}
		if d.Tracker == nil {
			return node.GuardFailure("no tracker integration configured"), nil
		}
		if _, err := d.Tracker.ListLabels(ctx); err != nil {
			return node.Delta{ErrorMessage: node.StringPtr(classifyExternalErr(ctx, "tracker", err))}, nil
		}
		return node.Delta{NextNode: node.StringPtr("draft")}, nil
	}}
}

func issueDraftNode(d Deps) node.Node {
	return node.Func{NodeName: "draft", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("original_input", s.OriginalInput); bad {
			return delta, nil
		}

		prompt := d.Revision.BuildPrompt(s.OriginalInput, IssueTemplate, s.PendingFeedback, s.VerdictHistory)

		dctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		raw, err := callDrafter(dctx, d, s, IssueTemplate, prompt)
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

// humanEditDraftNode is the blocking-edit (or automatic) gate after
// drafting, shared in shape across all three stages.
func humanEditDraftNode(d Deps, reviewNode, draftNode string) node.Node {
	return node.Func{NodeName: "human-edit-draft", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if s.MockMode {
			return node.Delta{NextNode: node.StringPtr(reviewNode)}, nil
		}
		return gate.FirstGate(ctx, d.Editor, d.Decider, s.DraftPath, s.AutoMode, d.EditorTimeout, reviewNode, draftNode)
	}}
}

func issueReviewNode(d Deps) node.Node {
	return node.Func{NodeName: "review", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("draft_content", s.DraftContent); bad {
			return delta, nil
		}

		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		text, identity, err := callReviewer(rctx, d, s, IssueReviewPrompt, s.DraftContent)
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

// humanEditVerdictNode is the non-blocking-open gate followed by the
// Revision Loop Controller's bound-aware auto-routing.
func humanEditVerdictNode(d Deps, finalizeNode, draftNode string) node.Node {
	return node.Func{NodeName: "human-edit-verdict", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if !s.AutoMode && !s.MockMode && d.Editor != nil {
			_ = d.Editor.OpenNonBlocking(ctx, s.VerdictPath)
		}
		approved := len(s.VerdictHistory) > 0 && s.VerdictHistory[len(s.VerdictHistory)-1].Approved
		return d.Revision.NextRoute(s, approved, finalizeNode, draftNode), nil
	}}
}

func fileIssueNode(d Deps) node.Node {
	return node.Func{NodeName: "file-issue", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("draft_content", s.DraftContent); bad {
			return delta, nil
		}

		title, body, ok := firstHeading(s.DraftContent)
		if !ok {
			title = s.Slug
			body = s.DraftContent
		}
		labels := parseLabels(s.DraftContent)

		var number int
		var url string
		if s.MockMode || d.Tracker == nil {
			number = 1
			url = "https://example.invalid/issues/1"
		} else {
			tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			for _, l := range labels {
				if err := d.Tracker.EnsureLabel(tctx, l, "ededed", "governance-managed"); err != nil {
					return node.Delta{ErrorMessage: node.StringPtr(classifyExternalErr(tctx, "tracker", err))}, nil
				}
			}
			iss, err := d.Tracker.CreateIssue(tctx, title, body, labels)
			if err != nil {
				return node.Delta{ErrorMessage: node.StringPtr(classifyExternalErr(tctx, "tracker", err))}, nil
			}
			number = iss.Number
			url = iss.URL
		}

		dir := activeDir(d, s.Slug)
		finalJSON := fmt.Sprintf(`{"external_id":"%d","url":%q,"title":%q,"timestamp":%q,"source":%q,"iterations":%d,"drafts":%d,"verdicts":%d}`,
			number, url, title, time.Now().UTC().Format(time.RFC3339), s.SourcePath, s.IterationCount, s.DraftCount, s.VerdictCount)
		num, err := nextAuditNumber(d.Audit, dir)
		if err != nil {
			return node.Delta{}, err
		}
		if _, err := d.Audit.Save(dir, num, "filed.json", finalJSON); err != nil {
			return node.Delta{}, fmt.Errorf("save finalization record: %w", err)
		}

		externalID := fmt.Sprintf("%d", number)
		res, err := handoff.Finalize(d.Audit, dir, filepath.Join(d.LineageRoot, "done"), externalID, d.RepoRoot,
			fmt.Sprintf("governance: file issue #%s (%s)", externalID, s.Slug))
		if err != nil {
			return node.Delta{}, fmt.Errorf("finalize handoff: %w", err)
		}

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventWorkflowFinalize, ThreadID: s.ThreadID(), Node: "file-issue", Detail: res.DonePath})

		return node.Delta{
			ExternalID:        node.StringPtr(externalID),
			FinalExternalID:   node.StringPtr(externalID),
			FinalURL:          node.StringPtr(url),
			FinalArtifactPath: node.StringPtr(res.DonePath),
			Finalized:         node.BoolPtr(true),
		}, nil
	}}
}
