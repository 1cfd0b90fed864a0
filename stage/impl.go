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

// ImplTestsTemplate is the hard-coded template for the test-first coder's
// first iteration: tests only, no implementation.
const ImplTestsTemplate = `## Implementation Template (tests first)

Write only the tests that specify the approved design below. Do not write
any implementation code yet. Start with a single top-level heading.`

// ImplCodeTemplate is the hard-coded template for every iteration after
// the first: implementation code that satisfies the tests already
// committed, addressing any feedback below.
const ImplCodeTemplate = `## Implementation Template (implementation)

Write the implementation code that satisfies the committed tests and
addresses any feedback below. Start with a single top-level heading.`

// ImplReviewPrompt is the hard-coded reviewer prompt for the
// implementation stage.
const ImplReviewPrompt = `## Implementation Review

Review the generated tests/implementation for correctness and adherence
to the approved design. Respond with exactly one of the sentinels
"[x] **APPROVED**" or "[x] **REVISE**", followed by your reasoning.`

// BuildImplGraph composes the Implementation Stage (spec §4.8.3): the LLD
// backbone plus a test-first coder and a safe-merge finalization.
func BuildImplGraph(d Deps, store checkpoint.Store) *graph.Graph {
	g := graph.New(store, d.logger())

	g.Add("load-lld", loadLLDNode(d), map[string]string{"sandbox": "sandbox"})
	g.Add("sandbox", issueSandboxNode(d), map[string]string{"draft": "draft"})
	g.Add("draft", implDraftNode(d), map[string]string{
		"human-edit-draft": "human-edit-draft",
		"draft":            "draft",
	})
	g.Add("human-edit-draft", humanEditDraftNode(d, "review", "draft"), map[string]string{
		"review": "review",
		"draft":  "draft",
	})
	g.Add("review", implReviewNode(d), map[string]string{"human-edit-verdict": "human-edit-verdict"})
	g.Add("human-edit-verdict", humanEditVerdictNode(d, "finalize-impl", "draft"), map[string]string{
		"finalize-impl": "finalize-impl",
		"draft":         "draft",
	})
	g.Add("finalize-impl", finalizeImplNode(d), nil)

	g.StartAt("load-lld")
	return g
}

// loadLLDNode reads the approved LLD file that is the sole input to this
// stage, per spec §4.9's "artifact produced by stage N is the sole input
// to stage N+1."
func loadLLDNode(d Deps) node.Node {
	return node.Func{NodeName: "load-lld", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("source_path", s.SourcePath); bad {
			return delta, nil
		}

		content, err := handoff.SoleInput(s.SourcePath)
		if err != nil {
			return node.GuardFailure(err.Error()), nil
		}

		slug := slugify(filepath.Base(s.SourcePath))
		dir := activeDir(d, slug)
		if _, statErr := os.Stat(dir); statErr == nil && s.FileCounter == 0 {
			return node.Delta{ErrorMessage: node.StringPtr("SLUG_COLLISION")}, nil
		}

		path, err := d.Audit.Save(dir, 1, "lld.md", content)
		if err != nil {
			return node.Delta{}, fmt.Errorf("save lld snapshot: %w", err)
		}

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventWorkflowStarted, ThreadID: s.ExternalID + "-impl", Node: "load-lld", Detail: path})

		return node.Delta{
			Slug:          node.StringPtr(slug),
			OriginalInput: node.StringPtr(content),
			FileCounter:   node.IntPtr(2),
			NextNode:      node.StringPtr("sandbox"),
		}, nil
	}}
}

// implDraftNode is the test-first coder: iteration 0 emits only tests;
// later iterations emit implementation code and are self-validated by the
// real test runner before the human gate is reached.
func implDraftNode(d Deps) node.Node {
	return node.Func{NodeName: "draft", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("original_input", s.OriginalInput); bad {
			return delta, nil
		}

		testsOnly := s.IterationCount == 0
		template := ImplCodeTemplate
		if testsOnly {
			template = ImplTestsTemplate
		}

		prompt := d.Revision.BuildPrompt(s.OriginalInput, template, s.PendingFeedback, s.VerdictHistory)

		dctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		raw, err := callDrafter(dctx, d, s, template, prompt)
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

		delta := node.Delta{
			DraftPath:       node.StringPtr(path),
			DraftContent:    node.StringPtr(stripped),
			DraftCount:      node.IntPtr(s.DraftCount + 1),
			TestsOnly:       node.BoolPtr(testsOnly),
			FileCounter:     node.IntPtr(num + 1),
			PendingFeedback: node.StringPtr(""),
		}

		// The real test runner is the sole authority on pass/fail (spec
		// §4.8.3); it only runs once there is code to exercise, and only
		// when a repository and runner are actually configured.
		if testsOnly || d.Tests == nil || s.RepoRoot == "" {
			delta.IterationCount = node.IntPtr(s.IterationCount + 1)
			delta.NextNode = node.StringPtr("human-edit-draft")
			return delta, nil
		}

		exitCode, output, runErr := d.Tests.Run(ctx, s.RepoRoot)
		if runErr != nil {
			return node.Delta{ErrorMessage: node.StringPtr("API_ERROR: test runner: " + runErr.Error())}, nil
		}
		delta.LastTestExit = node.IntPtr(exitCode)
		nextIteration := s.IterationCount + 1
		delta.IterationCount = node.IntPtr(nextIteration)

		if exitCode != 0 {
			if nextIteration >= d.Revision.MaxIterations {
				delta.ErrorMessage = node.StringPtr(fmt.Sprintf("MAX_ITERATIONS_REACHED:%d", d.Revision.MaxIterations))
				return delta, nil
			}
			delta.ErrorMessage = node.StringPtr("FAILED_IMPORT: tests failed with exit code " + strconv.Itoa(exitCode))
			delta.PendingFeedback = node.StringPtr(output)
			delta.NextNode = node.StringPtr("draft")
			return delta, nil
		}

		delta.NextNode = node.StringPtr("human-edit-draft")
		return delta, nil
	}}
}

func implReviewNode(d Deps) node.Node {
	return node.Func{NodeName: "review", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("draft_content", s.DraftContent); bad {
			return delta, nil
		}

		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		text, identity, err := callReviewer(rctx, d, s, ImplReviewPrompt, s.DraftContent)
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

// finalizeImplNode implements the safe-merge finalization: commit in an
// isolated git worktree, then leave that worktree's cleanup to the host
// environment after external review (spec §4.8.3).
func finalizeImplNode(d Deps) node.Node {
	return node.Func{NodeName: "finalize-impl", Fn: func(ctx context.Context, s node.State) (node.Delta, error) {
		if delta, bad := guardEmpty("draft_content", s.DraftContent); bad {
			return delta, nil
		}

		if s.MockMode || s.RepoRoot == "" {
			return node.Delta{
				Finalized:         node.BoolPtr(true),
				FinalExternalID:   node.StringPtr(s.ExternalID),
				FinalArtifactPath: node.StringPtr(s.DraftPath),
			}, nil
		}

		worktreeDir := filepath.Join(os.TempDir(), "governance-impl-"+s.Slug)
		branch := "governance/impl-" + s.Slug

		if _, err := os.Stat(worktreeDir); err != nil {
			if err := runGit(s.RepoRoot, "worktree", "add", "-b", branch, worktreeDir); err != nil {
				return node.Delta{ErrorMessage: node.StringPtr("API_ERROR: git worktree add: " + err.Error())}, nil
			}
		}

		artifactPath := filepath.Join(worktreeDir, "GOVERNANCE_IMPLEMENTATION.md")
		if err := os.WriteFile(artifactPath, []byte(s.DraftContent), 0o644); err != nil {
			return node.Delta{}, fmt.Errorf("write implementation artifact: %w", err)
		}
		if err := runGit(worktreeDir, "add", "."); err != nil {
			return node.Delta{ErrorMessage: node.StringPtr("API_ERROR: git add: " + err.Error())}, nil
		}
		if err := runGit(worktreeDir, "commit", "-m", fmt.Sprintf("governance: implement issue #%s", s.ExternalID)); err != nil {
			return node.Delta{ErrorMessage: node.StringPtr("API_ERROR: git commit: " + err.Error())}, nil
		}

		dir := activeDir(d, s.Slug)
		finalJSON := fmt.Sprintf(`{"external_id":%q,"branch":%q,"worktree":%q,"timestamp":%q,"iterations":%d,"drafts":%d,"verdicts":%d}`,
			s.ExternalID, branch, worktreeDir, time.Now().UTC().Format(time.RFC3339), s.IterationCount, s.DraftCount, s.VerdictCount)
		num, err := nextAuditNumber(d.Audit, dir)
		if err != nil {
			return node.Delta{}, err
		}
		if _, err := d.Audit.Save(dir, num, "merged.json", finalJSON); err != nil {
			return node.Delta{}, fmt.Errorf("save finalization record: %w", err)
		}

		res, err := handoff.Finalize(d.Audit, dir, filepath.Join(d.LineageRoot, "done"), s.ExternalID, d.RepoRoot,
			fmt.Sprintf("governance: land implementation lineage for issue #%s", s.ExternalID))
		if err != nil {
			return node.Delta{}, fmt.Errorf("finalize handoff: %w", err)
		}

		d.logEvent(govlog.Event{Timestamp: time.Now(), Kind: govlog.EventWorkflowFinalize, ThreadID: s.ThreadID(), Node: "finalize-impl", Detail: res.DonePath})

		return node.Delta{
			WorktreePath:      node.StringPtr(worktreeDir),
			Finalized:         node.BoolPtr(true),
			FinalExternalID:   node.StringPtr(s.ExternalID),
			FinalURL:          node.StringPtr(worktreeDir),
			FinalArtifactPath: node.StringPtr(res.DonePath),
		}, nil
	}}
}
