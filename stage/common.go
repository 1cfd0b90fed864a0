// Package stage implements the Stage Orchestrator (C8): the three concrete
// Workflow Graph compositions — Issue, LLD, Implementation — built from
// the C1-C7 primitives. Grounded on the teacher's reviewloop.go, which
// wires together the same load -> draft -> human-gate -> review ->
// human-gate -> finalize backbone for the teacher's own plan/implement
// loop; each stage here generalizes that backbone to a different artifact.
package stage

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nickmisasi/governance-engine/audit"
	"github.com/nickmisasi/governance-engine/gate"
	"github.com/nickmisasi/governance-engine/govlog"
	"github.com/nickmisasi/governance-engine/llm"
	"github.com/nickmisasi/governance-engine/logging"
	"github.com/nickmisasi/governance-engine/node"
	"github.com/nickmisasi/governance-engine/revision"
	"github.com/nickmisasi/governance-engine/tracker"
)

// Deps collects every external collaborator a stage's nodes call. Building
// one Deps per stage run keeps node constructors free of global state, the
// same discipline the teacher applies by injecting *Plugin into every
// handler rather than reaching for package-level clients.
type Deps struct {
	Drafter  llm.Client
	Reviewer llm.Client
	Tracker  tracker.Client
	Editor   gate.EditorOpener
	Decider  gate.Decider
	Audit    *audit.Store
	GovLog   *govlog.Logger
	Log      logging.Logger
	Revision revision.Controller
	Tests    TestRunner

	LineageRoot   string // e.g. "docs/lineage"
	RepoRoot      string
	EditorTimeout time.Duration
}

func (d Deps) logger() logging.Logger {
	if d.Log == nil {
		return logging.Nop{}
	}
	return d.Log
}

func (d Deps) logEvent(ev govlog.Event) {
	if d.GovLog == nil {
		return
	}
	if err := d.GovLog.Append(ev); err != nil {
		d.logger().Warn("governance log append failed", "error", err.Error())
	}
}

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a filesystem-safe identifier from a brief's file name or
// an issue title, per spec §3 ("slug is a filesystem-safe identifier").
func slugify(name string) string {
	name = strings.ToLower(name)
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = slugSanitizer.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}

var headingPattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// firstHeading extracts the first top-level markdown heading, used both to
// strip LLM preamble (spec §4.8.1: "strip any preamble above the first
// heading") and to derive an issue title.
func firstHeading(content string) (title string, body string, ok bool) {
	loc := headingPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return "", content, false
	}
	title = content[loc[2]:loc[3]]
	body = content[loc[0]:]
	return strings.TrimSpace(title), body, true
}

var labelsLinePattern = regexp.MustCompile(`(?m)^\*\*Labels:\*\*\s*(.+)$`)

// parseLabels extracts labels from a "**Labels:** a, b, c" line, per spec
// §4.8.1's file-issue node.
func parseLabels(content string) []string {
	m := labelsLinePattern.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// nextAuditNumber wraps audit.Store.NextNumber's error with context. The
// failure stays a Go error: callers return it from the node, so the graph
// run fails with it; it is not turned into an in-state error_message.
func nextAuditNumber(a *audit.Store, dir string) (int, error) {
	n, err := a.NextNumber(dir)
	if err != nil {
		return 0, fmt.Errorf("determine next audit number: %w", err)
	}
	return n, nil
}

// guardEmpty is the shared pre-guard check every drafting/review node runs
// first, per spec §4.4 ("pre-guard checking size and presence
// preconditions").
func guardEmpty(label, value string) (node.Delta, bool) {
	if strings.TrimSpace(value) == "" {
		return node.GuardFailure(label + " is empty"), true
	}
	return node.Delta{}, false
}

const maxArtifactBytes = 500_000

func guardTooLarge(label, value string) (node.Delta, bool) {
	if len(value) > maxArtifactBytes {
		return node.GuardFailure(fmt.Sprintf("%s exceeds size ceiling (%d bytes)", label, len(value))), true
	}
	return node.Delta{}, false
}

// callDrafter invokes the Implementation LLM, honoring mock_mode by
// returning a deterministic fixture instead of making a network call, per
// the Node Contract's mandatory mock short-circuit.
func callDrafter(ctx context.Context, d Deps, s node.State, systemPrompt, prompt string) (string, error) {
	if s.MockMode {
		return fmt.Sprintf("# Mock Draft\n\nGenerated for %s (iteration %d).\n", s.Slug, s.IterationCount), nil
	}
	resp, err := d.Drafter.Complete(ctx, llm.Request{SystemPrompt: systemPrompt, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// callReviewer invokes the Testing/Reviewer LLM, likewise honoring
// mock_mode, and returns its self-declared model identity alongside the
// verdict text. The mock fixture itself revises once before approving, so a
// mock-mode run still exercises the one-revision loop (spec §8 scenario 2)
// rather than always finalizing on the first pass.
func callReviewer(ctx context.Context, d Deps, s node.State, systemPrompt, prompt string) (text, modelIdentity string, err error) {
	if s.MockMode {
		if s.IterationCount <= 1 {
			return "[x] **REVISE**\n\nTighten the scope before this is ready.", "mock-reviewer-pro", nil
		}
		return "[x] **APPROVED**\n\nLooks good.", "mock-reviewer-pro", nil
	}
	resp, cerr := d.Reviewer.Complete(ctx, llm.Request{SystemPrompt: systemPrompt, Prompt: prompt})
	if cerr != nil {
		return "", "", cerr
	}
	return resp.Text, resp.ModelIdentity, nil
}

// classifyExternalErr maps an external-collaborator error to the error
// taxonomy in spec §7: a context deadline becomes TIMEOUT:, anything else
// becomes API_ERROR:.
func classifyExternalErr(ctx context.Context, collaborator string, err error) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("TIMEOUT: %s exceeded its deadline", collaborator)
	}
	return fmt.Sprintf("API_ERROR: %s: %s", collaborator, err.Error())
}

// runGit shells out to git in dir with an explicit working directory, as
// audit.Store.CommitLineage does; unlike that helper, which reports only
// stderr, it surfaces git's combined output in the returned error.
func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, strings.TrimSpace(string(out)))
	}
	return nil
}
