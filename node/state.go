// Package node defines the uniform contract every workflow node honors:
// consume a State, perform bounded work, return a Delta. The graph engine
// merges deltas into the live State between node executions; nodes never
// mutate the live State directly and never touch the checkpoint store.
package node

import "time"

// Stage identifies which of the three concrete orchestrations a State
// belongs to.
type Stage string

const (
	StageIssue Stage = "issue"
	StageLLD   Stage = "lld"
	StageImpl  Stage = "impl"
)

// VerdictRecord is one entry in the cumulative, append-only review history.
// Cumulation is never truncated: every entry ever appended stays in State
// for the lifetime of the instance.
type VerdictRecord struct {
	Iteration  int       `json:"iteration"`
	Content    string    `json:"content"`
	Approved   bool      `json:"approved"`
	RecordedAt time.Time `json:"recorded_at"`
}

// State is the open record threaded through a single workflow instance. It
// mirrors the partitions from spec §3: Input fields are set once and never
// revisited; Tracking counters are monotonically non-decreasing; Current
// artifacts are overwritten each iteration; Cumulative history is
// append-only; Routing is read and cleared by the graph's edge router;
// Outputs are set once at finalization; Error and Mode are as named.
type State struct {
	// Input — set once at start, immutable thereafter.
	Stage        Stage    `json:"stage"`
	Slug         string   `json:"slug"`
	ExternalID   string   `json:"external_id,omitempty"` // issue/PR number; empty until filed in the issue stage
	SourcePath   string   `json:"source_path,omitempty"` // brief path, or empty when loaded from the tracker
	OriginalInput string `json:"original_input,omitempty"` // brief text, or fetched issue/LLD body; set once by the load node
	RepoRoot     string   `json:"repo_root"`
	ContextFiles []string `json:"context_files,omitempty"`

	// InstanceID is a stable, non-sequential identifier for this workflow
	// instance, stamped once by the checkpoint store on its first save.
	// ThreadID is derived and reused across re-filed/resumed instances that
	// share an external id; InstanceID never repeats, so it is what external
	// tooling should key on to reference one specific run.
	InstanceID string `json:"instance_id,omitempty"`

	// Tracking — monotonically non-decreasing.
	FileCounter    int `json:"file_counter"`
	IterationCount int `json:"iteration_count"`
	DraftCount     int `json:"draft_count"`
	VerdictCount   int `json:"verdict_count"`

	// Current artifacts — overwritten each iteration.
	DraftPath      string `json:"draft_path,omitempty"`
	DraftContent   string `json:"draft_content,omitempty"`
	VerdictPath    string `json:"verdict_path,omitempty"`
	VerdictContent string `json:"verdict_content,omitempty"`

	// Cumulative history — append-only, never pruned.
	VerdictHistory []VerdictRecord `json:"verdict_history,omitempty"`

	// Routing — read and cleared by the edge router.
	NextNode string `json:"next_node,omitempty"`

	// Outputs — set once at finalization.
	FinalExternalID   string `json:"final_external_id,omitempty"`
	FinalURL          string `json:"final_url,omitempty"`
	FinalArtifactPath string `json:"final_artifact_path,omitempty"`
	Finalized         bool   `json:"finalized"`

	// Error — a recognized prefix (GUARD: from node.GuardFailure; TIMEOUT:
	// and API_ERROR: from the stage package's classifyExternalErr).
	ErrorMessage string `json:"error_message,omitempty"`

	// Mode — set at start, immutable.
	AutoMode bool `json:"auto_mode"`
	MockMode bool `json:"mock_mode"`
	DryRun   bool `json:"dry_run"`

	// PendingFeedback carries free-form human feedback from a gate back to
	// the drafting node; cleared once consumed.
	PendingFeedback string `json:"pending_feedback,omitempty"`

	// ImplIteration-specific: set by the test-first coder / test runner.
	TestsOnly    bool   `json:"tests_only,omitempty"`
	LastTestExit *int   `json:"last_test_exit,omitempty"`
	WorktreePath string `json:"worktree_path,omitempty"`

	// PendingNode is graph-engine bookkeeping, not a node-visible field: the
	// name of the node that will run next on resume. Empty means the
	// instance has reached a terminal route (nothing left to resume).
	PendingNode string `json:"pending_node,omitempty"`
}

// ThreadID returns the checkpoint store key for this instance, of the form
// "<external_id>-<stage>", or "<slug>-<stage>" while external_id is empty.
func (s State) ThreadID() string {
	id := s.ExternalID
	if id == "" {
		id = s.Slug
	}
	return id + "-" + string(s.Stage)
}

// Clone returns a deep-enough copy of s for safe mutation by a merge step.
func (s State) Clone() State {
	out := s
	if s.ContextFiles != nil {
		out.ContextFiles = append([]string(nil), s.ContextFiles...)
	}
	if s.VerdictHistory != nil {
		out.VerdictHistory = append([]VerdictRecord(nil), s.VerdictHistory...)
	}
	return out
}
