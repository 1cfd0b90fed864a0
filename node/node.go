package node

import "context"

// Delta carries only the fields a node actually changed, plus any counters
// it must preserve per spec §4.4 ("Preservation of counters across
// transitions is the node's responsibility"). Pointer fields distinguish
// "unchanged" (nil) from "explicitly set to the zero value".
type Delta struct {
	Slug          *string
	ExternalID    *string
	SourcePath    *string
	OriginalInput *string

	FileCounter    *int
	IterationCount *int
	DraftCount     *int
	VerdictCount   *int

	DraftPath      *string
	DraftContent   *string
	VerdictPath    *string
	VerdictContent *string

	// AppendVerdict, when non-nil, is appended to VerdictHistory. History is
	// append-only; a Delta can never remove or reorder entries.
	AppendVerdict *VerdictRecord

	NextNode *string

	FinalExternalID   *string
	FinalURL          *string
	FinalArtifactPath *string
	Finalized         *bool

	ErrorMessage *string

	PendingFeedback *string

	TestsOnly    *bool
	LastTestExit *int
	WorktreePath *string
}

// Merge applies d onto s and returns the resulting State. Fields left nil in
// d are preserved from s unchanged.
func Merge(s State, d Delta) State {
	out := s.Clone()

	if d.Slug != nil {
		out.Slug = *d.Slug
	}
	if d.ExternalID != nil {
		out.ExternalID = *d.ExternalID
	}
	if d.SourcePath != nil {
		out.SourcePath = *d.SourcePath
	}
	if d.OriginalInput != nil {
		out.OriginalInput = *d.OriginalInput
	}
	if d.FileCounter != nil {
		out.FileCounter = *d.FileCounter
	}
	if d.IterationCount != nil {
		out.IterationCount = *d.IterationCount
	}
	if d.DraftCount != nil {
		out.DraftCount = *d.DraftCount
	}
	if d.VerdictCount != nil {
		out.VerdictCount = *d.VerdictCount
	}
	if d.DraftPath != nil {
		out.DraftPath = *d.DraftPath
	}
	if d.DraftContent != nil {
		out.DraftContent = *d.DraftContent
	}
	if d.VerdictPath != nil {
		out.VerdictPath = *d.VerdictPath
	}
	if d.VerdictContent != nil {
		out.VerdictContent = *d.VerdictContent
	}
	if d.AppendVerdict != nil {
		out.VerdictHistory = append(out.VerdictHistory, *d.AppendVerdict)
	}
	if d.NextNode != nil {
		out.NextNode = *d.NextNode
	}
	if d.FinalExternalID != nil {
		out.FinalExternalID = *d.FinalExternalID
	}
	if d.FinalURL != nil {
		out.FinalURL = *d.FinalURL
	}
	if d.FinalArtifactPath != nil {
		out.FinalArtifactPath = *d.FinalArtifactPath
	}
	if d.Finalized != nil {
		out.Finalized = *d.Finalized
	}
	if d.ErrorMessage != nil {
		out.ErrorMessage = *d.ErrorMessage
	}
	if d.PendingFeedback != nil {
		out.PendingFeedback = *d.PendingFeedback
	}
	if d.TestsOnly != nil {
		out.TestsOnly = *d.TestsOnly
	}
	if d.LastTestExit != nil {
		out.LastTestExit = d.LastTestExit
	}
	if d.WorktreePath != nil {
		out.WorktreePath = *d.WorktreePath
	}

	// Entering a node with a routing hint consumes it: the edge router reads
	// NextNode once and clears it, so a node that doesn't set it starts the
	// next run with a blank slate rather than replaying a stale hint.
	if d.NextNode == nil {
		out.NextNode = ""
	}

	return out
}

// Node is a pure function of input State to output Delta. Implementations
// must short-circuit on MockMode, run a pre-guard before any external
// side effect, and never call the checkpoint store directly.
type Node interface {
	Name() string
	Run(ctx context.Context, s State) (Delta, error)
}

// Func adapts a plain function to the Node interface.
type Func struct {
	NodeName string
	Fn       func(ctx context.Context, s State) (Delta, error)
}

func (f Func) Name() string { return f.NodeName }

func (f Func) Run(ctx context.Context, s State) (Delta, error) { return f.Fn(ctx, s) }

func ptr[T any](v T) *T { return &v }

func StringPtr(v string) *string { return ptr(v) }
func IntPtr(v int) *int          { return ptr(v) }
func BoolPtr(v bool) *bool       { return ptr(v) }

// GuardFailure builds the Delta for a failed pre/post-guard: an
// error_message prefixed GUARD: and no other state change, per spec §4.4.
func GuardFailure(msg string) Delta {
	return Delta{ErrorMessage: StringPtr("GUARD: " + msg)}
}
