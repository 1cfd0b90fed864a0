// Package gate implements the Gate Protocol (C5): the human interaction
// contract at pause points. It is the one place this module deliberately
// diverges from the teacher's literal behavior — see DESIGN.md's C5 entry
// for why: the teacher's rejectWorkflow records rejection as a normal state
// mutation, which would advance the checkpoint past the gate. Spec §4.5/§9
// require a cooperative interrupt instead, so a manual exit here returns a
// sentinel error recognized by the graph engine as "node did not complete."
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nickmisasi/governance-engine/node"
)

// Mode is the operating mode a gate runs under, selected per spec §4.5.
type Mode int

const (
	ModeBlockingEdit Mode = iota
	ModeNonBlockingOpen
	ModeAutomatic
)

// ResolveMode picks the mode for a pause point: automatic wins outright
// (auto_mode true), otherwise the first human gate in a stage is
// blocking-edit and every subsequent gate is non-blocking-open.
func ResolveMode(autoMode, firstGateInStage bool) Mode {
	if autoMode {
		return ModeAutomatic
	}
	if firstGateInStage {
		return ModeBlockingEdit
	}
	return ModeNonBlockingOpen
}

// Option is one of the enumerated choices offered at a blocking-edit gate.
type Option string

const (
	OptionProceed    Option = "proceed"
	OptionRevise     Option = "revise"
	OptionManualExit Option = "manual_exit"
)

// ErrPause is the sentinel cooperative interrupt. A node that wraps ErrPause
// in its returned error signals "did not complete": the graph engine must
// not merge any delta and must not advance the checkpoint, so the same gate
// is re-entered verbatim on the next run. This is the only permitted way to
// leave a workflow in a runnable-later state (spec §4.5).
var ErrPause = errors.New("gate: pause without completion")

// PauseError carries a human-readable reason alongside ErrPause.
type PauseError struct {
	Reason string
}

func (e *PauseError) Error() string { return "gate: pause without completion: " + e.Reason }
func (e *PauseError) Unwrap() error { return ErrPause }

// NewPause builds a cooperative interrupt error for the given reason.
func NewPause(reason string) error { return &PauseError{Reason: reason} }

// IsPause reports whether err is (or wraps) the cooperative interrupt.
func IsPause(err error) bool { return errors.Is(err, ErrPause) }

// EditorOpener is the subset of editor integration a gate needs: open and
// block until closed, or open without blocking. Declared here (rather than
// importing package editor) to keep gate's dependency surface to exactly
// what it uses; package editor implements this interface.
type EditorOpener interface {
	OpenAndWait(ctx context.Context, path string) error
	OpenNonBlocking(ctx context.Context, path string) error
}

// Decider prompts the human operator for one of the offered options, along
// with optional free-form feedback text (used by OptionRevise). It is never
// called in automatic mode.
type Decider interface {
	Decide(ctx context.Context, artifactPath string, options []Option) (Option, string, error)
}

// FirstGate runs the blocking-edit (or automatic) gate that follows a
// drafting node. reviewNode and draftNode are the next_node values to route
// to for OptionProceed and OptionRevise respectively.
func FirstGate(
	ctx context.Context,
	opener EditorOpener,
	decider Decider,
	artifactPath string,
	autoMode bool,
	timeout time.Duration,
	reviewNode, draftNode string,
) (node.Delta, error) {
	if autoMode {
		// Automatic: do not open the editor, decide purely from state — the
		// only purely-stateful decision available with no human and no prior
		// verdict is to proceed.
		return node.Delta{NextNode: node.StringPtr(reviewNode)}, nil
	}

	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := opener.OpenAndWait(gctx, artifactPath); err != nil {
		if gctx.Err() == context.DeadlineExceeded {
			msg := fmt.Sprintf("TIMEOUT: editor open-and-wait exceeded %s", timeout)
			return node.Delta{ErrorMessage: node.StringPtr(msg)}, nil
		}
		return node.Delta{ErrorMessage: node.StringPtr("API_ERROR: editor: " + err.Error())}, nil
	}

	opt, feedback, err := decider.Decide(gctx, artifactPath, []Option{OptionProceed, OptionRevise, OptionManualExit})
	if err != nil {
		return node.Delta{ErrorMessage: node.StringPtr("API_ERROR: gate decision: " + err.Error())}, nil
	}

	switch opt {
	case OptionProceed:
		return node.Delta{NextNode: node.StringPtr(reviewNode)}, nil
	case OptionRevise:
		return node.Delta{
			NextNode:        node.StringPtr(draftNode),
			PendingFeedback: node.StringPtr(feedback),
		}, nil
	case OptionManualExit:
		// Interrupt *before* any delta is produced, per the
		// pause-without-completion discipline. The exit choice is not
		// written to the audit directory, here or by the stage nodes that
		// call FirstGate; only the returned pause error carries it.
		return node.Delta{}, NewPause("manual exit at human gate for " + artifactPath)
	default:
		return node.Delta{ErrorMessage: node.StringPtr("GUARD: unrecognized gate option " + string(opt))}, nil
	}
}

// PostReviewGate runs the non-blocking-open (or automatic) gate that
// follows a review node. It opens the verdict artifact without blocking,
// then auto-routes purely on the already-parsed verdict (the Revision Loop
// Controller, C7, supplies approved).
func PostReviewGate(
	ctx context.Context,
	opener EditorOpener,
	verdictPath string,
	autoMode bool,
	approved bool,
	finalizeNode, draftNode string,
) node.Delta {
	if !autoMode {
		// Best-effort: a failure to open the viewer does not block routing,
		// since this gate is explicitly non-blocking.
		_ = opener.OpenNonBlocking(ctx, verdictPath)
	}

	if approved {
		return node.Delta{NextNode: node.StringPtr(finalizeNode)}
	}
	return node.Delta{NextNode: node.StringPtr(draftNode)}
}
