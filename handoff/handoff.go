// Package handoff implements Stage Handoff (C9): the rules governing where
// a stage's final artifact lands, what git operation commits it, and the
// idempotency/ordering guarantees finalization must uphold. Grounded on
// the teacher's reviewloop.go postReviewLoopCompletion, which checks a
// completion marker before re-running finalization side effects.
package handoff

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nickmisasi/governance-engine/audit"
)

// Marker is the completion-marker file name written into a finalized
// lineage directory; its presence is the idempotency check.
const Marker = ".finalized"

// Result describes a completed handoff for governance-log purposes.
type Result struct {
	AlreadyFinalized bool
	DonePath         string
}

// Finalize moves activeDir to doneParent/<externalID>-<slug>, writes the
// completion marker, and commits the move — in that order, so a crash
// between commit and checkpoint-terminal-transition leaves the instance
// resumable at finalization rather than abandoned (spec §4.9: "Handoff
// commits occur before the checkpoint advances to terminated").
//
// Rerunning Finalize on an already-finalized instance (doneParent/<id>-<slug>
// already exists and carries the marker) is a no-op that returns
// AlreadyFinalized=true — it does not re-commit or re-move anything.
func Finalize(store *audit.Store, activeDir, doneParent, externalID, repoRoot, commitMessage string) (Result, error) {
	slug := filepath.Base(activeDir)
	donePath := filepath.Join(doneParent, externalID+"-"+slug)

	if marker := filepath.Join(donePath, Marker); fileExists(marker) {
		return Result{AlreadyFinalized: true, DonePath: donePath}, nil
	}

	// A prior run may have already moved the directory (or even written the
	// marker) and crashed before the commit landed. If activeDir is already
	// gone but donePath exists without a marker, treat this as a resume of
	// an interrupted finalize rather than calling MoveToDone again (which
	// would fail: activeDir no longer exists).
	if !fileExists(activeDir) && fileExists(donePath) {
		if err := os.WriteFile(filepath.Join(donePath, Marker), []byte("finalized\n"), 0o644); err != nil {
			return Result{}, fmt.Errorf("write completion marker on resume: %w", err)
		}
		if repoRoot != "" {
			if err := store.CommitLineage(repoRoot, []string{donePath}, commitMessage); err != nil {
				return Result{}, fmt.Errorf("commit handoff on resume: %w", err)
			}
		}
		return Result{DonePath: donePath}, nil
	}

	moved, err := store.MoveToDone(activeDir, doneParent, externalID)
	if err != nil {
		return Result{}, fmt.Errorf("move lineage to done: %w", err)
	}

	markerPath := filepath.Join(moved, Marker)
	if err := os.WriteFile(markerPath, []byte("finalized\n"), 0o644); err != nil {
		return Result{}, fmt.Errorf("write completion marker: %w", err)
	}

	if repoRoot != "" {
		if err := store.CommitLineage(repoRoot, []string{moved}, commitMessage); err != nil {
			return Result{}, fmt.Errorf("commit handoff: %w", err)
		}
	}

	return Result{DonePath: moved}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SoleInput reads the single artifact file that constitutes the sole input
// to the next stage, per spec §4.9 ("no checkpoint state is shared between
// stages") — the next stage's load node must read only this file, never
// any field of the prior stage's checkpoint.
func SoleInput(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read sole-input artifact %s: %w", path, err)
	}
	return string(b), nil
}
