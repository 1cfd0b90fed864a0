package handoff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickmisasi/governance-engine/audit"
)

func TestFinalizeMovesWritesMarkerNoGitRoot(t *testing.T) {
	base := t.TempDir()
	active := filepath.Join(base, "active", "add-widget")
	require.NoError(t, os.MkdirAll(active, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(active, "001-brief.md"), []byte("brief"), 0o644))

	done := filepath.Join(base, "done")
	store := audit.New(nil)

	res, err := Finalize(store, active, done, "42", "", "")
	require.NoError(t, err)
	assert.False(t, res.AlreadyFinalized)
	assert.DirExists(t, res.DonePath)
	assert.FileExists(t, filepath.Join(res.DonePath, Marker))
	assert.NoDirExists(t, active)
}

func TestFinalizeIsIdempotentOnAlreadyFinalizedInstance(t *testing.T) {
	base := t.TempDir()
	active := filepath.Join(base, "active", "add-widget")
	require.NoError(t, os.MkdirAll(active, 0o755))

	done := filepath.Join(base, "done")
	store := audit.New(nil)

	first, err := Finalize(store, active, done, "42", "", "")
	require.NoError(t, err)

	second, err := Finalize(store, active, done, "42", "", "")
	require.NoError(t, err)
	assert.True(t, second.AlreadyFinalized)
	assert.Equal(t, first.DonePath, second.DonePath)
}

func TestFinalizeResumesAfterInterruptedMoveWithoutMarker(t *testing.T) {
	base := t.TempDir()
	active := filepath.Join(base, "active", "add-widget")
	done := filepath.Join(base, "done", "42-add-widget")
	require.NoError(t, os.MkdirAll(done, 0o755))
	// Simulate a crash between MoveToDone succeeding and the marker write.
	store := audit.New(nil)

	res, err := Finalize(store, active, filepath.Join(base, "done"), "42", "", "")
	require.NoError(t, err)
	assert.Equal(t, done, res.DonePath)
	assert.FileExists(t, filepath.Join(done, Marker))
}

func TestSoleInputReadsArtifactContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"issue":1}`), 0o644))

	content, err := SoleInput(path)
	require.NoError(t, err)
	assert.Equal(t, `{"issue":1}`, content)
}
