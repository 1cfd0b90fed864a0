package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickmisasi/governance-engine/logging"
	"github.com/nickmisasi/governance-engine/node"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "lld_workflow.db"), logging.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	state := node.State{
		Stage:          node.StageLLD,
		ExternalID:     "42",
		Slug:           "widget",
		FileCounter:    3,
		IterationCount: 1,
		DraftContent:   "draft body",
		VerdictHistory: []node.VerdictRecord{{Iteration: 1, Content: "revise"}},
	}

	require.NoError(t, store.Save(state.ThreadID(), state))

	got, ok, err := store.Load(state.ThreadID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.ExternalID, got.ExternalID)
	assert.Equal(t, state.FileCounter, got.FileCounter)
	assert.Equal(t, state.DraftContent, got.DraftContent)
	require.Len(t, got.VerdictHistory, 1)
	assert.Equal(t, "revise", got.VerdictHistory[0].Content)
}

func TestSaveStampsInstanceIDOnce(t *testing.T) {
	store := openTestStore(t)
	s := node.State{Stage: node.StageLLD, ExternalID: "7", FileCounter: 1}
	require.NoError(t, store.Save(s.ThreadID(), s))

	got, ok, err := store.Load(s.ThreadID())
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, got.InstanceID)

	got.FileCounter = 2
	require.NoError(t, store.Save(s.ThreadID(), got))

	again, ok, err := store.Load(s.ThreadID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got.InstanceID, again.InstanceID, "instance id must not change across saves")
}

func TestLoadMissingThreadReturnsNotFound(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Load("999-lld")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOverwritesPreviousSnapshotAtomically(t *testing.T) {
	store := openTestStore(t)
	s := node.State{Stage: node.StageLLD, ExternalID: "7", FileCounter: 1}
	require.NoError(t, store.Save(s.ThreadID(), s))

	s.FileCounter = 2
	s.NextNode = "review"
	require.NoError(t, store.Save(s.ThreadID(), s))

	got, ok, err := store.Load(s.ThreadID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.FileCounter)
	assert.Equal(t, "review", got.NextNode)
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	store := openTestStore(t)
	s := node.State{Stage: node.StageLLD, ExternalID: "7", FileCounter: 1}
	require.NoError(t, store.Save(s.ThreadID(), s))

	require.NoError(t, store.Delete(s.ThreadID()))

	_, ok, err := store.Load(s.ThreadID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolvePathPriority(t *testing.T) {
	path, err := ResolvePath(node.StageLLD, "/repo", "/override/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/override/x.db", path)

	path, err = ResolvePath(node.StageLLD, "/repo", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/repo", ".governance", "lld_workflow.db"), path)

	path, err = ResolvePath(node.StageIssue, "", "")
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join(".governance", "issue_workflow.db"))
}
