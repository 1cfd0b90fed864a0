package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickmisasi/governance-engine/handoff"
	"github.com/nickmisasi/governance-engine/node"
)

func TestImplStageMockModeFinalizesWithoutRepoRoot(t *testing.T) {
	d, root := testDeps(t)

	approvedDir := filepath.Join(d.LineageRoot, "done", "42-add-widget")
	require.NoError(t, os.MkdirAll(approvedDir, 0o755))
	lldPath := filepath.Join(approvedDir, "approved.md")
	require.NoError(t, os.WriteFile(lldPath, []byte("# Add Widget\n\napproach..."), 0o644))

	store := newMemCheckpointStore()
	g := BuildImplGraph(d, store)

	final, err := g.Run(context.Background(), node.State{
		Stage:      node.StageImpl,
		ExternalID: "42",
		SourcePath: lldPath,
		MockMode:   true,
		AutoMode:   true,
	})
	require.NoError(t, err)
	assert.True(t, final.Finalized)
	_ = root
}

func TestImplDraftIsTestsOnlyOnFirstIteration(t *testing.T) {
	d, _ := testDeps(t)
	n := implDraftNode(d)

	delta, err := n.Run(context.Background(), node.State{
		Stage:         node.StageImpl,
		Slug:          "add-widget",
		OriginalInput: "# Add Widget\n\napproach",
		MockMode:      true,
	})
	require.NoError(t, err)
	require.NotNil(t, delta.TestsOnly)
	assert.True(t, *delta.TestsOnly)
	require.NotNil(t, delta.NextNode)
	assert.Equal(t, "human-edit-draft", *delta.NextNode)
}

func TestImplDraftRunsTestsAndLoopsBackOnFailure(t *testing.T) {
	d, root := testDeps(t)
	d.Tests = MockTestRunner{ExitCode: 1, Output: "FAIL: widget_test.go"}
	n := implDraftNode(d)

	delta, err := n.Run(context.Background(), node.State{
		Stage:          node.StageImpl,
		Slug:           "add-widget",
		OriginalInput:  "# Add Widget\n\napproach",
		MockMode:       true,
		IterationCount: 1,
		RepoRoot:       root,
	})
	require.NoError(t, err)
	require.NotNil(t, delta.ErrorMessage)
	assert.Contains(t, *delta.ErrorMessage, "FAILED_IMPORT")
	require.NotNil(t, delta.NextNode)
	assert.Equal(t, "draft", *delta.NextNode)
	require.NotNil(t, delta.LastTestExit)
	assert.Equal(t, 1, *delta.LastTestExit)
}

func TestImplDraftProceedsOnTestSuccess(t *testing.T) {
	d, root := testDeps(t)
	d.Tests = MockTestRunner{ExitCode: 0}
	n := implDraftNode(d)

	delta, err := n.Run(context.Background(), node.State{
		Stage:          node.StageImpl,
		Slug:           "add-widget",
		OriginalInput:  "# Add Widget\n\napproach",
		MockMode:       true,
		IterationCount: 1,
		RepoRoot:       root,
	})
	require.NoError(t, err)
	assert.Nil(t, delta.ErrorMessage)
	require.NotNil(t, delta.NextNode)
	assert.Equal(t, "human-edit-draft", *delta.NextNode)
}

func TestSoleInputIsOnlyArtifactHandoffCarries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approved.md")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	content, err := handoff.SoleInput(path)
	require.NoError(t, err)
	assert.Equal(t, "content", content)
}
