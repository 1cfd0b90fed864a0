package stage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickmisasi/governance-engine/node"
)

func TestLLDStageMockModeWritesApprovedFile(t *testing.T) {
	d, root := testDeps(t)
	lldRoot := filepath.Join(root, "docs", "lld")

	store := newMemCheckpointStore()
	g := BuildLLDGraph(d, store, lldRoot)

	final, err := g.Run(context.Background(), node.State{
		Stage:      node.StageLLD,
		ExternalID: "42",
		MockMode:   true,
		AutoMode:   true,
	})
	require.NoError(t, err)
	assert.True(t, final.Finalized)
	assert.FileExists(t, filepath.Join(lldRoot, "active", "LLD-42.md"))
}

func TestLLDStageRejectsNonNumericExternalID(t *testing.T) {
	d, root := testDeps(t)
	lldRoot := filepath.Join(root, "docs", "lld")
	store := newMemCheckpointStore()
	g := BuildLLDGraph(d, store, lldRoot)

	final, err := g.Run(context.Background(), node.State{
		Stage:      node.StageLLD,
		ExternalID: "not-a-number",
		MockMode:   true,
		AutoMode:   true,
	})
	require.NoError(t, err)
	assert.Contains(t, final.ErrorMessage, "GUARD:")
}
