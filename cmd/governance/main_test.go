package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepoOwnerNameSplitsOwnerSlashRepo(t *testing.T) {
	f := &runFlags{repo: "acme/widgets"}
	owner, name := f.repoOwnerName()
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)
}

func TestRepoOwnerNameRejectsMissingSlash(t *testing.T) {
	f := &runFlags{repo: "not-a-repo-ref"}
	owner, name := f.repoOwnerName()
	assert.Empty(t, owner)
	assert.Empty(t, name)
}

func TestSlugFromBriefFlagStripsExtension(t *testing.T) {
	assert.Equal(t, "add-widget", slugFromBriefFlag("/tmp/briefs/add-widget.md"))
}

func TestSlugFromBriefFlagEmptyWhenNoBrief(t *testing.T) {
	assert.Equal(t, "", slugFromBriefFlag(""))
}

func TestExitCodeForNilIsZero(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(nil))
}
