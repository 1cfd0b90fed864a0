package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpener struct {
	openErr     error
	waitedOn    string
	nonBlocking string
}

func (f *fakeOpener) OpenAndWait(_ context.Context, path string) error {
	f.waitedOn = path
	return f.openErr
}

func (f *fakeOpener) OpenNonBlocking(_ context.Context, path string) error {
	f.nonBlocking = path
	return nil
}

type fixedDecider struct {
	opt      Option
	feedback string
	err      error
}

func (d fixedDecider) Decide(context.Context, string, []Option) (Option, string, error) {
	return d.opt, d.feedback, d.err
}

type hangingOpener struct{}

func (hangingOpener) OpenAndWait(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingOpener) OpenNonBlocking(context.Context, string) error { return nil }

func TestFirstGateAutomaticModeProceedsWithoutOpening(t *testing.T) {
	opener := &fakeOpener{}
	d, err := FirstGate(context.Background(), opener, fixedDecider{}, "draft.md", true, time.Hour, "review", "draft")
	require.NoError(t, err)
	require.NotNil(t, d.NextNode)
	assert.Equal(t, "review", *d.NextNode)
	assert.Empty(t, opener.waitedOn)
}

func TestFirstGateProceedRoutesToReview(t *testing.T) {
	opener := &fakeOpener{}
	d, err := FirstGate(context.Background(), opener, fixedDecider{opt: OptionProceed}, "draft.md", false, time.Hour, "review", "draft")
	require.NoError(t, err)
	require.NotNil(t, d.NextNode)
	assert.Equal(t, "review", *d.NextNode)
	assert.Equal(t, "draft.md", opener.waitedOn)
}

func TestFirstGateReviseRoutesBackToDraftWithFeedback(t *testing.T) {
	opener := &fakeOpener{}
	d, err := FirstGate(context.Background(), opener, fixedDecider{opt: OptionRevise, feedback: "tighten this up"}, "draft.md", false, time.Hour, "review", "draft")
	require.NoError(t, err)
	require.NotNil(t, d.NextNode)
	assert.Equal(t, "draft", *d.NextNode)
	require.NotNil(t, d.PendingFeedback)
	assert.Equal(t, "tighten this up", *d.PendingFeedback)
}

func TestFirstGateManualExitRaisesPauseAndProducesNoDelta(t *testing.T) {
	opener := &fakeOpener{}
	d, err := FirstGate(context.Background(), opener, fixedDecider{opt: OptionManualExit}, "draft.md", false, time.Hour, "review", "draft")
	require.Error(t, err)
	assert.True(t, IsPause(err))
	assert.Nil(t, d.NextNode)
	assert.Nil(t, d.ErrorMessage)
}

func TestFirstGateTimeoutProducesTimeoutPrefixedError(t *testing.T) {
	d, err := FirstGate(context.Background(), hangingOpener{}, fixedDecider{}, "draft.md", false, 10*time.Millisecond, "review", "draft")
	require.NoError(t, err)
	require.NotNil(t, d.ErrorMessage)
	assert.Contains(t, *d.ErrorMessage, "TIMEOUT:")
}

func TestFirstGateEditorErrorProducesAPIErrorPrefix(t *testing.T) {
	opener := &fakeOpener{openErr: errors.New("no display")}
	d, err := FirstGate(context.Background(), opener, fixedDecider{}, "draft.md", false, time.Hour, "review", "draft")
	require.NoError(t, err)
	require.NotNil(t, d.ErrorMessage)
	assert.Contains(t, *d.ErrorMessage, "API_ERROR:")
}

func TestPostReviewGateApprovedRoutesToFinalize(t *testing.T) {
	opener := &fakeOpener{}
	d := PostReviewGate(context.Background(), opener, "verdict.md", false, true, "finalize", "draft")
	require.NotNil(t, d.NextNode)
	assert.Equal(t, "finalize", *d.NextNode)
	assert.Equal(t, "verdict.md", opener.nonBlocking)
}

func TestPostReviewGateNotApprovedRoutesToDraft(t *testing.T) {
	opener := &fakeOpener{}
	d := PostReviewGate(context.Background(), opener, "verdict.md", false, false, "finalize", "draft")
	require.NotNil(t, d.NextNode)
	assert.Equal(t, "draft", *d.NextNode)
}

func TestPostReviewGateAutomaticDoesNotOpenViewer(t *testing.T) {
	opener := &fakeOpener{}
	_ = PostReviewGate(context.Background(), opener, "verdict.md", true, true, "finalize", "draft")
	assert.Empty(t, opener.nonBlocking)
}
