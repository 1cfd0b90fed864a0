package editor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickmisasi/governance-engine/gate"
)

func TestOpenAndWaitRunsCommandToCompletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.md")
	require.NoError(t, os.WriteFile(path, []byte("draft"), 0o644))

	o := New(Command{Program: "true"}, nil)
	err := o.OpenAndWait(context.Background(), path)
	assert.NoError(t, err)
}

func TestOpenAndWaitPropagatesNonZeroExit(t *testing.T) {
	o := New(Command{Program: "false"}, nil)
	err := o.OpenAndWait(context.Background(), "/tmp/whatever")
	assert.Error(t, err)
}

func TestOpenAndWaitRespectsContextTimeout(t *testing.T) {
	o := New(Command{Program: "sleep", Args: []string{"5"}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := o.OpenAndWait(ctx, "/tmp/whatever")
	assert.Error(t, err)
}

func TestOpenNonBlockingReturnsBeforeProcessExits(t *testing.T) {
	o := New(Command{Program: "sleep", Args: []string{"1"}}, nil)
	start := time.Now()
	err := o.OpenNonBlocking(context.Background(), "/tmp/whatever")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDefaultCommandFallsBackToVi(t *testing.T) {
	os.Unsetenv("EDITOR")
	os.Unsetenv("VISUAL")
	cmd := DefaultCommand()
	assert.Equal(t, "vi", cmd.Program)
}

func TestStdinDeciderRecognizesSingleLetterProceed(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, _ = w.WriteString("p\n")
	w.Close()

	d := StdinDecider{In: r, Out: os.Stdout}
	opt, feedback, err := d.Decide(context.Background(), "artifact.md", []gate.Option{gate.OptionProceed, gate.OptionRevise, gate.OptionManualExit})
	require.NoError(t, err)
	assert.Equal(t, gate.OptionProceed, opt)
	assert.Empty(t, feedback)
}

func TestStdinDeciderReadsFeedbackOnRevise(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, _ = w.WriteString("revise\nmake it blue\n")
	w.Close()

	d := StdinDecider{In: r, Out: os.Stdout}
	opt, feedback, err := d.Decide(context.Background(), "artifact.md", []gate.Option{gate.OptionProceed, gate.OptionRevise, gate.OptionManualExit})
	require.NoError(t, err)
	assert.Equal(t, gate.OptionRevise, opt)
	assert.Equal(t, "make it blue", feedback)
}
