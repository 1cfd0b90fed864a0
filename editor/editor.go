// Package editor implements gate.EditorOpener by launching a local editor
// process against an artifact file. The teacher has no literal equivalent
// (its human-in-the-loop surface is Mattermost post buttons, not a local
// process); this package is grounded on the shape of the teacher's
// plugin.go process-launch discipline (explicit context, explicit timeout,
// clean separation between "start" and "wait") rather than any single file.
package editor

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/nickmisasi/governance-engine/logging"
)

// Command is the editor invocation. Defaults to $EDITOR, then $VISUAL,
// then "vi" — the conventional Unix resolution order.
type Command struct {
	Program string
	Args    []string
}

func DefaultCommand() Command {
	if e := os.Getenv("EDITOR"); e != "" {
		return Command{Program: e}
	}
	if v := os.Getenv("VISUAL"); v != "" {
		return Command{Program: v}
	}
	return Command{Program: "vi"}
}

// Opener launches Command against a path, satisfying gate.EditorOpener.
type Opener struct {
	cmd Command
	log logging.Logger
}

func New(cmd Command, logger logging.Logger) *Opener {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Opener{cmd: cmd, log: logger}
}

// OpenAndWait launches the editor on path and blocks until it exits or ctx
// is cancelled. Used for BlockingEdit gates, where the human must finish
// before the workflow proceeds.
func (o *Opener) OpenAndWait(ctx context.Context, path string) error {
	args := append(append([]string{}, o.cmd.Args...), path)
	cmd := exec.CommandContext(ctx, o.cmd.Program, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	o.log.Debug("opening editor (blocking)", "program", o.cmd.Program, "path", path)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}

// OpenNonBlocking starts the editor on path without waiting for it to
// exit. Used for NonBlockingOpen gates, where the artifact is shown for
// reference only and does not gate progress.
func (o *Opener) OpenNonBlocking(ctx context.Context, path string) error {
	args := append(append([]string{}, o.cmd.Args...), path)
	cmd := exec.Command(o.cmd.Program, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	o.log.Debug("opening editor (non-blocking)", "program", o.cmd.Program, "path", path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch editor: %w", err)
	}
	// Reap the process in the background so it does not become a zombie;
	// its exit is not awaited by the caller.
	go func() { _ = cmd.Wait() }()
	return nil
}

// StdinDecider is a gate.Decider that prompts the operator on stdin/stdout.
// Grounded on the teacher's command-parsing style in command/command.go:
// simple, line-oriented, tolerant of surrounding whitespace.
type StdinDecider struct {
	In  *os.File
	Out *os.File
}

func NewStdinDecider() StdinDecider {
	return StdinDecider{In: os.Stdin, Out: os.Stdout}
}
