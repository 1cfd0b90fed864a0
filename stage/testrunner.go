package stage

import (
	"bytes"
	"context"
	"os/exec"
)

// TestRunner invokes the real test suite and reports its exit code, which
// is the sole authority on pass/fail for the implementation stage's
// test-first coder (spec §4.8.3: "its exit code — not the LLM's claim
// about its exit code — is the authority on pass/fail").
type TestRunner interface {
	Run(ctx context.Context, repoRoot string) (exitCode int, output string, err error)
}

// ExecTestRunner runs a configured command (e.g. "go test ./...") in
// repoRoot via os/exec, the same way this module's
// audit.Store.CommitLineage shells out to git.
type ExecTestRunner struct {
	Program string
	Args    []string
}

func (r ExecTestRunner) Run(ctx context.Context, repoRoot string) (int, string, error) {
	cmd := exec.CommandContext(ctx, r.Program, r.Args...)
	cmd.Dir = repoRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return 0, out.String(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), out.String(), nil
	}
	return -1, out.String(), err
}

// MockTestRunner is the mock_mode fixture: it never shells out and reports
// a configurable fixed exit code.
type MockTestRunner struct {
	ExitCode int
	Output   string
}

func (r MockTestRunner) Run(ctx context.Context, repoRoot string) (int, string, error) {
	return r.ExitCode, r.Output, nil
}
