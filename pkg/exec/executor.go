// Package exec provides abstractions for command execution.
// This package enables testable code by allowing CLI commands to be mocked.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandExecutor defines an interface for executing external commands.
// The git integration runs through it so tests can replay canned output.
type CommandExecutor interface {
	// Execute runs a command with the given context and arguments.
	// Returns stdout, stderr, and any error that occurred.
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealCommandExecutor executes actual commands using os/exec.
// This is the production implementation.
type RealCommandExecutor struct {
	// Env is appended to the current process environment.
	Env []string
}

// Execute runs an actual command.
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if r != nil && len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ErrNotFound is wrapped by Execute errors when the binary is not on PATH.
var ErrNotFound = exec.ErrNotFound

// DefaultExecutor returns the standard production executor.
// Interactive git credential prompts are disabled.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{Env: []string{"GIT_TERMINAL_PROMPT=0"}}
}

// ExitCode extracts the process exit code from an Execute error, or -1 when
// the command never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
