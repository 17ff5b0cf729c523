package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandResult is the captured outcome of one external command
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stdout followed by stderr, trimmed, for error messages
func (r CommandResult) Output() string {
	out := strings.TrimSpace(r.Stdout)
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	return out
}

// Runner executes an external command. A non-zero exit code is reported in
// the result, not as an error; the error is reserved for commands that could
// not be run or did not finish before ctx ended.
type Runner func(ctx context.Context, name string, args ...string) (CommandResult, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("command execution timeout (%s): %w", name, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	return res, nil
}
