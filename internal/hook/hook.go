// Package hook runs external commands around sync actions. A validation hook
// that exits non-zero vetoes the action for its workflow.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner validates a workflow before a remote-facing action is attempted.
type Runner interface {
	// Validate runs the configured check for the workflow rooted at dir.
	// A non-nil error vetoes the pending action.
	Validate(ctx context.Context, name, dir string) error
}

// ExecRunner implements Runner by shelling out to a configured command with
// the workflow directory as its argument.
type ExecRunner struct {
	command string
}

// NewExecRunner creates a runner for the given command.
func NewExecRunner(command string) *ExecRunner {
	return &ExecRunner{command: command}
}

// IsAvailable checks that the configured command can be found.
func (r *ExecRunner) IsAvailable() (bool, error) {
	if _, err := exec.LookPath(r.command); err != nil {
		return false, fmt.Errorf("validation command not available: %w", err)
	}
	return true, nil
}

// Validate runs the command against the workflow directory. The workflow name
// is exposed via FLOWSYNCD_WORKFLOW for commands that want it.
func (r *ExecRunner) Validate(ctx context.Context, name, dir string) error {
	cmd := exec.CommandContext(ctx, r.command, dir)
	cmd.Env = append(os.Environ(), "FLOWSYNCD_WORKFLOW="+name)

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("validation failed for workflow %q: %w: %s", name, err, detail)
		}
		return fmt.Errorf("validation failed for workflow %q: %w", name, err)
	}
	return nil
}
