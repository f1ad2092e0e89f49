package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts command execution so handlers can be tested without
// touching the host. Run returns combined output for status-style
// commands; Output returns stdout alone for commands whose stdout is a
// payload (database dumps).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner executes commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("exec %s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("exec %s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
