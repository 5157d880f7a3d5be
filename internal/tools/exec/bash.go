// Package exec provides the built-in Bash tool.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/haasonsaas/agentkit/internal/tools"
)

const (
	defaultTimeout = 60 * time.Second
	maxOutputBytes = 1 << 20
)

// BashTool runs a shell command in the tool context's working directory.
// Commands accept a per-call timeout (milliseconds) in their input; the
// runtime imposes no ceiling beyond it.
type BashTool struct {
	// Timeout bounds commands that do not pass their own. Default: 60s.
	Timeout time.Duration
}

func (BashTool) Name() string        { return "Bash" }
func (BashTool) Description() string { return "Run a shell command." }

func (BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "number", "description": "Timeout in milliseconds."},
		},
		"required": []any{"command"},
	}
}

func (t BashTool) Run(ctx context.Context, input map[string]any, tc *tools.Context) (any, error) {
	command, err := tools.StringArg(input, "command")
	if err != nil {
		return nil, fmt.Errorf("Bash: %w", err)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if ms, ok := input["timeout"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-lc", command)
	cmd.Dir = tc.Cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	killed := runCtx.Err() == context.DeadlineExceeded

	exitCode := 0
	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else if !killed {
			return nil, runErr
		} else {
			exitCode = -1
		}
	}

	so, soTrunc := clip(stdout.Bytes())
	se, seTrunc := clip(stderr.Bytes())
	return map[string]any{
		"command":          command,
		"exit_code":        exitCode,
		"stdout":           so,
		"stderr":           se,
		"stdout_truncated": soTrunc,
		"stderr_truncated": seTrunc,
		"killed":           killed,
	}, nil
}

func clip(b []byte) (string, bool) {
	if len(b) > maxOutputBytes {
		return string(b[:maxOutputBytes]), true
	}
	return string(b), false
}
