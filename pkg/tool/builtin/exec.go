package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cexll/agentd/pkg/sandbox"
	"github.com/cexll/agentd/pkg/tool"
)

// ExecCmd runs a shell command inside the workspace with a wall-clock
// timeout. Disabled entirely when the sandbox policy says so.
type ExecCmd struct {
	cfg sandbox.Config
}

func (t *ExecCmd) Name() string { return "exec_cmd" }

func (t *ExecCmd) Description() string {
	return "Run a shell command in the workspace directory and return its output."
}

func (t *ExecCmd) Schema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"command": map[string]any{"type": "string", "description": "Shell command to run"},
	}, "command")
}

func (t *ExecCmd) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(t.Name(), args, &req); err != nil {
		return "", err
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return "", &tool.InvalidArgsError{Tool: t.Name(), Err: errors.New("command is empty")}
	}
	if !t.cfg.ExecEnabled {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: errors.New("command execution is disabled by configuration")}
	}
	// Commands run with the workspace as cwd, but a traversal token in the
	// command text is a cheap tell that the model is reaching outside it.
	if strings.Contains(command, "..") {
		return "", &sandbox.AccessDeniedError{Requested: command, Reason: "parent traversal ('..') is not allowed in commands"}
	}

	runCtx := ctx
	if t.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.cfg.ExecTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.cfg.WorkspacePath
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", &tool.ExecutionError{
			Tool: t.Name(),
			Err:  fmt.Errorf("command timed out after %s", t.cfg.ExecTimeout),
		}
	}

	output := renderOutput(stdout.String(), stderr.String())
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", &tool.ExecutionError{
				Tool: t.Name(),
				Err:  fmt.Errorf("exit status %d\n%s", exitErr.ExitCode(), sandbox.Truncate(output, t.cfg.MaxOutputBytes)),
			}
		}
		return "", &tool.ExecutionError{Tool: t.Name(), Err: runErr}
	}
	return sandbox.Truncate(output, t.cfg.MaxOutputBytes), nil
}

func renderOutput(stdout, stderr string) string {
	var sections []string
	if strings.TrimSpace(stdout) != "" {
		sections = append(sections, "STDOUT:\n"+stdout)
	}
	if strings.TrimSpace(stderr) != "" {
		sections = append(sections, "STDERR:\n"+stderr)
	}
	if len(sections) == 0 {
		return "(no output)"
	}
	return strings.Join(sections, "\n")
}
