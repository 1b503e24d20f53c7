package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cexll/agentd/pkg/sandbox"
	"github.com/cexll/agentd/pkg/tool"
)

// ReadFile returns the contents of a workspace file.
type ReadFile struct {
	cfg sandbox.Config
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a file from the workspace. The path is relative to the workspace root."
}

func (t *ReadFile) Schema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "File path relative to the workspace"},
	}, "path")
}

func (t *ReadFile) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(t.Name(), args, &req); err != nil {
		return "", err
	}
	resolved, err := sandbox.ValidatePath(t.cfg.WorkspacePath, req.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	return sandbox.Truncate(string(data), t.cfg.MaxOutputBytes), nil
}

// WriteFile creates or overwrites a workspace file, creating parent
// directories as needed.
type WriteFile struct {
	cfg sandbox.Config
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Write content to a file in the workspace, creating parent directories if needed."
}

func (t *WriteFile) Schema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"path":    map[string]any{"type": "string", "description": "File path relative to the workspace"},
		"content": map[string]any{"type": "string", "description": "Content to write"},
	}, "path", "content")
}

func (t *WriteFile) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(t.Name(), args, &req); err != nil {
		return "", err
	}
	resolved, err := sandbox.ValidatePath(t.cfg.WorkspacePath, req.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	if err := os.WriteFile(resolved, []byte(req.Content), 0o644); err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(req.Content), req.Path), nil
}

// ListDir lists a workspace directory, directories suffixed with "/".
type ListDir struct {
	cfg sandbox.Config
}

func (t *ListDir) Name() string { return "list_dir" }

func (t *ListDir) Description() string {
	return "List the entries of a workspace directory. Directories end with '/'."
}

func (t *ListDir) Schema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Directory path relative to the workspace, defaults to the workspace root"},
	})
}

func (t *ListDir) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(t.Name(), args, &req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Path) == "" {
		req.Path = "."
	}
	resolved, err := sandbox.ValidatePath(t.cfg.WorkspacePath, req.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty)", nil
	}
	return sandbox.Truncate(strings.Join(names, "\n"), t.cfg.MaxOutputBytes), nil
}

func decodeArgs(toolName string, args json.RawMessage, into any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, into); err != nil {
		return &tool.InvalidArgsError{Tool: toolName, Err: err}
	}
	return nil
}
