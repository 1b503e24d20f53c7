// Package sandbox confines tool filesystem access to a workspace root and
// bounds tool output size.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the process-wide sandbox policy, read-only after construction.
type Config struct {
	// WorkspacePath is the directory all file operations are confined to.
	WorkspacePath string
	// ExecTimeout bounds shell command wall time.
	ExecTimeout time.Duration
	// MaxOutputBytes caps combined tool output before truncation.
	MaxOutputBytes int
	// ExecEnabled gates the exec_cmd tool entirely.
	ExecEnabled bool
	// NetworkAllowlist lists hosts web tools may reach. Empty = allow all.
	NetworkAllowlist []string
}

// DefaultConfig mirrors the shipped policy: 30s exec budget, 64KiB output cap.
func DefaultConfig() Config {
	return Config{
		WorkspacePath:  "workspace",
		ExecTimeout:    30 * time.Second,
		MaxOutputBytes: 64 * 1024,
		ExecEnabled:    true,
	}
}

// AccessDeniedError names the path that failed confinement. Tools render it
// directly to the model, so the message is self-contained and never a raw
// filesystem error.
type AccessDeniedError struct {
	Requested string
	Workspace string
	Reason    string
}

func (e *AccessDeniedError) Error() string {
	if e.Workspace != "" {
		return fmt.Sprintf("access denied: path %q is outside workspace %q", e.Requested, e.Workspace)
	}
	return fmt.Sprintf("access denied: path %q: %s", e.Requested, e.Reason)
}

func denied(requested, workspace, reason string) error {
	return &AccessDeniedError{Requested: requested, Workspace: workspace, Reason: reason}
}

// ValidatePath resolves requested against workspace and rejects escapes.
//
// Ordering matters: the textual ".." check runs before any filesystem access,
// existing targets are canonicalized through symlinks, and a target that does
// not exist yet is validated through its nearest existing ancestor so that
// write-new-file still works.
func ValidatePath(workspace, requested string) (string, error) {
	trimmed := strings.TrimSpace(requested)
	if trimmed == "" {
		return "", denied(requested, "", "empty path")
	}

	absolute := trimmed
	if !filepath.IsAbs(absolute) {
		absolute = filepath.Join(workspace, absolute)
	}
	// filepath.Join cleans "..", so inspect the raw request too.
	if containsTraversal(trimmed) || containsTraversal(absolute) {
		return "", denied(requested, "", "parent traversal ('..') is not allowed")
	}

	workspaceCanonical, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return "", denied(requested, workspace, "workspace does not resolve")
	}

	resolved, err := canonicalize(absolute)
	if err != nil {
		return "", denied(requested, workspaceCanonical, "path does not resolve")
	}
	if !within(workspaceCanonical, resolved) {
		return "", denied(requested, workspaceCanonical, "outside workspace")
	}
	return resolved, nil
}

// canonicalize follows symlinks for the existing portion of path and
// re-appends the segments that do not exist yet.
func canonicalize(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	existing := path
	var pending []string
	for {
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		pending = append([]string{filepath.Base(existing)}, pending...)
		existing = parent
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, pending...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
}

func containsTraversal(path string) bool {
	return strings.Contains(path, "..")
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Truncate caps text at maxBytes and appends a visible notice when content
// was cut. Every output-producing tool funnels through this.
func Truncate(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	return fmt.Sprintf("%s\n\n--- OUTPUT TRUNCATED (%dB limit) ---", text[:maxBytes], maxBytes)
}

// HostAllowed applies the network allowlist to a hostname. An empty list
// permits everything; matching is case-insensitive and includes subdomains.
func HostAllowed(allowlist []string, host string) bool {
	if len(allowlist) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSpace(host))
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
