package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathRejectsTraversalBeforeFilesystemAccess(t *testing.T) {
	// Workspace deliberately does not exist: the textual check must fire
	// before any filesystem call could fail for other reasons.
	_, err := ValidatePath("/nonexistent/ws", "../etc/passwd")
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("want AccessDeniedError, got %v", err)
	}
	if !strings.Contains(denied.Reason, "..") {
		t.Fatalf("reason = %q", denied.Reason)
	}
}

func TestValidatePathTraversalForms(t *testing.T) {
	ws := t.TempDir()
	cases := []string{
		"..",
		"../outside.txt",
		"a/../../b",
		"nested/..hidden/../../x",
		filepath.Join(ws, "..", "sibling"),
	}
	for _, requested := range cases {
		if _, err := ValidatePath(ws, requested); err == nil {
			t.Errorf("ValidatePath(%q) accepted", requested)
		}
	}
}

func TestValidatePathAcceptsInsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	sub := filepath.Join(ws, "docs")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(sub, "note.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := ValidatePath(ws, "docs/note.txt")
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	root, _ := filepath.EvalSymlinks(ws)
	if resolved != filepath.Join(root, "docs", "note.txt") {
		t.Fatalf("resolved = %q", resolved)
	}
}

func TestValidatePathAcceptsNotYetExistingTarget(t *testing.T) {
	ws := t.TempDir()
	resolved, err := ValidatePath(ws, "new/deep/file.txt")
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	root, _ := filepath.EvalSymlinks(ws)
	if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		t.Fatalf("resolved %q not under %q", resolved, root)
	}
}

func TestValidatePathRejectsAbsoluteOutside(t *testing.T) {
	ws := t.TempDir()
	if _, err := ValidatePath(ws, "/etc/hostname"); err == nil {
		t.Fatal("absolute path outside workspace accepted")
	}
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(ws, "leak")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if _, err := ValidatePath(ws, "leak/secret.txt"); err == nil {
		t.Fatal("symlink escape accepted")
	}
}

func TestValidatePathSiblingPrefixIsNotInside(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "work")
	sibling := filepath.Join(parent, "work2")
	for _, d := range []string{ws, sibling} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ValidatePath(ws, filepath.Join(sibling, "f")); err == nil {
		t.Fatal("sibling directory sharing a name prefix accepted")
	}
}

func TestValidatePathEmptyRequest(t *testing.T) {
	if _, err := ValidatePath(t.TempDir(), "   "); err == nil {
		t.Fatal("blank path accepted")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Fatalf("short text changed: %q", got)
	}
	long := strings.Repeat("a", 50)
	got := Truncate(long, 10)
	if !strings.HasPrefix(got, strings.Repeat("a", 10)) {
		t.Fatalf("prefix lost: %q", got)
	}
	if !strings.Contains(got, "OUTPUT TRUNCATED (10B limit)") {
		t.Fatalf("no truncation notice: %q", got)
	}
	if got := Truncate(long, 0); got != long {
		t.Fatalf("zero limit should disable truncation, got %q", got)
	}
}

func TestHostAllowed(t *testing.T) {
	cases := []struct {
		name  string
		allow []string
		host  string
		want  bool
	}{
		{"empty list allows all", nil, "example.com", true},
		{"exact match", []string{"example.com"}, "example.com", true},
		{"subdomain match", []string{"example.com"}, "api.example.com", true},
		{"case insensitive", []string{"Example.COM"}, "EXAMPLE.com", true},
		{"miss", []string{"example.com"}, "evil.com", false},
		{"suffix but not subdomain", []string{"example.com"}, "notexample.com", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HostAllowed(tc.allow, tc.host); got != tc.want {
				t.Fatalf("HostAllowed(%v, %q) = %v", tc.allow, tc.host, got)
			}
		})
	}
}
