package skills

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, manifest string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, SkillFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
}

const gitSkill = `---
name: git-helper
description: Git workflow assistance
version: 1.2.0
always: true
requires:
  bins: [git]
permissions:
  tools: [exec_cmd, read_file]
---
Use git status before committing.
`

func TestParse(t *testing.T) {
	skill, err := Parse([]byte(gitSkill))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skill.Name != "git-helper" || skill.Version != "1.2.0" || !skill.Always {
		t.Fatalf("skill = %+v", skill)
	}
	if len(skill.Requires.Bins) != 1 || skill.Requires.Bins[0] != "git" {
		t.Fatalf("requires = %+v", skill.Requires)
	}
	if skill.Permissions == nil || len(skill.Permissions.Tools) != 2 {
		t.Fatalf("permissions = %+v", skill.Permissions)
	}
	if skill.Body != "Use git status before committing." {
		t.Fatalf("body = %q", skill.Body)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no frontmatter":  "just markdown",
		"unterminated":    "---\nname: x\n",
		"invalid yaml":    "---\nname: [\n---\nbody",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func newTestManager(dir string, minVersions map[string]string) *Manager {
	m := NewManager(dir, minVersions, nil)
	m.lookPath = func(bin string) (string, error) {
		if bin == "git" {
			return "/usr/bin/git", nil
		}
		return "", errors.New("not found")
	}
	m.getenv = func(key string) string {
		if key == "HOME" {
			return "/home/u"
		}
		return ""
	}
	return m
}

func TestManagerScanAndAvailability(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git-helper", gitSkill)
	writeSkill(t, dir, "needs-exotic-bin", `---
name: needs-exotic-bin
version: 1.0.0
requires:
  bins: [definitely-not-installed]
---
body
`)
	writeSkill(t, dir, "needs-env", `---
name: needs-env
version: 1.0.0
requires:
  env: [UNSET_VARIABLE]
---
body
`)

	m := newTestManager(dir, nil)
	got := m.Skills()
	if len(got) != 1 || got[0].Name != "git-helper" {
		t.Fatalf("skills = %+v", got)
	}
}

func TestManagerVersionGate(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git-helper", gitSkill)

	tooNew := newTestManager(dir, map[string]string{"git-helper": "2.0.0"})
	if got := tooNew.Skills(); len(got) != 0 {
		t.Fatalf("expected gate to reject 1.2.0 < 2.0.0, got %+v", got)
	}

	satisfied := newTestManager(dir, map[string]string{"git-helper": "1.0.0"})
	if got := satisfied.Skills(); len(got) != 1 {
		t.Fatalf("expected gate to accept 1.2.0 >= 1.0.0, got %+v", got)
	}
}

func TestManagerAlwaysOn(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git-helper", gitSkill)
	writeSkill(t, dir, "on-demand", `---
name: on-demand
version: 0.1.0
---
body
`)

	m := newTestManager(dir, nil)
	always := m.AlwaysOn()
	if len(always) != 1 || always[0].Name != "git-helper" {
		t.Fatalf("always-on = %+v", always)
	}
}

func TestAllowedTools(t *testing.T) {
	t.Run("no declared permissions allows all", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "plain", "---\nname: plain\nversion: 1.0.0\n---\nbody\n")
		m := newTestManager(dir, nil)
		if !m.AllowedTools().Unrestricted() {
			t.Fatal("expected unrestricted")
		}
	})

	t.Run("declared permissions restrict to the union", func(t *testing.T) {
		dir := t.TempDir()
		writeSkill(t, dir, "git-helper", gitSkill)
		writeSkill(t, dir, "reader", `---
name: reader
version: 1.0.0
permissions:
  tools: [read_file, list_dir]
---
body
`)
		m := newTestManager(dir, nil)
		perm := m.AllowedTools()
		for _, name := range []string{"exec_cmd", "read_file", "list_dir"} {
			if !perm.Allows(name) {
				t.Errorf("%s should be allowed", name)
			}
		}
		if perm.Allows("write_file") {
			t.Error("write_file should be denied")
		}
	})
}

func TestInvalidateForcesRescan(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(dir, nil)
	if got := m.Skills(); len(got) != 0 {
		t.Fatalf("skills = %+v", got)
	}

	writeSkill(t, dir, "git-helper", gitSkill)
	if got := m.Skills(); len(got) != 0 {
		t.Fatal("cache should still be empty before invalidation")
	}
	m.Invalidate()
	if got := m.Skills(); len(got) != 1 {
		t.Fatalf("skills after invalidate = %+v", got)
	}
}

func TestSkillNameDefaultsToDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "anonymous", "---\nversion: 1.0.0\n---\nbody\n")
	m := newTestManager(dir, nil)
	got := m.Skills()
	if len(got) != 1 || got[0].Name != "anonymous" {
		t.Fatalf("skills = %+v", got)
	}
}
