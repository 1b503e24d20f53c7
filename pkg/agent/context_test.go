package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/skills"
)

func newBuilder(t *testing.T) (*ContextBuilder, string) {
	t.Helper()
	ws := t.TempDir()
	mgr := skills.NewManager(filepath.Join(ws, "skills"), nil, nil)
	return NewContextBuilder(ws, mgr), ws
}

func historyOf(n int) []core.Message {
	out := make([]core.Message, n)
	for i := range out {
		out[i] = core.NewMessage("cli", "k", core.RoleUser, fmt.Sprintf("h%d", i))
	}
	return out
}

func TestBuildBasicShape(t *testing.T) {
	b, _ := newBuilder(t)
	msgs := b.Build(historyOf(2), "", "what now?")

	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want system + 2 history + current", len(msgs))
	}
	if msgs[0].Role != core.RoleSystem || !strings.Contains(msgs[0].Content, "You are agentd") {
		t.Fatalf("system = %+v", msgs[0])
	}
	last := msgs[len(msgs)-1]
	if last.Role != core.RoleUser || last.Content != "what now?" {
		t.Fatalf("current = %+v", last)
	}
}

func TestBuildIncludesSummary(t *testing.T) {
	b, _ := newBuilder(t)
	msgs := b.Build(nil, "we discussed the weather", "hi")

	found := false
	for _, m := range msgs {
		if m.Role == core.RoleSystem && strings.Contains(m.Content, "Previous conversation summary: we discussed the weather") {
			found = true
		}
	}
	if !found {
		t.Fatal("summary block missing")
	}
}

func TestBuildWindowsLongHistory(t *testing.T) {
	b, _ := newBuilder(t)
	msgs := b.Build(historyOf(30), "", "hi")

	var note string
	var kept int
	for _, m := range msgs {
		if strings.Contains(m.Content, "older messages omitted") {
			note = m.Content
		}
		if strings.HasPrefix(m.Content, "h") {
			kept++
		}
	}
	if note == "" || !strings.Contains(note, "[10 older messages omitted") {
		t.Fatalf("omission note = %q", note)
	}
	if kept != maxHistoryMessages {
		t.Fatalf("kept = %d, want %d", kept, maxHistoryMessages)
	}
	// The window keeps the most recent messages.
	last := msgs[len(msgs)-2]
	if last.Content != "h29" {
		t.Fatalf("last history message = %q", last.Content)
	}
}

func TestBuildReadsContextFiles(t *testing.T) {
	b, ws := newBuilder(t)
	if err := os.WriteFile(filepath.Join(ws, "SOUL.md"), []byte("Be kind."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "USER.md"), []byte("Call them Sam."), 0o644); err != nil {
		t.Fatal(err)
	}

	msgs := b.Build(nil, "", "hi")
	system := msgs[0].Content
	if !strings.Contains(system, "--- SOUL.md ---\nBe kind.") {
		t.Fatalf("SOUL.md missing from system prompt:\n%s", system)
	}
	if !strings.Contains(system, "--- USER.md ---\nCall them Sam.") {
		t.Fatalf("USER.md missing from system prompt:\n%s", system)
	}
	// AGENTS.md comes before USER.md in the fixed order; absent files leave
	// no trace.
	if strings.Contains(system, "AGENTS.md") {
		t.Fatalf("absent context file mentioned:\n%s", system)
	}
}

func TestBuildInjectsAlwaysOnSkills(t *testing.T) {
	b, ws := newBuilder(t)
	manifest := `---
name: greeter
version: 1.0.0
always: true
---
Always greet warmly.
`
	if err := writeFile(filepath.Join(ws, "skills", "greeter", "SKILL.md"), manifest); err != nil {
		t.Fatal(err)
	}

	msgs := b.Build(nil, "", "hi")
	found := false
	for _, m := range msgs {
		if m.Role == core.RoleSystem && strings.Contains(m.Content, "Skill: greeter\nAlways greet warmly.") {
			found = true
		}
	}
	if !found {
		t.Fatal("always-on skill not injected")
	}
}
