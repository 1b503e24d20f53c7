package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/skills"
)

// maxHistoryMessages bounds the sliding window of history included in the
// model context so long sessions do not outgrow the token budget.
const maxHistoryMessages = 20

// contextFiles are workspace documents folded into the system prompt when
// they exist, in this order.
var contextFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

const basePrompt = "You are agentd, an intelligent AI assistant.\n" +
	"You must answer the user's request accurately and concisely.\n" +
	"If you need to perform actions, use the provided tools.\n"

// ContextBuilder assembles the message list for one model call: system
// prompt, rolling summary, always-on skills, a sliding history window and
// the current input.
type ContextBuilder struct {
	workspace string
	skills    *skills.Manager
}

// NewContextBuilder creates a builder over the workspace directory.
func NewContextBuilder(workspace string, mgr *skills.Manager) *ContextBuilder {
	return &ContextBuilder{workspace: workspace, skills: mgr}
}

// Build renders the context for a turn. history excludes the current input,
// which is appended last as a fresh user message.
func (b *ContextBuilder) Build(history []core.Message, summary, current string) []core.Message {
	var messages []core.Message
	system := func(content string) {
		messages = append(messages, core.NewMessage("system", "global", core.RoleSystem, content))
	}

	system(b.systemPrompt())

	if strings.TrimSpace(summary) != "" {
		system("Previous conversation summary: " + summary)
	}

	if b.skills != nil {
		for _, skill := range b.skills.AlwaysOn() {
			system(fmt.Sprintf("Skill: %s\n%s", skill.Name, skill.Body))
		}
	}

	window := history
	if len(history) > maxHistoryMessages {
		system(fmt.Sprintf("[%d older messages omitted — see summary above for context]",
			len(history)-maxHistoryMessages))
		window = history[len(history)-maxHistoryMessages:]
	}
	messages = append(messages, window...)

	messages = append(messages, core.NewMessage("cli", "current", core.RoleUser, current))
	return messages
}

func (b *ContextBuilder) systemPrompt() string {
	var prompt strings.Builder
	prompt.WriteString(basePrompt)
	for _, name := range contextFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		fmt.Fprintf(&prompt, "\n--- %s ---\n%s\n", name, data)
	}
	return prompt.String()
}
