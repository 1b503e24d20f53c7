package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Persona extraction is a best-effort side feature: it scans chat text for
// naming requests in English and Vietnamese and persists them into a marked
// block of the workspace USER.md. Failures are logged by the caller, never
// surfaced to the user.

const (
	personaBlockStart = "<!-- agentd:persona:start -->"
	personaBlockEnd   = "<!-- agentd:persona:end -->"

	defaultAssistantName = "agentd"
	defaultUserName      = "friend"
	defaultTone          = "friendly, concise"

	maxNameLength = 80
)

// Preference holds names extracted from one chat message. Either field may
// be empty.
type Preference struct {
	AssistantName string
	UserName      string
}

var userNameMarkers = []string{
	"hãy gọi tôi là",
	"hay goi toi la",
	"goi toi la",
	"call me",
	"you can call me",
	"address me as",
}

var userNameStops = []string{
	" và tên của bạn là",
	" va ten cua ban la",
	" and your name is",
	" and call yourself",
	" and your name should be",
	".", ",", ";", "!", "?",
}

var assistantNameMarkers = []string{
	"tên của bạn là",
	"ten cua ban la",
	"your name is",
	"call yourself",
	"you should call yourself",
	"hãy gọi bạn là",
	"hay goi ban la",
}

var assistantNameStops = []string{
	".", ",", ";", "!", "?", " nhé", " nhe", " please",
}

// ExtractPreference scans content for naming requests. Returns nil when
// nothing matches.
func ExtractPreference(content string) *Preference {
	normalized := strings.Join(strings.Fields(content), " ")
	if normalized == "" {
		return nil
	}
	lower := strings.ToLower(normalized)

	pref := &Preference{
		UserName:      extractNamedValue(normalized, lower, userNameMarkers, userNameStops),
		AssistantName: extractNamedValue(normalized, lower, assistantNameMarkers, assistantNameStops),
	}
	if pref.UserName == "" && pref.AssistantName == "" {
		return nil
	}
	return pref
}

func extractNamedValue(original, lower string, markers, stops []string) string {
	for _, marker := range markers {
		start := strings.Index(lower, marker)
		if start < 0 {
			continue
		}
		valueStart := start + len(marker)
		if valueStart >= len(original) {
			continue
		}
		end := len(lower)
		tail := lower[valueStart:]
		for _, stop := range stops {
			if idx := strings.Index(tail, stop); idx >= 0 && valueStart+idx < end {
				end = valueStart + idx
			}
		}
		if end <= valueStart || end > len(original) {
			continue
		}
		if cleaned := sanitizeName(original[valueStart:end]); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

func sanitizeName(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.Trim(cleaned, "\"'`")
	cleaned = strings.Trim(cleaned, ":-=")
	compact := strings.Join(strings.Fields(cleaned), " ")
	if compact == "" || len(compact) > maxNameLength {
		return ""
	}
	return compact
}

// UpsertProfile merges pref into the persona block of <workspace>/USER.md,
// preserving values the new preference does not override. Idempotent: the
// marked block is replaced in place when present, appended otherwise.
func UpsertProfile(workspace string, pref *Preference) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return err
	}
	path := filepath.Join(workspace, "USER.md")
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}

	assistantName := firstNonBlank(pref.AssistantName,
		extractQuotedValue(existing, "- Refer to yourself as"), defaultAssistantName)
	userName := firstNonBlank(pref.UserName,
		extractQuotedValue(existing, "- Address the user as"), defaultUserName)
	tone := firstNonBlank(extractQuotedValue(existing, "- Maintain tone"), defaultTone)

	block := fmt.Sprintf("## Preferred Addressing\n"+
		"- Refer to yourself as %q.\n"+
		"- Address the user as %q.\n"+
		"- Maintain tone: %q.\n"+
		"- Apply this from the first reply unless the user asks to change.",
		assistantName, userName, tone)

	merged := replacePersonaBlock(existing, block)
	return os.WriteFile(path, []byte(strings.TrimRight(merged, "\n")+"\n"), 0o644)
}

func extractQuotedValue(content, prefix string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		first := strings.Index(trimmed, `"`)
		if first < 0 {
			continue
		}
		rest := trimmed[first+1:]
		second := strings.Index(rest, `"`)
		if second < 0 {
			continue
		}
		if value := strings.TrimSpace(rest[:second]); value != "" {
			return value
		}
	}
	return ""
}

func replacePersonaBlock(existing, block string) string {
	wrapped := personaBlockStart + "\n" + block + "\n" + personaBlockEnd

	start := strings.Index(existing, personaBlockStart)
	end := strings.Index(existing, personaBlockEnd)
	if start >= 0 && end > start {
		prefix := strings.TrimRight(existing[:start], " \n")
		suffix := strings.TrimLeft(existing[end+len(personaBlockEnd):], " \n")
		switch {
		case prefix == "" && suffix == "":
			return wrapped
		case prefix == "":
			return wrapped + "\n\n" + suffix
		case suffix == "":
			return prefix + "\n\n" + wrapped
		default:
			return prefix + "\n\n" + wrapped + "\n\n" + suffix
		}
	}

	base := strings.TrimRight(existing, " \n")
	if base == "" {
		return wrapped
	}
	return base + "\n\n" + wrapped
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
