package core

import (
	"strings"

	"github.com/google/uuid"
)

// Role identifies who authored a message. Values are lowercase on the wire.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the four known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Metadata keys used by the agent loop.
const (
	// MetaToolCalls carries the assistant's requested tool calls, serialized
	// as JSON, so a persisted transcript can be replayed faithfully.
	MetaToolCalls = "tool_calls_json"
	// MetaToolCallID correlates a tool-role message with the call it answers.
	MetaToolCallID = "tool_call_id"
)

// Message is the unit exchanged between ingestion adapters, the agent loop,
// and tools. Identity is ID; a Message is never mutated after creation except
// for metadata added by its creator before it is handed off.
type Message struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`
	SessionKey string            `json:"session_key"`
	Content    string            `json:"content"`
	Role       Role              `json:"role"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewMessage builds a Message with a fresh ID and an empty metadata map.
func NewMessage(channel, sessionKey string, role Role, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Channel:    channel,
		SessionKey: sessionKey,
		Content:    content,
		Role:       role,
		Metadata:   map[string]string{},
	}
}

// WithMeta returns a copy of the message with one metadata entry added.
func (m Message) WithMeta(key, value string) Message {
	meta := make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// Meta returns the metadata value for key, or "".
func (m Message) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// ToolCall is a model-requested invocation of a named capability. Arguments
// is the raw JSON string exactly as the provider produced it; parsing is the
// executor's responsibility. ToolCalls are turn-scoped and survive only as
// serialized message metadata.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Validate rejects calls without a usable name.
func (c ToolCall) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrToolCallName
	}
	return nil
}
