// Package metrics keeps cheap process-wide counters for the status endpoint.
package metrics

import "sync/atomic"

// Store accumulates token and tool counters. All methods are safe for
// concurrent use.
type Store struct {
	inputTokens  atomic.Uint64
	outputTokens atomic.Uint64
	toolCalls    atomic.Uint64
	messages     atomic.Uint64
}

// NewStore returns a zeroed Store.
func NewStore() *Store {
	return &Store{}
}

// AddTokens records token usage from one completion.
func (s *Store) AddTokens(input, output uint64) {
	s.inputTokens.Add(input)
	s.outputTokens.Add(output)
}

// IncToolCalls counts one tool invocation attempt.
func (s *Store) IncToolCalls() {
	s.toolCalls.Add(1)
}

// IncMessages counts one processed inbound message.
func (s *Store) IncMessages() {
	s.messages.Add(1)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	InputTokens  uint64 `json:"input_tokens"`
	OutputTokens uint64 `json:"output_tokens"`
	ToolCalls    uint64 `json:"tool_calls"`
	Messages     uint64 `json:"messages"`
}

// Snapshot reads every counter once.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		InputTokens:  s.inputTokens.Load(),
		OutputTokens: s.outputTokens.Load(),
		ToolCalls:    s.toolCalls.Load(),
		Messages:     s.messages.Load(),
	}
}
