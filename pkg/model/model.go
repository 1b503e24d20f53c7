// Package model defines the LLM provider boundary: a blocking chat interface,
// classified errors, and a retry wrapper for transient failures.
package model

import (
	"context"

	"github.com/cexll/agentd/pkg/core"
)

// GenerationOptions carries per-call sampling knobs. Zero values defer to the
// provider's defaults.
type GenerationOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage reports token counts for one completion when the provider returns
// them.
type Usage struct {
	InputTokens  uint64
	OutputTokens uint64
}

// Response is one assistant turn. Content and ToolCalls may both be present.
type Response struct {
	Content   string
	ToolCalls []core.ToolCall
	Usage     *Usage
}

// Provider is a blocking chat completion backend. Tool definitions are flat
// maps with "name", "description" and "parameters" keys; each adapter
// converts them to its wire schema.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []core.Message, tools []map[string]any, opts GenerationOptions) (*Response, error)
}
