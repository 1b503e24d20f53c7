// Package anthropic adapts the official Anthropic SDK to the model.Provider
// interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/model"
	"github.com/cexll/agentd/pkg/telemetry"
)

const defaultModel = anthropicsdk.ModelClaudeSonnet4_5

var _ model.Provider = (*Provider)(nil)

// Provider is a blocking chat client backed by the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
}

// New creates the provider. baseURL is optional and overrides the API host
// for proxies.
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: anthropicsdk.NewClient(opts...)}
}

func (p *Provider) Name() string { return "anthropic" }

// Chat performs one blocking completion.
func (p *Provider) Chat(ctx context.Context, messages []core.Message, tools []map[string]any, opts model.GenerationOptions) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", "anthropic"),
			attribute.String("llm.model", opts.Model),
			attribute.Int("llm.tools_count", len(tools)),
		)...),
	)
	defer telemetry.EndSpan(span, err)

	systemBlocks, messageParams, err := convertMessages(messages)
	if err != nil {
		return nil, &model.ConfigError{Message: err.Error()}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropicsdk.MessageNewParams{
		Model:     resolveModel(opts.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messageParams,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		toolParams, err := convertTools(tools)
		if err != nil {
			return nil, &model.ConfigError{Message: fmt.Sprintf("convert tools: %v", err)}
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return convertResponse(message), nil
}

func resolveModel(name string) anthropicsdk.Model {
	if name == "" {
		return defaultModel
	}
	return anthropicsdk.Model(name)
}

// classify maps SDK errors onto the model package's error taxonomy so the
// retry layer can tell outages from bad requests.
func classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return &model.APIError{Status: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return &model.NetworkError{Err: err}
}
