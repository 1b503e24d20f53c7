// Package openai adapts the official OpenAI SDK to the model.Provider
// interface. OpenRouter is served by the same adapter through its
// OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/model"
	"github.com/cexll/agentd/pkg/telemetry"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint for OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

const defaultModel = openaisdk.ChatModelGPT4o

var _ model.Provider = (*Provider)(nil)

// Provider is a blocking chat client for any OpenAI-compatible API.
type Provider struct {
	client openaisdk.Client
	name   string
}

// New creates the provider. baseURL is optional; name labels the provider in
// logs and spans (defaults to "openai").
func New(apiKey, baseURL, name string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if name == "" {
		name = "openai"
	}
	return &Provider{client: openaisdk.NewClient(opts...), name: name}
}

func (p *Provider) Name() string { return p.name }

// Chat performs one blocking completion.
func (p *Provider) Chat(ctx context.Context, messages []core.Message, tools []map[string]any, opts model.GenerationOptions) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", p.name),
			attribute.String("llm.model", opts.Model),
			attribute.Int("llm.tools_count", len(tools)),
		)...),
	)
	defer telemetry.EndSpan(span, err)

	messageParams, err := convertMessages(messages)
	if err != nil {
		return nil, &model.ConfigError{Message: err.Error()}
	}

	params := openaisdk.ChatCompletionNewParams{
		Messages: messageParams,
		Model:    resolveModel(opts.Model),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openaisdk.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		toolParams, err := convertTools(tools)
		if err != nil {
			return nil, &model.ConfigError{Message: fmt.Sprintf("convert tools: %v", err)}
		}
		params.Tools = toolParams
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &model.APIError{Message: "no choices in response"}
	}
	return convertResponse(completion)
}

func resolveModel(name string) openaisdk.ChatModel {
	if name == "" {
		return defaultModel
	}
	return openaisdk.ChatModel(name)
}

func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return &model.APIError{Status: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return &model.NetworkError{Err: err}
}
