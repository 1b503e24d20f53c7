// Package agent runs the conversational loop: it consumes inbound messages
// from the bus, iterates model calls and tool executions, and publishes the
// final assistant response.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/agentd/pkg/audit"
	"github.com/cexll/agentd/pkg/bus"
	"github.com/cexll/agentd/pkg/config"
	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/metrics"
	"github.com/cexll/agentd/pkg/model"
	"github.com/cexll/agentd/pkg/sandbox"
	"github.com/cexll/agentd/pkg/session"
	"github.com/cexll/agentd/pkg/skills"
	"github.com/cexll/agentd/pkg/telemetry"
	"github.com/cexll/agentd/pkg/tool"
)

const (
	// maxIterations bounds the tool-call loop within one turn.
	maxIterations = 10
	// llmAttempts is the outer retry budget per model call, on top of the
	// provider's own transient-failure retries.
	llmAttempts = 3

	outputPreviewLen = 200

	summarizeSystemPrompt = "You are a helpful assistant. Summarize the conversation history concisely."
	summarizeMaxTokens    = 500
	summarizeTemperature  = 0.3
)

// Config wires the loop's collaborators. Bus, App, Provider, Registry,
// Sessions and Skills are required.
type Config struct {
	Bus      *bus.Bus
	App      *config.AppConfig
	Provider model.Provider
	Registry *tool.Registry
	Sessions *session.Store
	Skills   *skills.Manager
	Metrics  *metrics.Store
	Audit    *audit.Logger
	Logger   *slog.Logger
}

// Loop is the agent runtime. One Loop processes inbound messages
// sequentially.
type Loop struct {
	bus      *bus.Bus
	app      *config.AppConfig
	provider model.Provider
	registry *tool.Registry
	sessions *session.Store
	skills   *skills.Manager
	metrics  *metrics.Store
	audit    *audit.Logger
	logger   *slog.Logger
	builder  *ContextBuilder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New validates cfg and constructs the loop.
func New(cfg Config) (*Loop, error) {
	switch {
	case cfg.Bus == nil:
		return nil, errors.New("agent: bus is required")
	case cfg.App == nil:
		return nil, errors.New("agent: app config is required")
	case cfg.Provider == nil:
		return nil, errors.New("agent: provider is required")
	case cfg.Registry == nil:
		return nil, errors.New("agent: tool registry is required")
	case cfg.Sessions == nil:
		return nil, errors.New("agent: session store is required")
	case cfg.Skills == nil:
		return nil, errors.New("agent: skills manager is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:      cfg.Bus,
		app:      cfg.App,
		provider: cfg.Provider,
		registry: cfg.Registry,
		sessions: cfg.Sessions,
		skills:   cfg.Skills,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		builder:  NewContextBuilder(cfg.App.Workspace, cfg.Skills),
		sleep:    sleepCtx,
		now:      time.Now,
	}, nil
}

// Run consumes inbound messages until the bus closes or ctx is cancelled.
// Lagged subscriptions are logged and skipped over, never fatal.
func (l *Loop) Run(ctx context.Context) error {
	sub := l.bus.Subscribe()
	defer sub.Unsubscribe()

	l.logger.Info("agent loop started")
	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			var lagged *bus.LaggedError
			switch {
			case errors.As(err, &lagged):
				l.logger.Error("agent loop lagged behind the bus", "dropped", lagged.Count)
				continue
			case errors.Is(err, bus.ErrClosed):
				l.logger.Info("bus closed, stopping agent loop")
				return nil
			default:
				return err
			}
		}
		if evt.Kind != bus.KindInbound {
			continue
		}
		l.process(ctx, evt.Message)
	}
}

func (l *Loop) process(ctx context.Context, msg core.Message) {
	ctx, span := telemetry.StartSpan(ctx, "agent.turn",
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("session.key", msg.SessionKey),
			attribute.String("message.id", msg.ID),
			attribute.String("message.channel", msg.Channel),
		)...),
	)
	defer telemetry.EndSpan(span, nil)

	l.logger.Info("processing message", "id", msg.ID, "session", msg.SessionKey)
	l.metrics.IncMessages()

	if err := l.sessions.AddMessage(ctx, msg.SessionKey, msg); err != nil {
		l.logger.Error("failed to persist inbound message", "error", err)
	}
	l.maybeUpdatePersona(msg.Content)

	history, err := l.sessions.History(ctx, msg.SessionKey)
	if err != nil {
		l.logger.Error("failed to load history", "session", msg.SessionKey, "error", err)
	}
	summary, err := l.sessions.Summary(ctx, msg.SessionKey)
	if err != nil {
		l.logger.Error("failed to load summary", "session", msg.SessionKey, "error", err)
	}
	// The inbound message was just appended; the builder re-adds the current
	// input itself.
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	messages := l.builder.Build(history, summary, msg.Content)

	perm := l.skills.AllowedTools()
	defs := l.registry.Definitions(perm)
	if len(defs) == 0 {
		l.logger.Warn("no tools available under current skill permissions")
	}

	opts := model.GenerationOptions{
		Model:       l.app.Agent.Model,
		MaxTokens:   l.app.Agent.MaxTokens,
		Temperature: l.app.Agent.Temperature,
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := l.callWithRetry(ctx, messages, defs, opts)
		if err != nil {
			l.logger.Error("model call failed after retries", "attempts", llmAttempts, "error", err)
			l.sendError(msg.SessionKey, fmt.Sprintf(
				"I encountered an error communicating with the AI provider: %v", err))
			return
		}

		if resp.Usage != nil {
			l.metrics.AddTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
			l.audit.Log(audit.KindLLMCompletion, msg.SessionKey, map[string]any{
				"model":         opts.Model,
				"input_tokens":  resp.Usage.InputTokens,
				"output_tokens": resp.Usage.OutputTokens,
				"iteration":     iteration,
			})
		}

		assistant := core.NewMessage("agent", msg.SessionKey, core.RoleAssistant, resp.Content)
		if len(resp.ToolCalls) > 0 {
			if serialized, err := json.Marshal(resp.ToolCalls); err == nil {
				assistant = assistant.WithMeta(core.MetaToolCalls, string(serialized))
			}
		}
		messages = append(messages, assistant)

		if len(resp.ToolCalls) == 0 {
			if err := l.sessions.AddMessage(ctx, msg.SessionKey, assistant); err != nil {
				l.logger.Error("failed to persist assistant message", "error", err)
			}
			if err := l.bus.Publish(bus.Outbound(assistant)); err != nil {
				l.logger.Error("failed to publish outbound message", "error", err)
			}
			l.maybeSummarizeAndTrim(ctx, msg.SessionKey, opts.Model)
			return
		}

		for _, call := range resp.ToolCalls {
			result := l.runToolCall(ctx, msg.SessionKey, perm, call)
			toolMsg := core.NewMessage("agent", msg.SessionKey, core.RoleTool, result).
				WithMeta(core.MetaToolCallID, call.ID)
			messages = append(messages, toolMsg)
		}
	}

	l.logger.Warn("agent loop hit max iterations", "session", msg.SessionKey, "iterations", maxIterations)
	l.sendError(msg.SessionKey, fmt.Sprintf(
		"I reached the maximum number of processing steps (%d). "+
			"My last response may be incomplete. Please try rephrasing your request.", maxIterations))
}

// callWithRetry retries any model failure with 1s doubling delays. The
// provider's Reliable wrapper already retried transient faults with short
// backoffs; this outer layer is the last line before the turn aborts.
func (l *Loop) callWithRetry(ctx context.Context, messages []core.Message, defs []map[string]any, opts model.GenerationOptions) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt < llmAttempts; attempt++ {
		resp, err := l.provider.Chat(ctx, messages, defs, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt < llmAttempts-1 {
			delay := time.Duration(1<<attempt) * time.Second
			l.logger.Warn("model call failed, retrying",
				"attempt", attempt+1, "max", llmAttempts, "delay", delay, "error", err)
			if sleepErr := l.sleep(ctx, delay); sleepErr != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

// runToolCall executes one tool call and renders its outcome as the result
// text handed back to the model. Failures never abort the batch.
func (l *Loop) runToolCall(ctx context.Context, sessionKey string, perm tool.Permission, call core.ToolCall) string {
	l.logger.Info("executing tool", "tool", call.Name, "session", sessionKey)

	// Permission is enforced when definitions are built, but the model can
	// name any tool it likes; re-check at execution time.
	if !perm.Allows(call.Name) {
		l.logger.Warn("blocked tool execution", "tool", call.Name)
		l.audit.Log(audit.KindSecurityViolation, sessionKey, map[string]any{
			"type":   "tool_blocked",
			"tool":   call.Name,
			"reason": "default_deny",
		})
		return fmt.Sprintf("Error: Tool '%s' is not authorized by any active skill.", call.Name)
	}

	l.metrics.IncToolCalls()
	start := l.now()

	var result string
	t, err := l.registry.Get(call.Name)
	switch {
	case err != nil:
		result = "Tool not found: " + call.Name
	default:
		output, execErr := t.Execute(ctx, json.RawMessage(call.Arguments))
		result = l.renderToolOutcome(sessionKey, call, output, execErr)
	}
	elapsed := l.now().Sub(start)

	success := !core.IsToolFailure(result)
	l.registry.Record(call.Name, elapsed, success)
	l.audit.Log(audit.KindToolExecution, sessionKey, map[string]any{
		"tool":           call.Name,
		"args":           call.Arguments,
		"output_preview": preview(result, outputPreviewLen),
		"duration_ms":    elapsed.Milliseconds(),
		"success":        success,
	})
	return result
}

func (l *Loop) renderToolOutcome(sessionKey string, call core.ToolCall, output string, err error) string {
	if err == nil {
		return output
	}
	var (
		denied      *sandbox.AccessDeniedError
		invalidArgs *tool.InvalidArgsError
	)
	switch {
	case errors.As(err, &denied):
		l.audit.Log(audit.KindSecurityViolation, sessionKey, map[string]any{
			"type":   "sandbox_violation",
			"tool":   call.Name,
			"detail": denied.Error(),
		})
		return "Permission denied: " + denied.Error()
	case errors.As(err, &invalidArgs):
		return fmt.Sprintf("Error parsing arguments: %v", invalidArgs.Err)
	default:
		return fmt.Sprintf("Error executing tool: %v", err)
	}
}

// maybeSummarizeAndTrim compresses a long session into a rolling summary and
// keeps only the recent tail. Failures are logged and the session left
// untouched.
func (l *Loop) maybeSummarizeAndTrim(ctx context.Context, sessionKey, modelName string) {
	should, err := l.sessions.ShouldSummarize(ctx, sessionKey)
	if err != nil || !should {
		return
	}
	l.logger.Info("auto-summarizing session history", "session", sessionKey)

	history, err := l.sessions.History(ctx, sessionKey)
	if err != nil {
		l.logger.Error("summarize: load history failed", "session", sessionKey, "error", err)
		return
	}
	var rendered strings.Builder
	for _, m := range history {
		fmt.Fprintf(&rendered, "%s: %s\n", m.Role, m.Content)
	}

	messages := []core.Message{
		core.NewMessage("system", sessionKey, core.RoleSystem, summarizeSystemPrompt),
		core.NewMessage("user", sessionKey, core.RoleUser,
			"Summarize the following conversation into a concise paragraph:\n\n"+rendered.String()),
	}
	opts := model.GenerationOptions{
		Model:       modelName,
		MaxTokens:   summarizeMaxTokens,
		Temperature: summarizeTemperature,
	}

	resp, err := l.callWithRetry(ctx, messages, nil, opts)
	if err != nil {
		l.logger.Error("failed to auto-summarize", "session", sessionKey, "error", err)
		return
	}
	if resp.Usage != nil {
		l.metrics.AddTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	// SetSummary also trims history down to the retained tail.
	if err := l.sessions.SetSummary(ctx, sessionKey, resp.Content); err != nil {
		l.logger.Error("failed to store summary", "session", sessionKey, "error", err)
	}
}

func (l *Loop) maybeUpdatePersona(content string) {
	pref := ExtractPreference(content)
	if pref == nil {
		return
	}
	workspace := l.app.Workspace
	go func() {
		if err := UpsertProfile(workspace, pref); err != nil {
			l.logger.Warn("failed to update persona profile", "error", err)
		}
	}()
}

func (l *Loop) sendError(sessionKey, text string) {
	msg := core.NewMessage("agent", sessionKey, core.RoleAssistant, text)
	if err := l.bus.Publish(bus.Outbound(msg)); err != nil {
		l.logger.Error("failed to publish error message", "error", err)
	}
}

// preview truncates to limit bytes without splitting a UTF-8 rune.
func preview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
