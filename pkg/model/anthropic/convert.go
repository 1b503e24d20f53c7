package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/model"
)

func convertMessages(messages []core.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, error) {
	var systemBlocks []anthropicsdk.TextBlockParam
	params := make([]anthropicsdk.MessageParam, 0, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: msg.Content})
			}
		case core.RoleAssistant:
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return nil, nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: blocks,
			})
		case core.RoleTool:
			block, err := toolResultBlock(msg)
			if err != nil {
				return nil, nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			// The Messages API carries tool results in user-role turns.
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{block},
			})
		default:
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(nonEmpty(msg.Content))},
			})
		}
	}

	if len(params) == 0 {
		params = append(params, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(".")},
		})
	}
	return systemBlocks, params, nil
}

func assistantBlocks(msg core.Message) ([]anthropicsdk.ContentBlockParamUnion, error) {
	var blocks []anthropicsdk.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}

	calls, err := decodeAssistantCalls(msg)
	if err != nil {
		return nil, err
	}
	for _, call := range calls {
		args := map[string]any{}
		if trimmed := strings.TrimSpace(call.Arguments); trimmed != "" {
			if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: decode arguments: %w", call.Name, err)
			}
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, args, call.Name))
	}

	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks, nil
}

func decodeAssistantCalls(msg core.Message) ([]core.ToolCall, error) {
	raw := msg.Meta(core.MetaToolCalls)
	if raw == "" {
		return nil, nil
	}
	var calls []core.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	return calls, nil
}

func toolResultBlock(msg core.Message) (anthropicsdk.ContentBlockParamUnion, error) {
	id := msg.Meta(core.MetaToolCallID)
	if id == "" {
		return anthropicsdk.ContentBlockParamUnion{}, fmt.Errorf("tool message missing %s metadata", core.MetaToolCallID)
	}
	block := anthropicsdk.ToolResultBlockParam{
		ToolUseID: id,
		Content: []anthropicsdk.ToolResultBlockParamContentUnion{
			{OfText: &anthropicsdk.TextBlockParam{Text: msg.Content}},
		},
	}
	if core.IsToolFailure(msg.Content) {
		block.IsError = anthropicsdk.Bool(true)
	}
	return anthropicsdk.ContentBlockParamUnion{OfToolResult: &block}, nil
}

func convertTools(tools []map[string]any) ([]anthropicsdk.ToolUnionParam, error) {
	params := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		name, _ := def["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		schema, err := convertSchema(def["parameters"])
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		tool := anthropicsdk.ToolParam{Name: name, InputSchema: schema}
		if desc, _ := def["description"].(string); strings.TrimSpace(desc) != "" {
			tool.Description = anthropicsdk.String(desc)
		}
		params = append(params, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return params, nil
}

func convertSchema(raw any) (anthropicsdk.ToolInputSchemaParam, error) {
	params, _ := raw.(map[string]any)
	if len(params) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, fmt.Errorf("marshal schema: %w", err)
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, fmt.Errorf("unmarshal schema: %w", err)
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func convertResponse(msg *anthropicsdk.Message) *model.Response {
	var textParts []string
	var calls []core.ToolCall

	for _, block := range msg.Content {
		switch content := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			textParts = append(textParts, content.Text)
		case anthropicsdk.ToolUseBlock:
			calls = append(calls, core.ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: rawArguments(content.Input),
			})
		}
	}

	return &model.Response{
		Content:   strings.Join(textParts, "\n"),
		ToolCalls: calls,
		Usage: &model.Usage{
			InputTokens:  uint64(max64(msg.Usage.InputTokens, 0)),
			OutputTokens: uint64(max64(msg.Usage.OutputTokens, 0)),
		},
	}
}

func rawArguments(input json.RawMessage) string {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" || trimmed == "null" {
		return "{}"
	}
	return trimmed
}

func nonEmpty(s string) string {
	if s == "" {
		return "."
	}
	return s
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
