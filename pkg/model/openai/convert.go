package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"

	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/model"
)

func convertMessages(messages []core.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	params := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			params = append(params, openaisdk.SystemMessage(msg.Content))
		case core.RoleAssistant:
			union, err := assistantMessage(msg)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			params = append(params, union)
		case core.RoleTool:
			id := msg.Meta(core.MetaToolCallID)
			if id == "" {
				return nil, fmt.Errorf("messages[%d]: tool message missing %s metadata", i, core.MetaToolCallID)
			}
			params = append(params, openaisdk.ToolMessage(msg.Content, id))
		default:
			params = append(params, openaisdk.UserMessage(msg.Content))
		}
	}
	if len(params) == 0 {
		params = append(params, openaisdk.UserMessage(""))
	}
	return params, nil
}

func assistantMessage(msg core.Message) (openaisdk.ChatCompletionMessageParamUnion, error) {
	asst := openaisdk.ChatCompletionAssistantMessageParam{}

	var calls []core.ToolCall
	if raw := msg.Meta(core.MetaToolCalls); raw != "" {
		if err := json.Unmarshal([]byte(raw), &calls); err != nil {
			return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("decode tool calls: %w", err)
		}
	}

	if msg.Content != "" || len(calls) == 0 {
		asst.Content.OfString = openaisdk.String(msg.Content)
	}
	for idx, call := range calls {
		name := strings.TrimSpace(call.Name)
		if name == "" {
			return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("tool_calls[%d]: missing name", idx)
		}
		args := strings.TrimSpace(call.Arguments)
		if args == "" {
			args = "{}"
		}
		asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaisdk.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openaisdk.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      name,
					Arguments: args,
				},
			},
		})
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
}

func convertTools(tools []map[string]any) ([]openaisdk.ChatCompletionToolUnionParam, error) {
	out := make([]openaisdk.ChatCompletionToolUnionParam, 0, len(tools))
	for idx, def := range tools {
		name, _ := def["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("tools[%d]: missing name", idx)
		}
		fn := openaisdk.FunctionDefinitionParam{Name: name}
		if desc, _ := def["description"].(string); strings.TrimSpace(desc) != "" {
			fn.Description = openaisdk.String(desc)
		}
		if params, ok := def["parameters"].(map[string]any); ok && len(params) > 0 {
			fn.Parameters = openaisdk.FunctionParameters(params)
		}
		out = append(out, openaisdk.ChatCompletionToolUnionParam{
			OfFunction: &openaisdk.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return out, nil
}

func convertResponse(completion *openaisdk.ChatCompletion) (*model.Response, error) {
	msg := completion.Choices[0].Message
	content := msg.Content
	if content == "" && strings.TrimSpace(msg.Refusal) != "" {
		content = msg.Refusal
	}

	resp := &model.Response{
		Content: content,
		Usage: &model.Usage{
			InputTokens:  uint64(max64(completion.Usage.PromptTokens, 0)),
			OutputTokens: uint64(max64(completion.Usage.CompletionTokens, 0)),
		},
	}

	for idx, call := range msg.ToolCalls {
		fn := call.AsFunction()
		if strings.TrimSpace(fn.Function.Name) == "" {
			return nil, fmt.Errorf("tool_calls[%d]: missing function name", idx)
		}
		args := strings.TrimSpace(fn.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, core.ToolCall{
			ID:        fn.ID,
			Name:      fn.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
