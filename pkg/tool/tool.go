// Package tool defines the tool abstraction, its permission model and the
// registry the agent executes tools through.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a capability the model may invoke. Execute receives the raw JSON
// arguments from the model; implementations decode and validate them.
// The returned string is shown to the model verbatim.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// InvalidArgsError reports arguments that failed to decode or validate.
type InvalidArgsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %v", e.Tool, e.Err)
}

func (e *InvalidArgsError) Unwrap() error { return e.Err }

// ExecutionError reports a tool that decoded its arguments but failed to run.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ObjectSchema is a convenience builder for JSON schema maps with required
// string properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
