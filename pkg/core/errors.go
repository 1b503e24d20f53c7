package core

import (
	"errors"
	"strings"
)

// ErrToolCallName reports a tool call whose name is empty after trimming.
var ErrToolCallName = errors.New("core: tool call name is empty")

// failurePrefixes mark tool results that report an error rather than output.
// Tool errors are folded into result text so the model can react to them,
// which leaves prefix inspection as the only success signal downstream.
var failurePrefixes = []string{
	"Error",
	"Permission denied",
	"Tool not found",
}

// IsToolFailure reports whether a tool result string carries an error.
func IsToolFailure(result string) bool {
	for _, prefix := range failurePrefixes {
		if strings.HasPrefix(result, prefix) {
			return true
		}
	}
	return false
}
