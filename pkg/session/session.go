// Package session persists per-key conversation history. The source of truth
// is an in-memory map backed by one JSON snapshot file per session key; an
// optional remote mirror is consulted on cold loads and written to
// best-effort in the background.
package session

import (
	"errors"
	"time"

	"github.com/cexll/agentd/pkg/core"
)

// ErrNotFound is returned by mirrors for unknown session keys.
var ErrNotFound = errors.New("session not found")

const (
	// summarizeThreshold is the history length that triggers summarization.
	summarizeThreshold = 30
	// SummaryKeep is how many recent messages survive a summarization trim.
	SummaryKeep = 10
)

// Snapshot is the serialized form of one session, both on disk and on the
// mirror wire.
type Snapshot struct {
	Key       string         `json:"key"`
	Summary   string         `json:"summary,omitempty"`
	History   []core.Message `json:"history"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func cloneHistory(history []core.Message) []core.Message {
	if history == nil {
		return nil
	}
	out := make([]core.Message, len(history))
	copy(out, history)
	return out
}
