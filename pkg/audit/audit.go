// Package audit appends structured security/observability events to a local
// log. The sink is one-way: recording never blocks or fails the caller's
// turn, and overflow drops events rather than applying backpressure.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds emitted by the agent loop.
const (
	KindLLMCompletion     = "llm_completion"
	KindToolExecution     = "tool_execution"
	KindSecurityViolation = "security_violation"
)

// Event is one audit record.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	SessionKey string         `json:"session_key"`
	Payload    map[string]any `json:"payload,omitempty"`
}

const defaultQueueSize = 256

// Logger writes events to <dir>/audit.log as JSON lines through a single
// background writer.
type Logger struct {
	path   string
	queue  chan Event
	logger *slog.Logger

	dropped atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
	now     func() time.Time
}

// New creates the sink and starts its writer goroutine.
func New(dir string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		path:   filepath.Join(dir, "audit.log"),
		queue:  make(chan Event, defaultQueueSize),
		logger: logger,
		now:    time.Now,
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// Log enqueues an event. It never blocks; when the queue is full the event is
// counted as dropped.
func (l *Logger) Log(kind, sessionKey string, payload map[string]any) {
	if l == nil {
		return
	}
	evt := Event{
		Timestamp:  l.now().UTC(),
		Type:       kind,
		SessionKey: sessionKey,
		Payload:    payload,
	}
	select {
	case l.queue <- evt:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many events overflowed the queue.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close flushes pending events and stops the writer.
func (l *Logger) Close() {
	l.once.Do(func() {
		close(l.queue)
	})
	l.wg.Wait()
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for evt := range l.queue {
		if err := l.write(evt); err != nil {
			l.logger.Warn("audit: write failed", "error", err)
		}
	}
}

func (l *Logger) write(evt Event) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
