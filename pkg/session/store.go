package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cexll/agentd/pkg/core"
)

const mirrorWriteTimeout = 10 * time.Second

type state struct {
	history []core.Message
	summary string
}

// Store keeps session histories in memory and snapshots them to
// <dir>/<key>.json on every mutation. Colons in keys are replaced with
// underscores on disk so "http:uuid" style keys stay portable.
type Store struct {
	dir    string
	mirror Mirror
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*state
	inflight sync.WaitGroup
}

// NewStore creates a store rooted at <workspace>/sessions. mirror may be nil.
func NewStore(workspace string, mirror Mirror, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      filepath.Join(workspace, "sessions"),
		mirror:   mirror,
		logger:   logger,
		sessions: make(map[string]*state),
	}
}

// History returns a copy of the session's message history, loading it from
// the mirror or local disk on first access.
func (s *Store) History(ctx context.Context, key string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	return cloneHistory(st.history), nil
}

// AddMessage appends msg to the session and persists the snapshot. The
// mirror write happens in the background and never fails the caller.
func (s *Store) AddMessage(ctx context.Context, key string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked(ctx, key)
	if err != nil {
		return err
	}
	st.history = append(st.history, msg)
	if err := s.persistLocked(key, st); err != nil {
		return err
	}
	if s.mirror != nil {
		s.detached(func(ctx context.Context) error {
			return s.mirror.Append(ctx, key, msg)
		}, key, "append")
	}
	return nil
}

// Summary returns the stored rolling summary, empty when none exists.
func (s *Store) Summary(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked(ctx, key)
	if err != nil {
		return "", err
	}
	return st.summary, nil
}

// SetSummary replaces the rolling summary and trims history to the most
// recent SummaryKeep messages.
func (s *Store) SetSummary(ctx context.Context, key, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked(ctx, key)
	if err != nil {
		return err
	}
	st.summary = summary
	if len(st.history) > SummaryKeep {
		st.history = cloneHistory(st.history[len(st.history)-SummaryKeep:])
	}
	if err := s.persistLocked(key, st); err != nil {
		return err
	}
	if s.mirror != nil {
		s.detached(func(ctx context.Context) error {
			return s.mirror.SetSummary(ctx, key, summary)
		}, key, "set summary")
	}
	return nil
}

// ShouldSummarize reports whether the session's history has grown past the
// summarization threshold.
func (s *Store) ShouldSummarize(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked(ctx, key)
	if err != nil {
		return false, err
	}
	return len(st.history) > summarizeThreshold, nil
}

// Keys lists the sessions currently held in memory.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.sessions))
	for key := range s.sessions {
		keys = append(keys, key)
	}
	return keys
}

// Flush waits for in-flight mirror writes. Intended for shutdown and tests.
func (s *Store) Flush() {
	s.inflight.Wait()
}

func (s *Store) loadLocked(ctx context.Context, key string) (*state, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("session: key is empty")
	}
	if st, ok := s.sessions[key]; ok {
		return st, nil
	}

	st := &state{}
	if snap, ok := s.loadCold(ctx, key); ok {
		st.history = snap.History
		st.summary = snap.Summary
	}
	s.sessions[key] = st
	return st, nil
}

// loadCold checks the mirror first so a restarted instance picks up history
// written elsewhere, then falls back to the local snapshot.
func (s *Store) loadCold(ctx context.Context, key string) (*Snapshot, bool) {
	if s.mirror != nil {
		snap, err := s.mirror.Load(ctx, key)
		switch {
		case err == nil && snap != nil:
			return snap, true
		case errors.Is(err, ErrNotFound):
		case err != nil:
			s.logger.Warn("session: mirror load failed, using local snapshot", "key", key, "error", err)
		}
	}

	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("session: read snapshot failed", "key", key, "error", err)
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("session: corrupt snapshot ignored", "key", key, "error", err)
		return nil, false
	}
	return &snap, true
}

func (s *Store) persistLocked(key string, st *state) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	snap := Snapshot{
		Key:       key,
		Summary:   st.summary,
		History:   st.history,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	path := s.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: replace snapshot: %w", err)
	}
	return nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(key, ":", "_")+".json")
}

func (s *Store) detached(fn func(context.Context) error, key, op string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("session: mirror write failed", "key", key, "op", op, "error", err)
		}
	}()
}
