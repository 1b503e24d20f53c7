package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cexll/agentd/pkg/core"
)

func userMsg(content string) core.Message {
	return core.NewMessage("test", "cli:alice", core.RoleUser, content)
}

func TestStorePersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	s := NewStore(ws, nil, nil)

	for i := 0; i < 3; i++ {
		if err := s.AddMessage(ctx, "cli:alice", userMsg(fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	// Colons are transformed for the on-disk name.
	if _, err := os.Stat(filepath.Join(ws, "sessions", "cli_alice.json")); err != nil {
		t.Fatalf("snapshot file: %v", err)
	}

	// A fresh store over the same directory sees the same history.
	reloaded := NewStore(ws, nil, nil)
	history, err := reloaded.History(ctx, "cli:alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[2].Content != "msg 2" {
		t.Fatalf("history[2] = %q", history[2].Content)
	}
}

func TestStoreHistoryIsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), nil, nil)
	if err := s.AddMessage(ctx, "k", userMsg("original")); err != nil {
		t.Fatal(err)
	}
	history, _ := s.History(ctx, "k")
	history[0].Content = "mutated"

	again, _ := s.History(ctx, "k")
	if again[0].Content != "original" {
		t.Fatal("caller mutation leaked into store")
	}
}

func TestSetSummaryTrimsHistory(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), nil, nil)
	for i := 0; i < SummaryKeep+15; i++ {
		if err := s.AddMessage(ctx, "k", userMsg(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.SetSummary(ctx, "k", "what happened so far"); err != nil {
		t.Fatalf("set summary: %v", err)
	}

	summary, err := s.Summary(ctx, "k")
	if err != nil || summary != "what happened so far" {
		t.Fatalf("summary = %q, err = %v", summary, err)
	}
	history, _ := s.History(ctx, "k")
	if len(history) != SummaryKeep {
		t.Fatalf("history length = %d, want %d", len(history), SummaryKeep)
	}
	// The most recent messages survive, oldest are dropped.
	if history[len(history)-1].Content != fmt.Sprintf("m%d", SummaryKeep+14) {
		t.Fatalf("last message = %q", history[len(history)-1].Content)
	}
}

func TestShouldSummarize(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), nil, nil)

	for i := 0; i <= summarizeThreshold; i++ {
		got, err := s.ShouldSummarize(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if got {
			t.Fatalf("triggered early at %d messages", i)
		}
		if err := s.AddMessage(ctx, "k", userMsg("m")); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ShouldSummarize(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Fatalf("not triggered at %d messages", summarizeThreshold+1)
	}
}

type fakeMirror struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	appended  []core.Message
	summaries map[string]string
	loadErr   error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		snapshots: make(map[string]*Snapshot),
		summaries: make(map[string]string),
	}
}

func (m *fakeMirror) Load(_ context.Context, key string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	snap, ok := m.snapshots[key]
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

func (m *fakeMirror) Append(_ context.Context, _ string, msg core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, msg)
	return nil
}

func (m *fakeMirror) SetSummary(_ context.Context, key, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[key] = summary
	return nil
}

func TestColdLoadPrefersMirror(t *testing.T) {
	ctx := context.Background()
	mirror := newFakeMirror()
	mirror.snapshots["k"] = &Snapshot{
		Key:     "k",
		Summary: "remote summary",
		History: []core.Message{userMsg("from the mirror")},
	}

	s := NewStore(t.TempDir(), mirror, nil)
	history, err := s.History(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "from the mirror" {
		t.Fatalf("history = %+v", history)
	}
	summary, _ := s.Summary(ctx, "k")
	if summary != "remote summary" {
		t.Fatalf("summary = %q", summary)
	}
}

func TestMirrorFailureFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()

	seed := NewStore(ws, nil, nil)
	if err := seed.AddMessage(ctx, "k", userMsg("local copy")); err != nil {
		t.Fatal(err)
	}

	mirror := newFakeMirror()
	mirror.loadErr = fmt.Errorf("mirror down")
	s := NewStore(ws, mirror, nil)
	history, err := s.History(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "local copy" {
		t.Fatalf("history = %+v", history)
	}
}

func TestMirrorReceivesWrites(t *testing.T) {
	ctx := context.Background()
	mirror := newFakeMirror()
	s := NewStore(t.TempDir(), mirror, nil)

	if err := s.AddMessage(ctx, "k", userMsg("hi")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSummary(ctx, "k", "sum"); err != nil {
		t.Fatal(err)
	}
	s.Flush()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.appended) != 1 || mirror.appended[0].Content != "hi" {
		t.Fatalf("appended = %+v", mirror.appended)
	}
	if mirror.summaries["k"] != "sum" {
		t.Fatalf("summaries = %+v", mirror.summaries)
	}
}

func TestHTTPMirror(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/known", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(Snapshot{Key: "known", History: []core.Message{userMsg("remote")}})
	})
	mux.HandleFunc("GET /sessions/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /sessions/known/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg core.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewHTTPMirror(srv.URL, "sekrit")

	snap, err := m.Load(context.Background(), "known")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Key != "known" || len(snap.History) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("auth header = %q", gotAuth)
	}

	if _, err := m.Load(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("missing: %v", err)
	}

	if err := m.Append(context.Background(), "known", userMsg("hi")); err != nil {
		t.Fatalf("append: %v", err)
	}
}
