package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cexll/agentd/pkg/bus"
	"github.com/cexll/agentd/pkg/metrics"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus, *metrics.Store) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	store := metrics.NewStore()
	return New(b, store, nil, nil), b, store
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStatusReportsMetrics(t *testing.T) {
	srv, _, store := newTestServer(t)
	store.AddTokens(7, 11)
	store.IncMessages()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Metrics metrics.Snapshot `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Metrics.InputTokens != 7 || payload.Metrics.OutputTokens != 11 || payload.Metrics.Messages != 1 {
		t.Fatalf("metrics = %+v", payload.Metrics)
	}
}

func TestMessagePublishesInbound(t *testing.T) {
	srv, b, _ := newTestServer(t)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	body := strings.NewReader(`{"message":"hello","session_key":"http:fixed"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] == "" || resp["session_key"] != "http:fixed" {
		t.Fatalf("response = %v", resp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if evt.Kind != bus.KindInbound || evt.Message.Content != "hello" || evt.Message.ID != resp["id"] {
		t.Fatalf("event = %+v", evt)
	}
}

func TestMessageDefaultsSessionKey(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"message":"hi"}`)))

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp["session_key"], "http:") || len(resp["session_key"]) <= len("http:") {
		t.Fatalf("session_key = %q", resp["session_key"])
	}
}

func TestMessageRejectsBadPayloads(t *testing.T) {
	srv, _, _ := newTestServer(t)
	cases := map[string]string{
		"not json":      `{{{`,
		"empty message": `{"message":"  "}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}
}
