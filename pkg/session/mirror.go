package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cexll/agentd/pkg/core"
)

// Mirror is a remote copy of session state. Load is consulted before local
// snapshots on cold starts; writes are best-effort.
type Mirror interface {
	Load(ctx context.Context, key string) (*Snapshot, error)
	Append(ctx context.Context, key string, msg core.Message) error
	SetSummary(ctx context.Context, key, summary string) error
}

// HTTPMirror talks to a session mirror service:
//
//	GET  /sessions/{key}          -> Snapshot
//	POST /sessions/{key}/messages -> append one message
//	PUT  /sessions/{key}/summary  -> replace the summary
type HTTPMirror struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Mirror = (*HTTPMirror)(nil)

// NewHTTPMirror creates a mirror client. token is optional and sent as a
// bearer credential when present.
func NewHTTPMirror(baseURL, token string) *HTTPMirror {
	return &HTTPMirror{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *HTTPMirror) Load(ctx context.Context, key string) (*Snapshot, error) {
	resp, err := m.do(ctx, http.MethodGet, m.sessionURL(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var snap Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return nil, fmt.Errorf("mirror: decode snapshot: %w", err)
		}
		return &snap, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("mirror: load %s: unexpected status %s", key, resp.Status)
	}
}

func (m *HTTPMirror) Append(ctx context.Context, key string, msg core.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mirror: marshal message: %w", err)
	}
	resp, err := m.do(ctx, http.MethodPost, m.sessionURL(key)+"/messages", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expectSuccess(resp, "append")
}

func (m *HTTPMirror) SetSummary(ctx context.Context, key, summary string) error {
	body, err := json.Marshal(map[string]string{"summary": summary})
	if err != nil {
		return fmt.Errorf("mirror: marshal summary: %w", err)
	}
	resp, err := m.do(ctx, http.MethodPut, m.sessionURL(key)+"/summary", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expectSuccess(resp, "set summary")
}

func (m *HTTPMirror) sessionURL(key string) string {
	return m.baseURL + "/sessions/" + url.PathEscape(key)
}

func (m *HTTPMirror) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("mirror: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: %s %s: %w", method, target, err)
	}
	return resp, nil
}

func expectSuccess(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("mirror: %s: unexpected status %s", op, resp.Status)
}
