package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cexll/agentd/pkg/core"
)

type stubProvider struct {
	calls     int
	responses []func() (*Response, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(context.Context, []core.Message, []map[string]any, GenerationOptions) (*Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]()
}

func ok(content string) func() (*Response, error) {
	return func() (*Response, error) { return &Response{Content: content}, nil }
}

func fail(err error) func() (*Response, error) {
	return func() (*Response, error) { return nil, err }
}

func newTestReliable(inner Provider, maxRetries int, base time.Duration) (*Reliable, *[]time.Duration) {
	r := NewReliable(inner, maxRetries, base, nil)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestReliableRetriesTransientThenSucceeds(t *testing.T) {
	stub := &stubProvider{responses: []func() (*Response, error){
		fail(&NetworkError{Err: errors.New("connection reset")}),
		fail(&APIError{Status: 429, Message: "rate limit exceeded"}),
		ok("hello"),
	}}
	r, slept := newTestReliable(stub, 3, 100*time.Millisecond)

	resp, err := r.Chat(context.Background(), nil, nil, GenerationOptions{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("content = %q", resp.Content)
	}
	if stub.calls != 3 {
		t.Fatalf("calls = %d, want 3", stub.calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("slept = %v", *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestReliableBackoffIsCapped(t *testing.T) {
	stub := &stubProvider{responses: []func() (*Response, error){
		fail(&NetworkError{Err: errors.New("down")}),
	}}
	r, slept := newTestReliable(stub, 5, 800*time.Millisecond)

	_, err := r.Chat(context.Background(), nil, nil, GenerationOptions{})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("want NetworkError, got %v", err)
	}
	if stub.calls != 6 {
		t.Fatalf("calls = %d, want 6", stub.calls)
	}
	want := []time.Duration{800 * time.Millisecond, 1600 * time.Millisecond, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestReliableStopsOnPermanentError(t *testing.T) {
	permanent := &APIError{Status: 400, Message: "invalid request"}
	stub := &stubProvider{responses: []func() (*Response, error){fail(permanent)}}
	r, _ := newTestReliable(stub, 4, 100*time.Millisecond)

	_, err := r.Chat(context.Background(), nil, nil, GenerationOptions{})
	if stub.calls != 1 {
		t.Fatalf("calls = %d, want 1", stub.calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Fatalf("err = %v", err)
	}
}

func TestReliableFloorsBackoff(t *testing.T) {
	r := NewReliable(&stubProvider{responses: []func() (*Response, error){ok("")}}, 1, time.Millisecond, nil)
	if r.baseBackoff != minBackoff {
		t.Fatalf("baseBackoff = %v, want %v", r.baseBackoff, minBackoff)
	}
}

func TestReliableAbortsWhenContextCancelled(t *testing.T) {
	stub := &stubProvider{responses: []func() (*Response, error){
		fail(&NetworkError{Err: errors.New("down")}),
	}}
	r := NewReliable(stub, 5, 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Chat(ctx, nil, nil, GenerationOptions{})
	if err == nil {
		t.Fatal("want error")
	}
	if stub.calls != 1 {
		t.Fatalf("calls = %d, want 1", stub.calls)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &NetworkError{Err: errors.New("eof")}, true},
		{"status 429", &APIError{Status: 429, Message: "slow down"}, true},
		{"status 503", &APIError{Status: 503, Message: "maintenance"}, true},
		{"rate limit text", &APIError{Message: "Rate Limit hit"}, true},
		{"too many requests", &APIError{Message: "too many requests"}, true},
		{"timeout text", &APIError{Message: "request timeout"}, true},
		{"temporarily text", &APIError{Message: "service temporarily degraded"}, true},
		{"unavailable text", &APIError{Message: "backend unavailable"}, true},
		{"bad request", &APIError{Status: 400, Message: "invalid schema"}, false},
		{"auth failure", &APIError{Status: 401, Message: "bad key"}, false},
		{"config", &ConfigError{Message: "missing key"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
