package model

import (
	"context"
	"log/slog"
	"time"

	"github.com/cexll/agentd/pkg/core"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 2 * time.Second
)

// Reliable decorates a Provider with bounded retries on transient failures.
// Backoff doubles per attempt from a floor of 100ms up to a 2s cap.
// Non-transient errors and exhausted retries surface the last error as-is so
// callers can still inspect its type.
type Reliable struct {
	inner       Provider
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewReliable wraps inner. maxRetries counts additional attempts after the
// first; negative values are treated as zero.
func NewReliable(inner Provider, maxRetries int, baseBackoff time.Duration, logger *slog.Logger) *Reliable {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseBackoff < minBackoff {
		baseBackoff = minBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reliable{
		inner:       inner,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Name reports the wrapped provider's name.
func (r *Reliable) Name() string { return r.inner.Name() }

// Chat forwards to the wrapped provider, retrying transient failures.
func (r *Reliable) Chat(ctx context.Context, messages []core.Message, tools []map[string]any, opts GenerationOptions) (*Response, error) {
	backoff := r.baseBackoff
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("model: retrying after transient failure",
				"provider", r.inner.Name(),
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, lastErr
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		resp, err := r.inner.Chat(ctx, messages, tools, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
