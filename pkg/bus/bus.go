// Package bus carries messages between ingestion adapters and the agent loop.
//
// It is a broadcast-style bus: every subscriber observes every published
// event. Slow subscribers lose the oldest buffered events and are told how
// many on their next receive; losing events is a recoverable condition, not a
// shutdown trigger. A closed bus is the graceful termination signal.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cexll/agentd/pkg/core"
)

// EventKind partitions bus traffic.
type EventKind string

const (
	KindInbound   EventKind = "inbound_message"
	KindOutbound  EventKind = "outbound_message"
	KindSystemLog EventKind = "system_log"
)

// Event is one item of bus traffic. Message is set for inbound/outbound
// kinds, Level/Text for system logs.
type Event struct {
	Kind    EventKind
	Message core.Message
	Level   string
	Text    string
}

// Inbound wraps a message as an inbound event.
func Inbound(msg core.Message) Event {
	return Event{Kind: KindInbound, Message: msg}
}

// Outbound wraps a message as an outbound event.
func Outbound(msg core.Message) Event {
	return Event{Kind: KindOutbound, Message: msg}
}

// SystemLog builds a log event for operational consumers (CLI, gateway).
func SystemLog(level, text string) Event {
	return Event{Kind: KindSystemLog, Level: level, Text: text}
}

// ErrClosed is returned by Publish and Recv once the bus has shut down.
var ErrClosed = errors.New("bus: closed")

// LaggedError reports events dropped because a subscriber fell behind.
type LaggedError struct {
	Count int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("bus: subscriber lagged, %d events dropped", e.Count)
}

const defaultCapacity = 64

// Bus is the process-wide broadcast channel.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	capacity int
	closed   bool
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity overrides the per-subscriber buffer size (>=1).
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n >= 1 {
			b.capacity = n
		}
	}
}

// WithLogger sets the logger used for drop diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an open Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[*Subscriber]struct{}),
		capacity: defaultCapacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber that observes events published after
// this call.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		bus: b,
		ch:  make(chan Event, b.capacity),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers evt to every subscriber. Full subscriber buffers drop
// their oldest event instead of blocking the publisher.
func (b *Bus) Publish(evt Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.offer(evt) {
			continue
		}
		b.logger.Warn("bus: subscriber buffer full, dropping oldest event", "kind", evt.Kind)
	}
	return nil
}

// Close shuts the bus down. Subscribers drain their buffers and then observe
// ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.shutdown()
	}
	b.subs = map[*Subscriber]struct{}{}
}

func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.shutdown()
}

// Subscriber is one consumer endpoint of the bus.
type Subscriber struct {
	bus *Bus
	ch  chan Event

	mu      sync.Mutex
	dropped int
	done    bool
}

// offer enqueues evt, evicting the oldest buffered event when full.
// Reports false when an eviction happened.
func (s *Subscriber) offer(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
	}
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped++
	}
	return false
}

// Recv blocks for the next event. A *LaggedError reports how many events this
// subscriber missed since the previous receive; the subscription stays live.
// ErrClosed means the bus shut down and the buffer is drained.
func (s *Subscriber) Recv(ctx context.Context) (Event, error) {
	s.mu.Lock()
	if s.dropped > 0 {
		n := s.dropped
		s.dropped = 0
		s.mu.Unlock()
		return Event{}, &LaggedError{Count: n}
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case evt, ok := <-s.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return evt, nil
	}
}

// Unsubscribe detaches the subscriber from the bus.
func (s *Subscriber) Unsubscribe() {
	if s.bus != nil {
		s.bus.unsubscribe(s)
	}
}

func (s *Subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
