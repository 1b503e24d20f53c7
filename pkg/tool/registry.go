package tool

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for unregistered tool names.
var ErrNotFound = errors.New("tool not found")

// Stats counts invocations of one tool. TotalMS accumulates wall-clock
// execution time in milliseconds.
type Stats struct {
	Calls    uint64 `json:"calls"`
	Failures uint64 `json:"failures"`
	TotalMS  int64  `json:"total_ms"`
}

// Registry holds the available tools in registration order. Safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	stats map[string]*Stats
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		stats: make(map[string]*Stats),
	}
}

// Register adds a tool. Nil tools, blank names and duplicates are rejected.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool is nil")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return errors.New("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.stats[name] = &Stats{}
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions renders the tools visible under perm as flat definition maps
// for the model provider, in registration order.
func (r *Registry) Definitions(perm Permission) []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		if !perm.Allows(name) {
			continue
		}
		t := r.tools[name]
		def := map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
		}
		if schema := t.Schema(); len(schema) > 0 {
			def["parameters"] = schema
		}
		defs = append(defs, def)
	}
	return defs
}

// Record notes one invocation outcome for the named tool. Unknown names are
// counted under their own entry so misrouted calls still show up.
func (r *Registry) Record(name string, elapsed time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &Stats{}
		r.stats[name] = s
	}
	s.Calls++
	if !success {
		s.Failures++
	}
	if elapsed > 0 {
		s.TotalMS += elapsed.Milliseconds()
	}
}

// StatsSnapshot copies per-tool counters.
func (r *Registry) StatsSnapshot() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}
