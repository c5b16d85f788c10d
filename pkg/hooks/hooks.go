// Package hooks is a small event registry. Callbacks are attached to a
// named event with an integer priority and run lowest priority first;
// callbacks with equal priority run in the order they were added.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// DefaultPriority is the priority used by most subscribers.
const DefaultPriority = 10

// EventStartup fires once the service has loaded its plugins and
// configuration, before it starts serving.
const EventStartup = "plugins_loaded"

// Func is a hook callback.
type Func func(ctx context.Context) error

type hook struct {
	priority int
	seq      uint64
	fn       Func
}

// Registry holds hooks per event. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	hooks  map[string][]hook
	seq    uint64
	logger *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks:  make(map[string][]hook),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Registry. By default, all logs are discarded.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Add attaches fn to event at the given priority.
func (r *Registry) Add(event string, priority int, fn Func) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.hooks[event] = append(r.hooks[event], hook{priority: priority, seq: r.seq, fn: fn})
}

// Has reports whether any hook is attached to event.
func (r *Registry) Has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks[event]) > 0
}

// Do runs the hooks of event in priority order. The first error stops the
// run and is returned. Hooks may add further hooks; those take effect on
// the next Do.
func (r *Registry) Do(ctx context.Context, event string) error {
	r.mu.Lock()
	hooks := make([]hook, len(r.hooks[event]))
	copy(hooks, r.hooks[event])
	r.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool {
		if hooks[i].priority != hooks[j].priority {
			return hooks[i].priority < hooks[j].priority
		}
		return hooks[i].seq < hooks[j].seq
	})

	r.logger.DebugContext(ctx, "Running hooks", "event", event, "count", len(hooks))
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.fn(ctx); err != nil {
			return fmt.Errorf("hook for '%s' (priority %d) failed: %w", event, h.priority, err)
		}
	}
	return nil
}
