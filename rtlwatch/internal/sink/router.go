package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// Router fans reports out to every sink. A failing sink does not stop
// delivery to the others; the first error is returned.
type Router struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router. Nil sinks are skipped.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Add registers a sink after construction, for sinks that need storage
// opened at start.
func (r *Router) Add(s Sink) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Len returns the number of sinks.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

func (r *Router) snapshot() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Sink(nil), r.sinks...)
}

func (r *Router) Send(ctx context.Context, batch rtl.Batch) error {
	return r.each("batch", func(s Sink) error { return s.Send(ctx, batch) })
}

func (r *Router) SendSnapshot(ctx context.Context, snap rtl.Snapshot) error {
	return r.each("snapshot", func(s Sink) error { return s.SendSnapshot(ctx, snap) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.snapshot() {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(kind string, fn func(Sink) error) error {
	var firstErr error
	for _, s := range r.snapshot() {
		if err := fn(s); err != nil {
			r.logger.Warn("sink: send failed", "kind", kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
