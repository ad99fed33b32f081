package scanner

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// DefaultWindow is the quiet window between the first queued element and
// the flush that drains it.
const DefaultWindow = 200 * time.Millisecond

// Report describes one completed scan pass.
type Report struct {
	Trigger rtl.Trigger
	Queued  int
	Result
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Window is the quiet window. Default: 200ms.
	Window time.Duration
	// Scanner does the work. Default: New(Logger).
	Scanner *Scanner
	// OnFlush receives every non-empty pass. Called outside the queue lock.
	OnFlush func(Report)
	// AfterFunc arms the one-shot flush timer. Default: time.AfterFunc.
	// Tests replace it to fire timers by hand.
	AfterFunc func(d time.Duration, f func())
	Logger    *slog.Logger
}

func (c *QueueConfig) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Scanner == nil {
		c.Scanner = New(c.Logger)
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if c.OnFlush == nil {
		c.OnFlush = func(Report) {}
	}
}

// Queue is the deduplicated dirty-element set plus its scheduler. The first
// Enqueue after an idle period arms a single timer; everything enqueued
// before it fires joins the same batch. An armed flush is never cancelled.
type Queue struct {
	cfg QueueConfig

	mu    sync.Mutex
	dirty map[string]struct{}
	order []dom.Element
	armed bool

	stats queueStats
}

type queueStats struct {
	enqueued atomic.Int64
	deduped  atomic.Int64
	flushes  atomic.Int64
	scanned  atomic.Int64
	marked   atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Deduped  int64 `json:"deduped"`
	Flushes  int64 `json:"flushes"`
	Scanned  int64 `json:"scanned"`
	Marked   int64 `json:"marked"`
	Pending  int   `json:"pending"`
	Armed    bool  `json:"armed"`
}

// NewQueue creates an idle Queue.
func NewQueue(cfg QueueConfig) *Queue {
	cfg.defaults()
	return &Queue{cfg: cfg, dirty: make(map[string]struct{})}
}

// Scanner returns the scanner used by flushes.
func (q *Queue) Scanner() *Scanner { return q.cfg.Scanner }

// Enqueue adds el to the dirty set. Adding an element already queued is a
// no-op. Arms the flush timer if it is not armed yet.
func (q *Queue) Enqueue(el dom.Element) {
	if el == nil {
		return
	}
	key := el.Key()

	q.mu.Lock()
	if _, ok := q.dirty[key]; ok {
		q.mu.Unlock()
		q.stats.deduped.Add(1)
		return
	}
	q.dirty[key] = struct{}{}
	q.order = append(q.order, el)
	arm := !q.armed
	q.armed = true
	q.mu.Unlock()

	q.stats.enqueued.Add(1)
	if arm {
		q.cfg.AfterFunc(q.cfg.Window, q.Flush)
	}
}

// Observe routes a mutation into the queue: inserted elements are queued
// as-is, character-data and unreported subtree changes queue the parent.
func (q *Queue) Observe(m dom.Mutation) {
	switch m.Kind {
	case dom.ChildInserted:
		if m.Node != nil {
			q.Enqueue(m.Node)
		}
	case dom.CharacterData, dom.SubtreeChanged:
		if m.Parent != nil {
			q.Enqueue(m.Parent)
		}
	}
}

// Flush drains the dirty set and scans each element's subtree. It is what
// the armed timer runs; calling it directly forces an early pass.
func (q *Queue) Flush() {
	q.flush(rtl.TriggerMutation)
}

// Drain is Flush with a different trigger in the report. Used on shutdown.
func (q *Queue) Drain(trigger rtl.Trigger) {
	q.flush(trigger)
}

func (q *Queue) flush(trigger rtl.Trigger) {
	q.mu.Lock()
	batch := q.order
	q.order = nil
	q.dirty = make(map[string]struct{})
	q.armed = false
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	rep := Report{Trigger: trigger, Queued: len(batch)}
	for _, el := range batch {
		rep.add(q.cfg.Scanner.ScanSubtree(el))
	}

	q.stats.flushes.Add(1)
	q.stats.scanned.Add(int64(rep.Scanned))
	q.stats.marked.Add(int64(len(rep.Marks)))
	q.cfg.Logger.Debug("scanner: flush",
		"trigger", trigger, "queued", rep.Queued,
		"scanned", rep.Scanned, "marked", len(rep.Marks))

	q.cfg.OnFlush(rep)
}

// Record counts a pass that bypassed the queue (initial scan, input).
func (q *Queue) Record(res Result) {
	q.stats.scanned.Add(int64(res.Scanned))
	q.stats.marked.Add(int64(len(res.Marks)))
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending, armed := len(q.order), q.armed
	q.mu.Unlock()
	return Stats{
		Enqueued: q.stats.enqueued.Load(),
		Deduped:  q.stats.deduped.Load(),
		Flushes:  q.stats.flushes.Load(),
		Scanned:  q.stats.scanned.Load(),
		Marked:   q.stats.marked.Load(),
		Pending:  pending,
		Armed:    armed,
	}
}
