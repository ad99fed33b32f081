package observer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/browser"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom/htmldom"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

type recordSink struct {
	mu      sync.Mutex
	batches []rtl.Batch
	ctxErrs []error
}

func (s *recordSink) Send(ctx context.Context, b rtl.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func (s *recordSink) SendSnapshot(context.Context, rtl.Snapshot) error { return nil }
func (s *recordSink) Close() error                                     { return nil }

func (s *recordSink) snapshot() ([]rtl.Batch, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rtl.Batch(nil), s.batches...), append([]error(nil), s.ctxErrs...)
}

// newTestObserver builds an observer with no browser page. Only paths that
// stay on in-memory elements can run.
func newTestObserver(t *testing.T, window time.Duration) (*Observer, *recordSink) {
	t.Helper()
	s := &recordSink{}
	o := New(Config{
		Tab:    &browser.Tab{PageID: "p1", PageURL: "https://chat.example/a"},
		Sink:   s,
		Window: window,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return o, s
}

func paragraph(t *testing.T, body string) dom.Element {
	t.Helper()
	d, err := htmldom.ParseString(`<html><body><p>` + body + `</p></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	p := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	if p == nil {
		t.Fatal("no <p>")
	}
	return p
}

func TestLoopRunsTimedFlush(t *testing.T) {
	o, s := newTestObserver(t, 10*time.Millisecond)
	o.started.Store(true)
	go o.loop()
	defer o.Stop()

	o.rawCh <- rawMutation{m: dom.Mutation{Kind: dom.ChildInserted, Node: paragraph(t, "سلام دنیا")}, source: sourceJS, at: time.Now()}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := s.snapshot()
		if len(got) == 1 {
			if got[0].Trigger != rtl.TriggerMutation || len(got[0].Marks) != 1 || got[0].PageID != "p1" {
				t.Errorf("batch = %+v", got[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("batches = %d, want 1", len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopDrainsAfterCancel(t *testing.T) {
	o, s := newTestObserver(t, time.Hour)
	o.started.Store(true)
	go o.loop()

	// Queued by the listener but never picked up by the loop.
	o.cancel()
	<-o.loopDone
	o.rawCh <- rawMutation{m: dom.Mutation{Kind: dom.ChildInserted, Node: paragraph(t, "خوبی؟")}, source: sourceCDP, at: time.Now()}

	o.Stop()
	got, errs := s.snapshot()
	if len(got) != 1 || got[0].Trigger != rtl.TriggerStop || len(got[0].Marks) != 1 {
		t.Fatalf("batches = %+v", got)
	}
	if errs[0] != nil {
		t.Errorf("stop batch sent with a cancelled context: %v", errs[0])
	}

	o.Stop()
	if got, _ := s.snapshot(); len(got) != 1 {
		t.Errorf("second Stop emitted %d batches", len(got)-1)
	}
}

func TestLateTimerAfterStopIsDropped(t *testing.T) {
	o, _ := newTestObserver(t, 0)
	o.started.Store(true)
	go o.loop()
	o.Stop()

	var ran atomic.Bool
	o.afterFunc(time.Millisecond, func() { ran.Store(true) })
	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Error("flush ran after Stop")
	}
}

func TestSetContextCancelsPrevious(t *testing.T) {
	o, _ := newTestObserver(t, 0)
	first := o.ctx

	parent, cancel := context.WithCancel(context.Background())
	o.SetContext(parent)
	if first.Err() == nil {
		t.Error("context replaced without cancelling it")
	}
	cancel()
	if o.ctx.Err() == nil {
		t.Error("observer context does not follow its parent")
	}
}

func TestNavigateUpdatesURL(t *testing.T) {
	o, _ := newTestObserver(t, 0)

	o.handleNavigate("https://chat.example/c/42")
	if got := o.PageURL(); got != "https://chat.example/c/42" {
		t.Errorf("PageURL = %q", got)
	}
	if got := o.Stats().PageURL; got != "https://chat.example/c/42" {
		t.Errorf("Stats.PageURL = %q", got)
	}
	if o.settleC() == nil {
		t.Fatal("settle timer not armed")
	}

	o.handleNavigate("https://chat.example/c/42")
	o.handleNavigate("")
	if n := o.navigations.Load(); n != 1 {
		t.Errorf("navigations = %d, want 1", n)
	}

	o.stopSettle()
	if o.settleC() != nil {
		t.Error("settle timer still armed")
	}
	o.touchSettle()
}

func TestHandleShadowRootCounts(t *testing.T) {
	o, _ := newTestObserver(t, 0)
	o.handleShadowRoot(paragraph(t, "x"))
	if got := o.Stats().ShadowRoots; got != 1 {
		t.Errorf("ShadowRoots = %d", got)
	}
}
