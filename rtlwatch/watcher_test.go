package rtlwatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/rtlfix/dbopen"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/config"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWatcher(t *testing.T, sinks ...Sink) *Watcher {
	t.Helper()
	w := New(nil, quietLogger(), sinks...)
	t.Cleanup(w.Stop)
	return w
}

func ptr(v float64) *float64 { return &v }

func TestAnnotateHTML(t *testing.T) {
	w := newTestWatcher(t)
	out, marks, err := w.AnnotateHTML([]byte(`<html><head></head><body><p>سلام دنیا</p><p>hello there</p></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(marks) != 1 || marks[0].Tag != "p" {
		t.Fatalf("marks = %+v", marks)
	}
	s := string(out)
	for _, want := range []string{`dir="rtl"`, rtl.ActiveClass, `--ai-rtl-font-size: 16px !important`} {
		if !strings.Contains(s, want) {
			t.Errorf("output lacks %s:\n%s", want, s)
		}
	}
	if got := w.Stats().Annotated; got != 1 {
		t.Errorf("annotated = %d", got)
	}
}

func TestUpdateSettingsWithoutStore(t *testing.T) {
	w := newTestWatcher(t)
	prefs, err := w.UpdateSettings(context.Background(), rtl.Update{FontSize: ptr(20)})
	if err != nil {
		t.Fatal(err)
	}
	want := rtl.Preferences{FontSize: 20, LineHeight: rtl.DefaultLineHeight}
	if prefs != want || w.Preferences() != want {
		t.Errorf("prefs = %+v, current = %+v, want %+v", prefs, w.Preferences(), want)
	}

	out, _, err := w.AnnotateHTML([]byte(`<p>سلام دنیا</p>`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "--ai-rtl-font-size: 20px !important") {
		t.Errorf("annotation ignores current preferences:\n%s", out)
	}
}

func TestUpdateSettingsPersists(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)

	w := newTestWatcher(t)
	if err := w.UseStore(ctx, db); err != nil {
		t.Fatal(err)
	}
	if got := w.Preferences(); got != rtl.Defaults() {
		t.Fatalf("empty store: prefs = %+v", got)
	}
	if _, err := w.HandleMessage(ctx, []byte(`{"type":"UPDATE_SETTINGS","fontSize":"22","lineHeight":"1.6"}`)); err != nil {
		t.Fatal(err)
	}

	w2 := newTestWatcher(t)
	if err := w2.UseStore(ctx, db); err != nil {
		t.Fatal(err)
	}
	want := rtl.Preferences{FontSize: 22, LineHeight: 1.6}
	if got := w2.Preferences(); got != want {
		t.Errorf("reloaded prefs = %+v, want %+v", got, want)
	}
}

func TestStoreReloadsExternalWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")
	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	other, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	w := newTestWatcher(t)
	if err := w.UseStore(ctx, db); err != nil {
		t.Fatal(err)
	}

	store, err := config.NewPrefStore(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, rtl.Update{LineHeight: ptr(2.4)}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for w.Preferences().LineHeight != 2.4 {
		if time.Now().After(deadline) {
			t.Fatalf("external write not picked up: %+v", w.Preferences())
		}
		time.Sleep(50 * time.Millisecond)
	}
	if st := w.Stats().Store; st == nil || st.Reloads == 0 {
		t.Errorf("store stats = %+v", st)
	}
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []rtl.Snapshot
}

func (r *snapshotRecorder) sink() Sink {
	return NewCallbackSink(nil, func(_ context.Context, s rtl.Snapshot) error {
		r.mu.Lock()
		r.snaps = append(r.snaps, s)
		r.mu.Unlock()
		return nil
	})
}

func (r *snapshotRecorder) all() []rtl.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rtl.Snapshot(nil), r.snaps...)
}

const articleHTML = `<!DOCTYPE html><html><head><title>مقاله</title></head><body><article>
<h1>زبان فارسی</h1>
<p>زبان فارسی یکی از زبان‌های هندواروپایی است که در ایران، افغانستان و تاجیکستان به آن سخن می‌گویند. این زبان تاریخی طولانی دارد و ادبیات آن از غنی‌ترین ادبیات جهان است.</p>
<p>شاعران بزرگی مانند فردوسی، سعدی، حافظ و مولوی به این زبان شعر سروده‌اند و آثار آنان هنوز خوانده می‌شود.</p>
<p>An English paragraph that stays left to right.</p>
</article></body></html>`

func TestObservePageStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, articleHTML)
	}))
	defer srv.Close()

	for _, level := range []string{"0", "auto"} {
		t.Run(level, func(t *testing.T) {
			rec := &snapshotRecorder{}
			w := newTestWatcher(t, rec.sink())
			err := w.ObservePage(context.Background(), PageConfig{ID: "article", URL: srv.URL, StealthLevel: level})
			if err != nil {
				t.Fatal(err)
			}

			snaps := rec.all()
			if len(snaps) != 1 {
				t.Fatalf("snapshots = %d, want 1", len(snaps))
			}
			s := snaps[0]
			if s.PageID != "article" || s.PageURL != srv.URL {
				t.Errorf("snapshot ids = %q %q", s.PageID, s.PageURL)
			}
			if len(s.Marks) != 3 {
				t.Errorf("marks = %+v, want h1 and two p", s.Marks)
			}
			if s.HTMLHash != rtl.HashHTML(s.HTML) {
				t.Error("hash mismatch")
			}
			if got := w.Stats(); got.Snapshots != 1 || len(got.Pages) != 0 {
				t.Errorf("stats = %+v", got)
			}
		})
	}
}

func TestObservePageRequiresURL(t *testing.T) {
	w := newTestWatcher(t)
	if err := w.ObservePage(context.Background(), PageConfig{ID: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSinksFromConfig(t *testing.T) {
	var buf strings.Builder
	sinks := SinksFromConfig([]SinkConfig{
		{Type: "stdout", MarksOnly: true},
		{Type: "webhook", URL: "http://127.0.0.1:1/hook"},
	}, &buf, quietLogger())
	if len(sinks) != 2 {
		t.Fatalf("sinks = %d", len(sinks))
	}

	ctx := context.Background()
	if err := sinks[0].Send(ctx, rtl.Batch{ID: "empty"}); err != nil {
		t.Fatal(err)
	}
	if err := sinks[0].Send(ctx, rtl.Batch{ID: "marked", Marks: []rtl.Mark{{Tag: "p"}}}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, `"empty"`) || !strings.Contains(out, `"marked"`) {
		t.Errorf("stdout = %s", out)
	}
}

func TestHistoryWithSQLiteSink(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)

	cfg := &Config{Sinks: []SinkConfig{{Type: "sqlite"}}}
	cfg.ApplyDefaults()
	w := New(cfg, quietLogger())
	t.Cleanup(w.Stop)

	if _, err := w.History(ctx, "p1", 10); err != ErrNoHistory {
		t.Fatalf("before store: err = %v", err)
	}
	if err := w.UseStore(ctx, db); err != nil {
		t.Fatal(err)
	}
	got, err := w.History(ctx, "p1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("history = %+v", got)
	}
	if w.Stats().Sinks != 1 {
		t.Errorf("sinks = %d, want the sqlite sink", w.Stats().Sinks)
	}
}

func TestHistoryRetention(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)

	cfg := &Config{Sinks: []SinkConfig{{Type: "sqlite", Retention: time.Hour}}}
	cfg.Storage.CleanupInterval = 10 * time.Millisecond
	cfg.ApplyDefaults()
	w := New(cfg, quietLogger())
	t.Cleanup(w.Stop)
	if err := w.UseStore(ctx, db); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	w.sinkR.Send(ctx, rtl.Batch{ID: "old", PageID: "p1", Seq: 1, Timestamp: now.Add(-2 * time.Hour).UnixMilli()})
	w.sinkR.Send(ctx, rtl.Batch{ID: "new", PageID: "p1", Seq: 2, Timestamp: now.UnixMilli()})

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := w.History(ctx, "p1", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 1 && got[0].ID == "new" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history = %+v, want only the recent batch", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStopCancelsStoreWatcherStartedBeforeStart(t *testing.T) {
	ctx := context.Background()
	w := New(nil, quietLogger())
	if err := w.UseStore(ctx, dbopen.OpenMemory(t)); err != nil {
		t.Fatal(err)
	}
	w.mu.Lock()
	storeCtx := w.ctx
	w.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	if storeCtx.Err() == nil {
		t.Fatal("store watcher context still live after Stop")
	}
}
