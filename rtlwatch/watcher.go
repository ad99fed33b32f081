// Package rtlwatch keeps right-to-left text readable in web pages that
// stream content, typically AI chat interfaces. It drives Chrome over CDP,
// watches each page for inserted or edited text, marks elements holding
// Persian or Arabic script with dir="rtl" and a styling class, and applies
// the user's font size and line height to the page.
//
// Pages whose markup already carries their text are fetched over plain
// HTTP and annotated in-process instead. Every scan pass is reported to the
// configured sinks.
package rtlwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/rtlfix/dbopen"
	"github.com/hazyhaar/rtlfix/idgen"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/browser"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/config"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/fetcher"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/observer"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/sink"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
	"github.com/hazyhaar/rtlfix/watch"
)

// ErrNoHistory is returned by History without a sqlite sink.
var ErrNoHistory = errors.New("rtlwatch: no sqlite sink configured")

// Watcher is the top-level orchestrator. It owns the browser, one observer
// per page, the sinks and the current preferences.
type Watcher struct {
	cfg    *config.Config
	mgr    *browser.Manager
	fetch  *fetcher.Fetcher
	annot  *fetcher.Annotator
	sinkR  *sink.Router
	logger *slog.Logger

	// ctx outlives the calls that open pages: observers and the store
	// watcher are bound to it, not to the request that created them.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pages     map[string]*page // keyed by page ID
	prefs     rtl.Preferences
	store     *config.PrefStore
	storeW    *watch.Watcher
	history   *sink.SQLite
	db        *sql.DB
	ownsDB    bool
	started   bool
	snapshots atomic.Uint64
	annotated atomic.Uint64
}

// page is one observed page and the tab backing it.
type page struct {
	cfg PageConfig
	tab *browser.Tab
	obs *observer.Observer
}

// New creates a Watcher. A nil cfg means defaults with no pages.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
		cfg.ApplyDefaults()
	}

	mode := browser.ModeHeadless
	if cfg.Browser.Stealth == "headful" {
		mode = browser.ModeHeadful
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:    cfg,
		mgr:    mgr,
		fetch:  fetcher.New(fetcher.WithLogger(logger)),
		annot:  fetcher.NewAnnotator(logger),
		sinkR:  sink.NewRouter(logger, sinks...),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		pages:  make(map[string]*page),
		prefs:  rtl.Defaults(),
	}
}

// Start opens the preference store when one is configured and begins
// observing every configured page. A page that fails to open is logged and
// skipped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("rtlwatch: already started")
	}
	w.started = true
	// A store watcher started by UseStore runs on the previous context.
	// Stop must end it too.
	prev := w.cancel
	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = func() {
		cancel()
		prev()
	}
	hasStore := w.store != nil
	w.mu.Unlock()

	if path := w.cfg.Storage.DB; path != "" && !hasStore {
		db, err := dbopen.Open(path, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("rtlwatch: open storage: %w", err)
		}
		if err := w.useStore(ctx, db, true); err != nil {
			db.Close()
			return err
		}
	}

	w.mgr.SetRecycleHooks(&browser.RecycleHooks{
		Before: w.detachAll,
		After:  func(*rod.Browser) { w.reattachAll() },
	})

	for _, p := range w.cfg.Pages {
		if err := w.ObservePage(ctx, p); err != nil {
			w.logger.Error("rtlwatch: failed to observe page", "url", p.URL, "id", p.ID, "error", err)
		}
	}
	return nil
}

// UseStore persists preferences in db, which the caller keeps ownership
// of. The stored pair becomes current and later writes by other
// connections are picked up.
func (w *Watcher) UseStore(ctx context.Context, db *sql.DB) error {
	return w.useStore(ctx, db, false)
}

func (w *Watcher) useStore(ctx context.Context, db *sql.DB, owned bool) error {
	store, err := config.NewPrefStore(ctx, db)
	if err != nil {
		return fmt.Errorf("rtlwatch: %w", err)
	}
	prefs, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("rtlwatch: %w", err)
	}
	sw := store.Watch(w.logger)

	var history *sink.SQLite
	for _, sc := range w.cfg.Sinks {
		if sc.Type != "sqlite" || history != nil {
			continue
		}
		history, err = sink.NewSQLite(ctx, db,
			sink.WithSQLiteLogger(w.logger),
			sink.WithSQLiteRetention(sc.Retention),
			sink.WithSQLiteCleanupInterval(w.cfg.Storage.CleanupInterval))
		if err != nil {
			return fmt.Errorf("rtlwatch: %w", err)
		}
		if sc.MarksOnly {
			w.sinkR.Add(sink.NewMarksOnly(history))
		} else {
			w.sinkR.Add(history)
		}
	}

	w.mu.Lock()
	w.store, w.storeW, w.db, w.ownsDB = store, sw, db, owned
	w.history = history
	w.prefs = prefs
	runCtx := w.ctx
	w.mu.Unlock()

	go sw.OnChange(runCtx, func() error { return w.reloadPreferences(runCtx) })
	w.logger.Info("rtlwatch: preferences loaded",
		"font_size", prefs.FontSize, "line_height", prefs.LineHeight)
	return nil
}

// reloadPreferences re-reads the store after an external write and pushes
// the pair to every page.
func (w *Watcher) reloadPreferences(ctx context.Context) error {
	w.mu.Lock()
	store := w.store
	w.mu.Unlock()
	if store == nil {
		return nil
	}
	prefs, err := store.Load(ctx)
	if err != nil {
		return err
	}
	w.setPreferences(prefs, prefs.Full())
	return nil
}

// History returns the recorded batches of a page, newest first. It fails
// when no sqlite sink is configured.
func (w *Watcher) History(ctx context.Context, pageID string, limit int) ([]rtl.Batch, error) {
	w.mu.Lock()
	h := w.history
	w.mu.Unlock()
	if h == nil {
		return nil, ErrNoHistory
	}
	h.Flush()
	return h.Batches(ctx, pageID, limit)
}

// ObservePage starts observing a single page. An existing page with the
// same ID is replaced.
func (w *Watcher) ObservePage(ctx context.Context, pc PageConfig) error {
	if pc.URL == "" {
		return fmt.Errorf("rtlwatch: page url required")
	}
	if pc.ID == "" {
		pc.ID = idgen.New()
	}
	if pc.StealthLevel == "" {
		pc.StealthLevel = "auto"
	}

	mode, res := w.resolveMode(ctx, pc)
	if mode == browser.ModeHTTP {
		return w.snapshot(ctx, pc, res)
	}

	if err := w.ensureBrowser(); err != nil {
		return err
	}
	var (
		tab *browser.Tab
		err error
	)
	if pc.Attach {
		tab, err = browser.AttachTab(w.mgr, pc.URL, pc.ID)
	} else {
		tab, err = browser.OpenTab(ctx, w.mgr, pc.URL, pc.ID, mode)
	}
	if err != nil {
		return fmt.Errorf("rtlwatch: open tab: %w", err)
	}

	obs := observer.New(observer.Config{
		Tab:         tab,
		Sink:        w.sinkR,
		Window:      w.cfg.Scanner.Window,
		Preferences: w.Preferences(),
		Logger:      w.logger,
	})
	w.mu.Lock()
	obs.SetContext(w.ctx)
	w.mu.Unlock()

	if err := obs.Start(); err != nil {
		tab.Close()
		return fmt.Errorf("rtlwatch: start observer: %w", err)
	}

	w.mu.Lock()
	old := w.pages[pc.ID]
	w.pages[pc.ID] = &page{cfg: pc, tab: tab, obs: obs}
	w.mu.Unlock()
	if old != nil {
		old.close()
	}

	w.logger.Info("rtlwatch: observing page",
		"url", pc.URL, "id", pc.ID, "mode", mode, "attached", tab.Attached)
	return nil
}

// resolveMode picks how a page is processed. For auto, the fetch result
// is returned so the static path does not download the page twice.
func (w *Watcher) resolveMode(ctx context.Context, pc PageConfig) (browser.Mode, *fetcher.Result) {
	if pc.Attach {
		return browser.ModeHeadful, nil
	}
	switch pc.StealthLevel {
	case "0":
		return browser.ModeHTTP, nil
	case "1":
		return browser.ModeHeadless, nil
	case "2":
		return browser.ModeHeadful, nil
	}

	res, err := w.fetch.Fetch(ctx, pc.URL)
	if err != nil {
		w.logger.Warn("rtlwatch: auto-detect fetch failed, escalating to headless",
			"url", pc.URL, "error", err)
		return browser.ModeHeadless, nil
	}
	if res.Sufficient {
		return browser.ModeHTTP, res
	}
	w.logger.Info("rtlwatch: content insufficient via HTTP, escalating to headless", "url", pc.URL)
	return browser.ModeHeadless, nil
}

// snapshot annotates a page fetched over HTTP and emits it once.
func (w *Watcher) snapshot(ctx context.Context, pc PageConfig, res *fetcher.Result) error {
	if res == nil {
		var err error
		if res, err = w.fetch.Fetch(ctx, pc.URL); err != nil {
			return fmt.Errorf("rtlwatch: %w", err)
		}
	}
	snap, err := w.annot.Snapshot(pc.URL, pc.ID, res.Body, w.Preferences())
	if err != nil {
		return fmt.Errorf("rtlwatch: %w", err)
	}
	w.snapshots.Add(1)
	if err := w.sinkR.SendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("rtlwatch: send snapshot: %w", err)
	}
	w.logger.Info("rtlwatch: HTTP snapshot emitted",
		"url", pc.URL, "size", len(snap.HTML), "marks", len(snap.Marks))
	return nil
}

func (w *Watcher) ensureBrowser() error {
	if w.mgr.Browser() != nil {
		return nil
	}
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("rtlwatch: start browser: %w", err)
	}
	return nil
}

// AnnotateHTML marks the RTL elements of a static document with the
// current preferences. The output is sanitised.
func (w *Watcher) AnnotateHTML(html []byte) ([]byte, []rtl.Mark, error) {
	ann, err := w.annot.Annotate(html, w.Preferences())
	if err != nil {
		return nil, nil, err
	}
	w.annotated.Add(1)
	return ann.HTML, ann.Marks, nil
}

// UpdateSettings applies a preference change to every observed page and
// remembers it for pages opened later. With a store, the change is
// persisted first.
func (w *Watcher) UpdateSettings(ctx context.Context, u rtl.Update) (rtl.Preferences, error) {
	w.mu.Lock()
	store := w.store
	prefs := w.prefs.Merge(u)
	w.mu.Unlock()

	if store != nil && !u.Empty() {
		saved, err := store.Save(ctx, u)
		if err != nil {
			return w.Preferences(), fmt.Errorf("rtlwatch: %w", err)
		}
		prefs = saved
	}
	w.setPreferences(prefs, u)
	return prefs, nil
}

// HandleMessage decodes an UPDATE_SETTINGS message and applies it.
func (w *Watcher) HandleMessage(ctx context.Context, data []byte) (rtl.Preferences, error) {
	u, err := rtl.ParseMessage(data)
	if err != nil {
		return w.Preferences(), err
	}
	return w.UpdateSettings(ctx, u)
}

func (w *Watcher) setPreferences(prefs rtl.Preferences, u rtl.Update) {
	w.mu.Lock()
	w.prefs = prefs
	obs := w.observersLocked()
	w.mu.Unlock()

	for _, o := range obs {
		if err := o.ApplyPreferences(u); err != nil {
			w.logger.Warn("rtlwatch: apply preferences", "page", o.Stats().PageID, "error", err)
		}
	}
}

// Preferences returns the current preference pair.
func (w *Watcher) Preferences() rtl.Preferences {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prefs
}

// Stats is a point-in-time view of the watcher.
type Stats struct {
	Pages       []observer.Stats `json:"pages"`
	Snapshots   uint64           `json:"snapshots"`
	Annotated   uint64           `json:"annotated"`
	Sinks       int              `json:"sinks"`
	Preferences rtl.Preferences  `json:"preferences"`
	Store       *watch.Stats     `json:"store,omitempty"`
}

// Stats returns counters for every observed page and the static path.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	obs := w.observersLocked()
	st := Stats{
		Snapshots:   w.snapshots.Load(),
		Annotated:   w.annotated.Load(),
		Sinks:       w.sinkR.Len(),
		Preferences: w.prefs,
	}
	if w.storeW != nil {
		ws := w.storeW.Stats()
		st.Store = &ws
	}
	w.mu.Unlock()

	st.Pages = make([]observer.Stats, 0, len(obs))
	for _, o := range obs {
		st.Pages = append(st.Pages, o.Stats())
	}
	return st
}

// Stop flushes every page, closes the tabs it opened, the sinks, the
// browser and an owned store.
func (w *Watcher) Stop() {
	w.mu.Lock()
	pages := w.pages
	w.pages = make(map[string]*page)
	db, owned := w.db, w.ownsDB
	w.db = nil
	w.mu.Unlock()

	for id, p := range pages {
		p.close()
		w.logger.Info("rtlwatch: stopped observer", "id", id)
	}
	w.cancel()
	w.sinkR.Close()
	w.mgr.Close()
	if db != nil && owned {
		db.Close()
	}
}

func (w *Watcher) observersLocked() []*observer.Observer {
	out := make([]*observer.Observer, 0, len(w.pages))
	for _, p := range w.pages {
		out = append(out, p.obs)
	}
	return out
}

// detachAll runs before Chrome is recycled: pending work is flushed while
// the tabs still exist. The page configs are kept for reattachAll.
func (w *Watcher) detachAll() {
	w.mu.Lock()
	pages := make([]*page, 0, len(w.pages))
	for _, p := range w.pages {
		pages = append(pages, p)
	}
	w.mu.Unlock()

	for _, p := range pages {
		p.obs.Stop()
	}
}

// reattachAll reopens every page on the fresh browser.
func (w *Watcher) reattachAll() {
	w.mu.Lock()
	cfgs := make([]PageConfig, 0, len(w.pages))
	for _, p := range w.pages {
		cfgs = append(cfgs, p.cfg)
	}
	w.pages = make(map[string]*page)
	ctx := w.ctx
	w.mu.Unlock()

	for _, pc := range cfgs {
		if err := w.ObservePage(ctx, pc); err != nil {
			w.logger.Error("rtlwatch: reattach failed", "url", pc.URL, "id", pc.ID, "error", err)
		}
	}
}

func (p *page) close() {
	p.obs.Stop()
	if err := p.tab.Close(); err != nil {
		slog.Debug("rtlwatch: close tab", "id", p.cfg.ID, "error", err)
	}
}
