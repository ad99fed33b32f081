// Package observer watches one browser tab. CDP DOM events and an injected
// MutationObserver both report changes; they are deduplicated and routed
// into the scanner queue. All DOM work for a page runs on its loop
// goroutine: queue flushes, user input, client-side navigation and
// document resets.
package observer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/rtlfix/idgen"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/browser"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/scanner"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/sink"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// pageBinding carries the injected script's records to Go.
const pageBinding = "__rtlwatch_binding"

//go:embed inject.js
var injectJS string

// jsRecord is one entry of a binding payload. Token names an element the
// script holds until Go takes it.
type jsRecord struct {
	Op    string `json:"op"`
	Token string `json:"token,omitempty"`
	Value string `json:"value,omitempty"`
}

type prefRequest struct {
	u    rtl.Update
	done chan error
}

// Observer manages observation of a single page.
type Observer struct {
	tab    *browser.Tab
	sink   sink.Sink
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	nodes *nodeMap
	doc   *pageDocument
	queue *scanner.Queue
	dedup *deduper
	cdp   *cdpListener

	rawCh      chan rawMutation
	jsCh       chan []jsRecord
	flushCh    chan func()
	prefCh     chan prefRequest
	docResetCh chan struct{}

	started  atomic.Bool
	loopDone chan struct{}

	// settle is armed by a client-side navigation. Loop goroutine only.
	settle *time.Timer

	// Sequence counter (monotonically increasing per page).
	seq         atomic.Uint64
	navigations atomic.Uint64
	shadowRoots atomic.Uint64

	mu    sync.Mutex
	prefs rtl.Preferences
	url   string
}

// Config for creating an Observer.
type Config struct {
	Tab  *browser.Tab
	Sink sink.Sink
	// Window is the scanner quiet window. Default: scanner.DefaultWindow.
	Window time.Duration
	// Preferences applied at start and after every document reset.
	Preferences rtl.Preferences
	Logger      *slog.Logger
}

// New creates an Observer for the given tab.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Preferences == (rtl.Preferences{}) {
		cfg.Preferences = rtl.Defaults()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Observer{
		tab:        cfg.Tab,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		nodes:      newNodeMap(),
		dedup:      newDeduper(),
		rawCh:      make(chan rawMutation, 4096),
		jsCh:       make(chan []jsRecord, 256),
		flushCh:    make(chan func()),
		prefCh:     make(chan prefRequest),
		docResetCh: make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
		prefs:      cfg.Preferences,
		url:        cfg.Tab.PageURL,
	}
	o.doc = &pageDocument{page: cfg.Tab.Page, nodes: o.nodes}
	o.queue = scanner.NewQueue(scanner.QueueConfig{
		Window:    cfg.Window,
		OnFlush:   o.emitReport,
		AfterFunc: o.afterFunc,
		Logger:    cfg.Logger,
	})
	return o
}

// SetContext binds the observer to ctx. Call it before Start.
func (o *Observer) SetContext(ctx context.Context) {
	o.cancel()
	o.ctx, o.cancel = context.WithCancel(ctx)
}

// Start begins observing the page:
// 1. DOM.getDocument(depth=-1) so CDP reports mutations on every node
// 2. CDP DOM event subscription
// 3. stylesheet, MutationObserver and input listener injection
// 4. preference application and the initial full scan
func (o *Observer) Start() error {
	if err := o.initDOMTracking(); err != nil {
		return fmt.Errorf("observer: init DOM tracking: %w", err)
	}

	o.cdp = newCDPListener(o)
	if err := o.cdp.start(); err != nil {
		return fmt.Errorf("observer: enable DOM domain: %w", err)
	}

	if err := (proto.RuntimeAddBinding{Name: pageBinding}).Call(o.tab.Page); err != nil {
		o.logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}
	if err := o.inject(); err != nil {
		return fmt.Errorf("observer: inject: %w", err)
	}

	o.applyCurrent()
	o.rescan(rtl.TriggerInitial)

	o.started.Store(true)
	go o.loop()
	return nil
}

// Stop ends observation. Mutations already received are scanned and
// reported in a final pass; a flush timer firing later finds the loop gone
// and does nothing.
func (o *Observer) Stop() {
	o.cancel()
	if o.started.Load() {
		<-o.loopDone
	}
	o.drainPending()
	o.queue.Drain(rtl.TriggerStop)
}

// ApplyPreferences writes the present values of u to the page and
// remembers them for document resets.
func (o *Observer) ApplyPreferences(u rtl.Update) error {
	o.mu.Lock()
	o.prefs = o.prefs.Merge(u)
	o.mu.Unlock()

	if o.started.Load() {
		req := prefRequest{u: u, done: make(chan error, 1)}
		select {
		case o.prefCh <- req:
			return <-req.done
		case <-o.loopDone:
		}
	}
	return scanner.ApplyPreferences(o.doc, u)
}

// Preferences returns the values last applied to the page.
func (o *Observer) Preferences() rtl.Preferences {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prefs
}

// PageURL is the current address, following client-side navigation.
func (o *Observer) PageURL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

func (o *Observer) setPageURL(u string) {
	o.mu.Lock()
	o.url = u
	o.mu.Unlock()
}

// Stats describes one observed page.
type Stats struct {
	PageID      string `json:"page_id"`
	PageURL     string `json:"page_url"`
	Batches     uint64 `json:"batches"`
	Nodes       int    `json:"nodes"`
	Navigations uint64 `json:"navigations"`
	ShadowRoots uint64 `json:"shadow_roots"`
	// Duplicates counts CDP mutations the page script already reported.
	Duplicates int64 `json:"duplicates"`
	scanner.Stats
}

// Stats returns the page's counters.
func (o *Observer) Stats() Stats {
	return Stats{
		PageID:      o.tab.PageID,
		PageURL:     o.PageURL(),
		Batches:     o.seq.Load(),
		Nodes:       o.nodes.size(),
		Navigations: o.navigations.Load(),
		ShadowRoots: o.shadowRoots.Load(),
		Duplicates:  o.dedup.dropped.Load(),
		Stats:       o.queue.Stats(),
	}
}

func (o *Observer) initDOMTracking() error {
	// Without depth=-1 CDP does not report mutations on deep nodes.
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(o.tab.Page)
	if err != nil {
		return fmt.Errorf("DOM.getDocument: %w", err)
	}
	o.nodes.buildFromDocument(doc.Root)
	o.logger.Info("observer: DOM tracking initialised",
		"url", o.PageURL(), "nodes", o.nodes.size())
	return nil
}

func (o *Observer) inject() error {
	if _, err := o.tab.Page.Eval(injectJS, rtl.Stylesheet, pageBinding); err != nil {
		return fmt.Errorf("eval inject.js: %w", err)
	}
	o.logger.Debug("observer: JS injected", "url", o.PageURL())
	return nil
}

func (o *Observer) applyCurrent() {
	if err := scanner.ApplyPreferences(o.doc, o.Preferences().Full()); err != nil {
		o.logger.Warn("observer: apply preferences", "url", o.PageURL(), "error", err)
	}
}

// rescan scans the whole document outside the queue.
func (o *Observer) rescan(trigger rtl.Trigger) {
	res, err := o.queue.Scanner().ScanDocument(o.doc)
	if err != nil {
		o.logger.Error("observer: document scan", "url", o.PageURL(), "trigger", trigger, "error", err)
		return
	}
	o.queue.Record(res)
	o.emitReport(scanner.Report{Trigger: trigger, Result: res})
}

// afterFunc arms the queue's flush timer. The flush itself is handed to
// the loop.
func (o *Observer) afterFunc(d time.Duration, f func()) {
	ctx := o.ctx
	time.AfterFunc(d, func() {
		select {
		case o.flushCh <- f:
		case <-ctx.Done():
		}
	})
}

// loop is the page's only DOM goroutine.
func (o *Observer) loop() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.ctx.Done():
			return
		case rm := <-o.rawCh:
			o.observe(rm)
		case recs := <-o.jsCh:
			o.handlePage(recs)
		case flush := <-o.flushCh:
			flush()
		case req := <-o.prefCh:
			req.done <- scanner.ApplyPreferences(o.doc, req.u)
		case <-o.settleC():
			o.settled()
		case <-o.docResetCh:
			o.handleDocReset()
		}
	}
}

// observe deduplicates rm and hands it to the queue.
func (o *Observer) observe(rm rawMutation) {
	if rm.request != 0 && o.ctx.Err() == nil {
		o.requestChildren(rm.request)
	}
	if o.dedup.isDuplicate(rm) {
		return
	}
	o.touchSettle()
	o.queue.Observe(rm.m)
}

// requestChildren asks CDP for the subtree of id. The answer arrives as
// DOM.setChildNodes and CDP reports mutations inside it from then on.
func (o *Observer) requestChildren(id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(o.tab.Page)
	if err != nil {
		o.logger.Debug("observer: request child nodes", "node", id, "error", err)
	}
}

// handlePage processes one binding call of the injected script.
func (o *Observer) handlePage(recs []jsRecord) {
	now := time.Now()
	tokens := make(map[string][]string)
	for _, r := range recs {
		switch r.Op {
		case "navigate":
			o.handleNavigate(r.Value)
		case "insert", "text", "input", "shadow":
			tokens[r.Op] = append(tokens[r.Op], r.Token)
		default:
			o.logger.Debug("observer: unknown page record", "op", r.Op)
		}
	}

	for _, host := range o.take(tokens["shadow"]) {
		o.handleShadowRoot(host)
	}
	for _, el := range o.take(tokens["insert"]) {
		o.observe(rawMutation{m: dom.Mutation{Kind: dom.ChildInserted, Node: el}, source: sourceJS, at: now})
	}
	for _, el := range o.take(tokens["text"]) {
		o.observe(rawMutation{m: dom.Mutation{Kind: dom.CharacterData, Parent: el}, source: sourceJS, at: now})
	}
	for _, el := range o.take(tokens["input"]) {
		o.handleInput(el)
	}
}

// take resolves tokens to the elements the script holds for them.
// Elements detached in the meantime are skipped.
func (o *Observer) take(tokens []string) []dom.Element {
	if len(tokens) == 0 {
		return nil
	}
	found, err := o.tab.Page.ElementsByJS(rod.Eval(
		`(t) => window.__rtlwatch ? window.__rtlwatch.take(t) : []`, tokens))
	if err != nil {
		o.logger.Debug("observer: take page elements", "count", len(tokens), "error", err)
		return nil
	}
	return adopt(o.tab.Page, o.nodes, found)
}

// drainPending observes what the listener queued before Stop.
func (o *Observer) drainPending() {
	for {
		select {
		case rm := <-o.rawCh:
			o.observe(rm)
		case recs := <-o.jsCh:
			o.handlePage(recs)
		default:
			return
		}
	}
}

// handleDocReset processes DOM.documentUpdated: the whole document was
// replaced, so node IDs are stale and the injected script is gone.
func (o *Observer) handleDocReset() {
	o.logger.Info("observer: document updated", "url", o.PageURL())
	o.queue.Flush()
	o.stopSettle()

	if err := o.initDOMTracking(); err != nil {
		o.logger.Error("observer: re-init DOM tracking failed", "error", err)
		return
	}
	if err := o.inject(); err != nil {
		o.logger.Error("observer: re-inject failed", "error", err)
	}
	o.applyCurrent()
	o.rescan(rtl.TriggerInitial)
}

// handleInput runs the immediate path for an edited element.
func (o *Observer) handleInput(el dom.Element) {
	res := o.queue.Scanner().ScanInput(el)
	o.queue.Record(res)
	o.emitReport(scanner.Report{Trigger: rtl.TriggerInput, Queued: 1, Result: res})
}

func (o *Observer) emitReport(rep scanner.Report) {
	batch := rtl.Batch{
		ID:        idgen.New(),
		PageURL:   o.PageURL(),
		PageID:    o.tab.PageID,
		Seq:       o.seq.Add(1),
		Trigger:   rep.Trigger,
		Queued:    rep.Queued,
		Scanned:   rep.Scanned,
		Marks:     rep.Marks,
		Timestamp: time.Now().UnixMilli(),
	}
	if o.sink == nil {
		return
	}
	// The stop pass runs after cancel and must still be delivered.
	ctx := o.ctx
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := o.sink.Send(ctx, batch); err != nil {
		o.logger.Error("observer: send batch failed", "error", err)
	}
}
