// Package watch polls an SQLite database for a change token and runs a
// reload action once the token settles. The preference store uses it to
// pick up edits made by other processes.
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different values mean a change.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval between polls. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period a new token must hold before the action
	// runs. 0 runs it on the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher runs an action when the detector's token changes.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Reloads int64 `json:"reloads"`
	Errors  int64 `json:"errors"`
	Version int64 `json:"version"`
}

// New creates a Watcher. OnChange starts it.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Reloads: w.reloads.Load(),
		Errors:  w.errors.Load(),
		Version: w.version.Load(),
	}
}

// OnChange polls until ctx is done. The token seen at start is the
// baseline. A failing action leaves the token unaccepted so the next
// poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var (
		pending  int64
		hasPend  bool
		settleAt time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur != w.version.Load() && (!hasPend || cur != pending) {
				w.changes.Add(1)
				pending, hasPend = cur, true
				settleAt = now.Add(w.opts.Debounce)
				log.Debug("watch: change detected", "version", cur)
			}
			if hasPend && !now.Before(settleAt) {
				if w.fire(action, pending) {
					hasPend = false
				}
			}
		}
	}
}

func (w *Watcher) fire(action func() error, v int64) bool {
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "version", v, "error", err)
		return false
	}
	w.reloads.Add(1)
	w.version.Store(v)
	w.opts.Logger.Info("watch: reloaded", "version", v, "duration", time.Since(start))
	return true
}

// PragmaDataVersion changes whenever another connection commits to the
// database file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
