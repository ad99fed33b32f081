package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// SQLiteSchema holds scan history next to the preferences.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS scan_batches (
	id        TEXT PRIMARY KEY,
	page_id   TEXT NOT NULL,
	page_url  TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	queued    INTEGER NOT NULL,
	scanned   INTEGER NOT NULL,
	marked    INTEGER NOT NULL,
	marks     TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_batches_page ON scan_batches(page_id, seq DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	id        TEXT PRIMARY KEY,
	page_id   TEXT NOT NULL,
	page_url  TEXT NOT NULL,
	html_hash TEXT NOT NULL,
	html      BLOB NOT NULL,
	marks     TEXT,
	timestamp INTEGER NOT NULL
);
`

// SQLite buffers batches and writes them in one transaction per flush.
// Snapshots are rare and written immediately.
type SQLite struct {
	db              *sql.DB
	bufferSize      int
	flushInterval   time.Duration
	retention       time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	buffer []rtl.Batch

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// SQLiteOption configures a SQLite sink.
type SQLiteOption func(*SQLite)

// WithSQLiteBuffer sets how many batches trigger an early flush.
// Default: 100.
func WithSQLiteBuffer(n int) SQLiteOption {
	return func(s *SQLite) { s.bufferSize = n }
}

// WithSQLiteInterval sets the periodic flush interval. Default: 5s.
func WithSQLiteInterval(d time.Duration) SQLiteOption {
	return func(s *SQLite) { s.flushInterval = d }
}

// WithSQLiteRetention prunes batches older than d in the background.
// Zero keeps everything.
func WithSQLiteRetention(d time.Duration) SQLiteOption {
	return func(s *SQLite) { s.retention = d }
}

// WithSQLiteCleanupInterval sets how often retention is enforced.
// Default: 10m.
func WithSQLiteCleanupInterval(d time.Duration) SQLiteOption {
	return func(s *SQLite) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithSQLiteLogger sets a custom logger.
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSQLite creates the tables if needed and starts the flush loop.
func NewSQLite(ctx context.Context, db *sql.DB, opts ...SQLiteOption) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return nil, fmt.Errorf("sink: sqlite schema: %w", err)
	}
	s := &SQLite{
		db:              db,
		bufferSize:      100,
		flushInterval:   5 * time.Second,
		cleanupInterval: 10 * time.Minute,
		logger:          slog.Default(),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.flushLoop()
	return s, nil
}

func (s *SQLite) Send(_ context.Context, batch rtl.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, batch)
	if len(s.buffer) >= s.bufferSize {
		s.flushLocked()
	}
	return nil
}

func (s *SQLite) SendSnapshot(ctx context.Context, snap rtl.Snapshot) error {
	marks, err := json.Marshal(snap.Marks)
	if err != nil {
		return fmt.Errorf("sink: sqlite: marshal marks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (id, page_id, page_url, html_hash, html, marks, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.PageID, snap.PageURL, snap.HTMLHash, snap.HTML, string(marks), snap.Timestamp)
	if err != nil {
		return fmt.Errorf("sink: sqlite: insert snapshot: %w", err)
	}
	return nil
}

// Flush writes buffered batches now.
func (s *SQLite) Flush() {
	s.mu.Lock()
	s.flushLocked()
	s.mu.Unlock()
}

// Close flushes what is left and stops the loop. The database stays open.
func (s *SQLite) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

// Batches returns the most recent batches of a page, newest first.
func (s *SQLite) Batches(ctx context.Context, pageID string, limit int) ([]rtl.Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, page_url, seq, kind, queued, scanned, marks, timestamp
		FROM scan_batches WHERE page_id = ? ORDER BY seq DESC LIMIT ?`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: sqlite: query batches: %w", err)
	}
	defer rows.Close()

	var out []rtl.Batch
	for rows.Next() {
		var (
			b       rtl.Batch
			trigger string
			marks   sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.PageID, &b.PageURL, &b.Seq, &trigger,
			&b.Queued, &b.Scanned, &marks, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("sink: sqlite: scan batch: %w", err)
		}
		b.Trigger = rtl.Trigger(trigger)
		if marks.Valid {
			if err := json.Unmarshal([]byte(marks.String), &b.Marks); err != nil {
				return nil, fmt.Errorf("sink: sqlite: decode marks of %s: %w", b.ID, err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Cleanup deletes batches older than maxAge and returns the count removed.
func (s *SQLite) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_batches WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("sink: sqlite: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if s.retention > 0 {
		ct := time.NewTicker(s.cleanupInterval)
		defer ct.Stop()
		cleanup = ct.C
	}

	for {
		select {
		case <-s.stop:
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		case <-cleanup:
			s.prune()
		}
	}
}

func (s *SQLite) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.Cleanup(ctx, s.retention)
	if err != nil {
		s.logger.Error("sink: sqlite: prune", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("sink: sqlite: pruned", "batches", n, "retention", s.retention)
	}
}

func (s *SQLite) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("sink: sqlite: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO scan_batches
			(id, page_id, page_url, seq, kind, queued, scanned, marked, marks, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		s.logger.Error("sink: sqlite: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, b := range s.buffer {
		var marks sql.NullString
		if len(b.Marks) > 0 {
			if data, err := json.Marshal(b.Marks); err == nil {
				marks = sql.NullString{String: string(data), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, b.ID, b.PageID, b.PageURL, b.Seq, string(b.Trigger),
			b.Queued, b.Scanned, len(b.Marks), marks, b.Timestamp); err != nil {
			s.logger.Error("sink: sqlite: insert batch", "id", b.ID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sink: sqlite: commit", "error", err)
		return
	}
	s.logger.Debug("sink: sqlite: flushed", "batches", len(s.buffer))
	s.buffer = s.buffer[:0]
}
