package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/rtlfix/dbopen"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
	"github.com/hazyhaar/rtlfix/watch"
)

// Schema for the preferences table: string values keyed like the
// settings UI stores them.
const Schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// PrefStore persists the preference pair.
type PrefStore struct {
	db *sql.DB
}

// NewPrefStore creates the table if needed.
func NewPrefStore(ctx context.Context, db *sql.DB) (*PrefStore, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("config: preferences schema: %w", err)
	}
	return &PrefStore{db: db}, nil
}

// Load returns the stored pair. A missing, unparsable, zero or negative
// value falls back to its default.
func (s *PrefStore) Load(ctx context.Context) (rtl.Preferences, error) {
	prefs := rtl.Defaults()
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM preferences WHERE key IN (?, ?)`,
		rtl.KeyFontSize, rtl.KeyLineHeight)
	if err != nil {
		return prefs, fmt.Errorf("config: load preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return prefs, fmt.Errorf("config: scan preference: %w", err)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			continue
		}
		switch key {
		case rtl.KeyFontSize:
			prefs.FontSize = v
		case rtl.KeyLineHeight:
			prefs.LineHeight = v
		}
	}
	return prefs, rows.Err()
}

// Save writes the present fields of u and returns the resulting pair.
func (s *PrefStore) Save(ctx context.Context, u rtl.Update) (rtl.Preferences, error) {
	now := time.Now().UnixMilli()
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for key, v := range map[string]*float64{
			rtl.KeyFontSize:   u.FontSize,
			rtl.KeyLineHeight: u.LineHeight,
		} {
			if v == nil || *v <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, strconv.FormatFloat(*v, 'f', -1, 64), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rtl.Preferences{}, fmt.Errorf("config: save preferences: %w", err)
	}
	return s.Load(ctx)
}

// Watch returns a watcher that fires when another connection or process
// commits to the database.
func (s *PrefStore) Watch(logger *slog.Logger) *watch.Watcher {
	return watch.New(s.db, watch.Options{
		Interval: 500 * time.Millisecond,
		Debounce: 250 * time.Millisecond,
		Detector: watch.PragmaDataVersion,
		Logger:   logger,
	})
}
