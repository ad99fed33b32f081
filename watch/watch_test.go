package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/rtlfix/dbopen"

	_ "modernc.org/sqlite"
)

func maxUpdated(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM prefs`).Scan(&v)
	return v, err
}

func TestDetectorChangeFires(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE prefs (k TEXT PRIMARY KEY, updated_at INTEGER)`))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(db, Options{Interval: 5 * time.Millisecond, Detector: maxUpdated})
	var fired atomic.Int32
	done := make(chan struct{})
	go func() {
		w.OnChange(ctx, func() error {
			fired.Add(1)
			return nil
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("fired without a change")
	}
	if _, err := db.Exec(`INSERT INTO prefs VALUES ('a', 42)`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() == 1 })
	if v := w.Stats().Version; v != 42 {
		t.Errorf("version = %d, want 42", v)
	}

	cancel()
	<-done
}

func TestDebounceAndRetry(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE prefs (k TEXT PRIMARY KEY, updated_at INTEGER)`))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(db, Options{
		Interval: 5 * time.Millisecond,
		Debounce: 30 * time.Millisecond,
		Detector: maxUpdated,
	})
	var calls atomic.Int32
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	time.Sleep(15 * time.Millisecond)
	db.Exec(`INSERT INTO prefs VALUES ('a', 1)`)
	waitFor(t, func() bool { return w.Stats().Reloads == 1 })

	s := w.Stats()
	if calls.Load() != 2 || s.Errors != 1 || s.Version != 1 {
		t.Errorf("calls = %d stats = %+v", calls.Load(), s)
	}
}

func TestPragmaDataVersion(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := PragmaDataVersion(context.Background(), db); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
