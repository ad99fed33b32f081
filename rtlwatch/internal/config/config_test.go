package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/rtlfix/dbopen"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"

	_ "modernc.org/sqlite"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pages:
  - url: https://chat.example/
  - id: docs
    url: https://docs.example/
    stealth_level: "0"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.Window != 200*time.Millisecond {
		t.Errorf("window = %v", cfg.Scanner.Window)
	}
	if cfg.Browser.Stealth != "headless" || cfg.Browser.XvfbDisplay != ":99" {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Pages[0].ID != "page-1" || cfg.Pages[0].StealthLevel != "auto" {
		t.Errorf("page 0 = %+v", cfg.Pages[0])
	}
	if cfg.Pages[1].StealthLevel != "0" {
		t.Errorf("page 1 = %+v", cfg.Pages[1])
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "stdout" {
		t.Errorf("sinks = %+v", cfg.Sinks)
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  resource_blocking: [image, font]
pages:
  - id: chat
    url: https://chat.example/
    attach: true
scanner:
  window: 350ms
sinks:
  - type: webhook
    url: https://hooks.example/rtl
    marks_only: true
  - type: sqlite
    retention: 168h
storage:
  db: /var/lib/rtlwatch/prefs.db
http:
  listen: 127.0.0.1:8088
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.Window != 350*time.Millisecond {
		t.Errorf("window = %v", cfg.Scanner.Window)
	}
	if !cfg.Pages[0].Attach || cfg.Storage.DB == "" || cfg.HTTP.Listen != "127.0.0.1:8088" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Sinks[0].MarksOnly || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Sinks[1].Retention != 7*24*time.Hour {
		t.Errorf("retention = %v", cfg.Sinks[1].Retention)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing url":  "pages:\n  - id: x\n",
		"bad level":    "pages:\n  - url: https://a/\n    stealth_level: \"5\"\n",
		"attach local": "pages:\n  - url: https://a/\n    attach: true\n",
		"bad sink":     "sinks:\n  - type: nats\n",
		"bad stealth":  "browser:\n  stealth: invisible\n",
		"webhook url":  "sinks:\n  - type: webhook\n",
		"sqlite db":    "sinks:\n  - type: sqlite\n",
		"retention":    "storage:\n  db: x.db\nsinks:\n  - type: sqlite\n    retention: -1h\n",
	}
	for name, y := range cases {
		if _, err := Parse([]byte(y)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtlwatch.yaml")
	os.WriteFile(path, []byte("scanner:\n  window: 1s\n"), 0o644)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.Window != time.Second {
		t.Errorf("window = %v", cfg.Scanner.Window)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Errorf("err = %v", err)
	}
}

func TestPrefStoreDefaults(t *testing.T) {
	ctx := context.Background()
	s, err := NewPrefStore(ctx, dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != rtl.Defaults() {
		t.Errorf("Load on empty table = %+v", got)
	}
}

func TestPrefStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	s, err := NewPrefStore(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	fs := 20.0
	got, err := s.Save(ctx, rtl.Update{FontSize: &fs})
	if err != nil {
		t.Fatal(err)
	}
	if got.FontSize != 20 || got.LineHeight != rtl.DefaultLineHeight {
		t.Errorf("after font size = %+v", got)
	}

	lh := 2.25
	got, _ = s.Save(ctx, rtl.Update{LineHeight: &lh})
	if got.FontSize != 20 || got.LineHeight != 2.25 {
		t.Errorf("after line height = %+v", got)
	}

	var stored string
	db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, rtl.KeyLineHeight).Scan(&stored)
	if stored != "2.25" {
		t.Errorf("stored = %q", stored)
	}
}

func TestPrefStoreZeroFallsBack(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	s, _ := NewPrefStore(ctx, db)
	db.Exec(`INSERT INTO preferences VALUES (?, '0', 1), (?, 'abc', 1)`, rtl.KeyFontSize, rtl.KeyLineHeight)

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != rtl.Defaults() {
		t.Errorf("Load = %+v, want defaults", got)
	}
}
