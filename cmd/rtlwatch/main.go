// Command rtlwatch keeps Persian and Arabic text right-to-left in pages
// that stream content.
//
// Usage:
//
//	rtlwatch -config rtlwatch.yaml            # observe pages from YAML config
//	rtlwatch -url https://chat.example.com    # quick single-page observation
//	rtlwatch -annotate page.html > out.html   # annotate a static file and exit
//	rtlwatch -listen :8090 -db prefs.db       # message/preferences API only
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/rtlfix/idgen"
	"github.com/hazyhaar/rtlfix/rtlwatch"
	"github.com/hazyhaar/rtlfix/shield"
)

type options struct {
	config   string
	url      string
	annotate string
	listen   string
	db       string
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "path to rtlwatch.yaml config file")
	flag.StringVar(&opts.url, "url", "", "observe a single URL (stdout sink)")
	flag.StringVar(&opts.annotate, "annotate", "", "annotate an HTML file (- for stdin) to stdout and exit")
	flag.StringVar(&opts.listen, "listen", "", "serve the HTTP/MCP API on this address")
	flag.StringVar(&opts.db, "db", "", "SQLite file holding the preferences")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, opts)
	stop()
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, "usage: rtlwatch -config <file> | -url <url> | -annotate <file> | -listen <addr>")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("rtlwatch: fatal", "error", err)
		os.Exit(1)
	}
}

// errUsage means nothing to observe, serve or annotate was given.
var errUsage = errors.New("rtlwatch: nothing to do")

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.annotate != "" {
		return runAnnotate(ctx, logger, cfg, opts.annotate)
	}
	if len(cfg.Pages) == 0 && cfg.HTTP.Listen == "" {
		return errUsage
	}

	w := rtlwatch.New(cfg, logger, rtlwatch.SinksFromConfig(cfg.Sinks, os.Stdout, logger)...)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	if cfg.HTTP.Listen != "" {
		return serve(ctx, logger, w, cfg.HTTP.Listen)
	}
	<-ctx.Done()
	return nil
}

// loadConfig merges the YAML file, if any, with the flags. Flags win.
func loadConfig(opts options) (*rtlwatch.Config, error) {
	cfg := &rtlwatch.Config{}
	if opts.config != "" {
		var err error
		if cfg, err = rtlwatch.LoadConfigFile(opts.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if opts.url != "" {
		cfg.Pages = append(cfg.Pages, rtlwatch.PageConfig{
			ID:           idgen.New(),
			URL:          opts.url,
			StealthLevel: "auto",
		})
	}
	if opts.listen != "" {
		cfg.HTTP.Listen = opts.listen
	}
	if opts.db != "" {
		cfg.Storage.DB = opts.db
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAnnotate(ctx context.Context, logger *slog.Logger, cfg *rtlwatch.Config, path string) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	// No pages: Start only opens the preference store.
	cfg.Pages = nil
	w := rtlwatch.New(cfg, logger)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	out, marks, err := w.AnnotateHTML(data)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return err
	}
	logger.Info("rtlwatch: annotated", "file", path, "marks", len(marks))
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, w *rtlwatch.Watcher, addr string) error {
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "rtlwatch", Version: "1.0.0"}, nil)
	w.RegisterMCP(mcpSrv)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(10 << 20) {
		r.Use(mw)
	}
	w.RegisterHTTP(r, mcpSrv)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("rtlwatch: HTTP listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
