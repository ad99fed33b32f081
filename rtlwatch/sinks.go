package rtlwatch

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/sink"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// Sink receives scan reports.
type Sink = sink.Sink

// NewStdoutSink writes JSON lines to w (stdout when nil).
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink POSTs reports to url with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink delivers reports as function calls. Either may be nil.
func NewCallbackSink(
	onBatch func(ctx context.Context, batch rtl.Batch) error,
	onSnapshot func(ctx context.Context, snap rtl.Snapshot) error,
) Sink {
	return sink.NewCallback(onBatch, onSnapshot)
}

// SinksFromConfig builds the configured sinks. marks_only drops batches
// that marked nothing.
func SinksFromConfig(cfgs []SinkConfig, stdout io.Writer, logger *slog.Logger) []Sink {
	var out []Sink
	for _, c := range cfgs {
		var s Sink
		switch c.Type {
		case "stdout":
			s = NewStdoutSink(stdout)
		case "webhook":
			s = NewWebhookSink(c.URL, logger)
		default:
			continue
		}
		if c.MarksOnly {
			s = sink.NewMarksOnly(s)
		}
		out = append(out, s)
	}
	return out
}
