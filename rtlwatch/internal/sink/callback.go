package sink

import (
	"context"

	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// BatchFunc is called for each batch.
type BatchFunc func(ctx context.Context, batch rtl.Batch) error

// SnapshotFunc is called for each snapshot.
type SnapshotFunc func(ctx context.Context, snap rtl.Snapshot) error

// Callback delivers reports as in-process function calls, for embedding
// the watcher in another program.
type Callback struct {
	onBatch    BatchFunc
	onSnapshot SnapshotFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onBatch BatchFunc, onSnapshot SnapshotFunc) *Callback {
	return &Callback{onBatch: onBatch, onSnapshot: onSnapshot}
}

func (c *Callback) Send(ctx context.Context, batch rtl.Batch) error {
	if c.onBatch == nil {
		return nil
	}
	return c.onBatch(ctx, batch)
}

func (c *Callback) SendSnapshot(ctx context.Context, snap rtl.Snapshot) error {
	if c.onSnapshot == nil {
		return nil
	}
	return c.onSnapshot(ctx, snap)
}

func (c *Callback) Close() error { return nil }

// MarksOnly forwards to next only the batches that marked something.
// Streaming pages flush several times per second and most passes find
// nothing new. Snapshots always pass.
type MarksOnly struct {
	next Sink
}

// NewMarksOnly wraps next.
func NewMarksOnly(next Sink) *MarksOnly { return &MarksOnly{next: next} }

func (m *MarksOnly) Send(ctx context.Context, batch rtl.Batch) error {
	if len(batch.Marks) == 0 {
		return nil
	}
	return m.next.Send(ctx, batch)
}

func (m *MarksOnly) SendSnapshot(ctx context.Context, snap rtl.Snapshot) error {
	return m.next.SendSnapshot(ctx, snap)
}

func (m *MarksOnly) Close() error { return m.next.Close() }
