// Package sink defines where scan reports go.
package sink

import (
	"context"

	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// Sink receives one Batch per scan pass of an observed page and one
// Snapshot per statically annotated page.
type Sink interface {
	Send(ctx context.Context, batch rtl.Batch) error
	SendSnapshot(ctx context.Context, snap rtl.Snapshot) error
	Close() error
}

// envelope tags each JSON record with its kind.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	typeBatch    = "batch"
	typeSnapshot = "snapshot"
)
