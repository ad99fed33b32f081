package rtl

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Trigger says which path produced a batch.
type Trigger string

const (
	TriggerMutation Trigger = "mutation" // scheduled flush after the quiet window
	TriggerInitial  Trigger = "initial"  // full-document scan at start or after a document reset
	TriggerInput    Trigger = "input"    // immediate rescan of an edited textarea/contenteditable
	TriggerStop     Trigger = "stop"     // synchronous flush while shutting down
	TriggerNavigate Trigger = "navigate" // full rescan once a client-side navigation settles
)

// Mark is one element that became RTL-active.
type Mark struct {
	XPath   string `json:"xpath,omitempty"`
	Tag     string `json:"tag"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Batch is emitted once per scan pass. Passes that mark nothing still
// produce a batch so consumers can follow Seq without gaps.
type Batch struct {
	ID        string  `json:"id"` // UUIDv7
	PageURL   string  `json:"page_url"`
	PageID    string  `json:"page_id"`
	Seq       uint64  `json:"seq"` // monotonically increasing per page
	Trigger   Trigger `json:"trigger"`
	Queued    int     `json:"queued"`  // dirty elements drained from the queue
	Scanned   int     `json:"scanned"` // elements whose text was tested
	Marks     []Mark  `json:"marks"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds at flush
}

// Snapshot is the annotated HTML of a page processed without a browser.
type Snapshot struct {
	ID          string      `json:"id"`
	PageURL     string      `json:"page_url"`
	PageID      string      `json:"page_id"`
	HTML        []byte      `json:"html"`
	HTMLHash    string      `json:"html_hash"`
	Marks       []Mark      `json:"marks"`
	Preferences Preferences `json:"preferences"`
	Timestamp   int64       `json:"timestamp"`
}

// MarshalBatch serialises a Batch to JSON.
func MarshalBatch(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBatch deserialises a Batch from JSON.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// MarshalSnapshot serialises a Snapshot to JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// HashHTML returns the SHA-256 hex digest of raw HTML bytes.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return fmt.Sprintf("%x", h)
}
