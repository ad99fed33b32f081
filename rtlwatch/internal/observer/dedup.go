package observer

import (
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

// recordSource distinguishes where a mutation came from.
type recordSource int

const (
	sourceCDP recordSource = iota
	sourceJS
)

// rawMutation is an unprocessed mutation with its source and arrival time.
type rawMutation struct {
	m      dom.Mutation
	source recordSource
	at     time.Time
	// request is a node whose children CDP has not sent yet. Zero: none.
	request proto.DOMNodeID
}

// deduper drops a CDP mutation that repeats a page observer record for the
// same element and kind within tolerance. The page observer also sees
// inside subtrees CDP has not expanded, so its record is kept.
type deduper struct {
	tolerance time.Duration
	recent    []recentEntry
	maxRecent int
	dropped   atomic.Int64
}

type recentEntry struct {
	key    string
	kind   dom.MutationKind
	at     time.Time
	source recordSource
}

func newDeduper() *deduper {
	return &deduper{
		tolerance: 50 * time.Millisecond,
		maxRecent: 500,
	}
}

// mutationKey is the key of the element the queue would receive.
func mutationKey(m dom.Mutation) string {
	el := m.Parent
	if m.Kind == dom.ChildInserted {
		el = m.Node
	}
	if el == nil {
		return ""
	}
	return el.Key()
}

// isDuplicate reports whether rm repeats a recent mutation from the other
// source. Only CDP records are ever discarded.
func (d *deduper) isDuplicate(rm rawMutation) bool {
	key := mutationKey(rm.m)
	if key == "" {
		return false
	}
	now := rm.at
	if now.IsZero() {
		now = time.Now()
	}

	cutoff := now.Add(-2 * d.tolerance)
	fresh := d.recent[:0]
	for _, e := range d.recent {
		if e.at.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	d.recent = fresh

	for _, e := range d.recent {
		if e.key == key && e.kind == rm.m.Kind && e.source != rm.source &&
			absDuration(e.at.Sub(now)) <= d.tolerance {
			if rm.source == sourceCDP {
				d.dropped.Add(1)
				return true
			}
			return false
		}
	}

	d.recent = append(d.recent, recentEntry{key: key, kind: rm.m.Kind, at: now, source: rm.source})
	if len(d.recent) > d.maxRecent {
		d.recent = d.recent[len(d.recent)-d.maxRecent:]
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
