package observer

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

func inserted(backend int, src recordSource, at time.Time) rawMutation {
	n := newElement(nil, nil, nodeInfo{ID: 1, Backend: proto.DOMBackendNodeID(backend)})
	return rawMutation{m: dom.Mutation{Kind: dom.ChildInserted, Node: n}, source: src, at: at}
}

func TestDeduperDropsCDPRepeat(t *testing.T) {
	d := newDeduper()
	now := time.Now()

	if d.isDuplicate(inserted(7, sourceJS, now)) {
		t.Fatal("first record dropped")
	}
	if !d.isDuplicate(inserted(7, sourceCDP, now.Add(10*time.Millisecond))) {
		t.Error("CDP repeat within tolerance kept")
	}
	if d.dropped.Load() != 1 {
		t.Errorf("dropped = %d", d.dropped.Load())
	}
}

func TestDeduperKeepsJSAfterCDP(t *testing.T) {
	d := newDeduper()
	now := time.Now()

	d.isDuplicate(inserted(7, sourceCDP, now))
	if d.isDuplicate(inserted(7, sourceJS, now.Add(5*time.Millisecond))) {
		t.Error("page script record dropped")
	}
}

func TestDeduperDistinct(t *testing.T) {
	d := newDeduper()
	now := time.Now()
	d.isDuplicate(inserted(7, sourceJS, now))

	cases := map[string]rawMutation{
		"other element": inserted(8, sourceCDP, now),
		"late":          inserted(7, sourceCDP, now.Add(80*time.Millisecond)),
		"same source":   inserted(7, sourceJS, now),
		"other kind": {
			m:      dom.Mutation{Kind: dom.CharacterData, Parent: newElement(nil, nil, nodeInfo{Backend: 7})},
			source: sourceCDP,
			at:     now,
		},
		"no element": {m: dom.Mutation{Kind: dom.ChildInserted}, source: sourceCDP, at: now},
	}
	for name, rm := range cases {
		if d.isDuplicate(rm) {
			t.Errorf("%s: dropped", name)
		}
	}
}
