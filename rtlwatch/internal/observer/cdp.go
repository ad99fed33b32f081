package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

// translator turns CDP DOM events into scanner mutations. It only reads
// and updates the node map; no CDP call is made.
type translator struct {
	page  *rod.Page
	nodes *nodeMap
}

func (t translator) element(id proto.DOMNodeID) (*element, bool) {
	info, ok := t.nodes.info(id)
	if !ok || info.Type != nodeElement {
		return nil, false
	}
	return newElement(t.page, t.nodes, info), true
}

func (t translator) inserted(e *proto.DOMChildNodeInserted) rawMutation {
	rm := rawMutation{m: dom.Mutation{Kind: dom.ChildInserted}, source: sourceCDP, at: time.Now()}
	if e.Node == nil {
		return rm
	}
	t.nodes.addNode(e.ParentNodeID, e.PreviousNodeID, e.Node)
	if el, ok := t.element(e.Node.NodeID); ok {
		rm.m.Node = el
		// CDP only reports mutations on nodes it has sent to us.
		if n := e.Node.ChildNodeCount; n != nil && *n > 0 && len(e.Node.Children) == 0 {
			rm.request = e.Node.NodeID
		}
	}
	if el, ok := t.element(e.ParentNodeID); ok {
		rm.m.Parent = el
	}
	return rm
}

func (t translator) characterData(e *proto.DOMCharacterDataModified) (rawMutation, bool) {
	pid, ok := t.nodes.parentOf(e.NodeID)
	if !ok {
		return rawMutation{}, false
	}
	el, ok := t.element(pid)
	if !ok {
		return rawMutation{}, false
	}
	return rawMutation{
		m:      dom.Mutation{Kind: dom.CharacterData, Parent: el},
		source: sourceCDP,
		at:     time.Now(),
	}, true
}

// countUpdated handles children CDP saw change under a node whose children
// it never sent. The node is rescanned and its children requested.
func (t translator) countUpdated(e *proto.DOMChildNodeCountUpdated) (rawMutation, bool) {
	el, ok := t.element(e.NodeID)
	if !ok {
		return rawMutation{}, false
	}
	return rawMutation{
		m:       dom.Mutation{Kind: dom.SubtreeChanged, Parent: el},
		source:  sourceCDP,
		at:      time.Now(),
		request: e.NodeID,
	}, true
}

// cdpListener forwards CDP DOM events and binding calls to the observer
// loop. It does no DOM work itself.
type cdpListener struct {
	obs  *Observer
	tr   translator
	ctx  context.Context
	stop context.CancelFunc
}

func newCDPListener(obs *Observer) *cdpListener {
	ctx, cancel := context.WithCancel(obs.ctx)
	return &cdpListener{
		obs:  obs,
		tr:   translator{page: obs.tab.Page, nodes: obs.nodes},
		ctx:  ctx,
		stop: cancel,
	}
}

func (cl *cdpListener) start() error {
	if err := (proto.DOMEnable{}).Call(cl.obs.tab.Page); err != nil {
		return err
	}
	go cl.listen()
	return nil
}

func (cl *cdpListener) raw(rm rawMutation) {
	select {
	case cl.obs.rawCh <- rm:
	case <-cl.ctx.Done():
	}
}

func (cl *cdpListener) listen() {
	o := cl.obs
	wait := o.tab.Page.Context(cl.ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			cl.raw(cl.tr.inserted(e))
		},

		func(e *proto.DOMCharacterDataModified) {
			if rm, ok := cl.tr.characterData(e); ok {
				cl.raw(rm)
			}
		},

		func(e *proto.DOMChildNodeCountUpdated) {
			if rm, ok := cl.tr.countUpdated(e); ok {
				cl.raw(rm)
			}
		},

		func(e *proto.DOMChildNodeRemoved) {
			o.nodes.removeNode(e.NodeID)
		},

		func(e *proto.DOMSetChildNodes) {
			o.nodes.setChildren(e.ParentID, e.Nodes)
		},

		func(e *proto.DOMDocumentUpdated) {
			select {
			case o.docResetCh <- struct{}{}:
			default:
			}
		},

		func(e *proto.RuntimeBindingCalled) {
			if e.Name != pageBinding {
				return
			}
			var recs []jsRecord
			if err := json.Unmarshal([]byte(e.Payload), &recs); err != nil {
				o.logger.Warn("observer: parse binding payload", "error", err)
				return
			}
			select {
			case o.jsCh <- recs:
			case <-cl.ctx.Done():
			}
		},
	)
	wait()
}
