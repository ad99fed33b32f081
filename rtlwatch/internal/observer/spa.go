package observer

import (
	"time"

	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// settleDelay is how long a page must stay quiet after a client-side
// navigation before it is rescanned.
const settleDelay = 500 * time.Millisecond

// handleNavigate processes a history change reported by the injected
// script. The page URL follows it at once; the rescan waits until no
// mutation arrived for settleDelay.
func (o *Observer) handleNavigate(newURL string) {
	if newURL == "" || newURL == o.PageURL() {
		return
	}
	o.logger.Info("observer: SPA navigation detected", "url", newURL)
	o.setPageURL(newURL)
	o.navigations.Add(1)

	if o.settle == nil {
		o.settle = time.NewTimer(settleDelay)
		return
	}
	o.settle.Reset(settleDelay)
}

// settleC is nil, and blocks forever, while no navigation is settling.
func (o *Observer) settleC() <-chan time.Time {
	if o.settle == nil {
		return nil
	}
	return o.settle.C
}

// touchSettle pushes the rescan back while mutations keep arriving.
func (o *Observer) touchSettle() {
	if o.settle != nil {
		o.settle.Reset(settleDelay)
	}
}

func (o *Observer) stopSettle() {
	if o.settle != nil {
		o.settle.Stop()
		o.settle = nil
	}
}

// settled flushes what is queued and rescans the new view.
func (o *Observer) settled() {
	o.settle = nil
	o.queue.Flush()
	o.rescan(rtl.TriggerNavigate)
}
