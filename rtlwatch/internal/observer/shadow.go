package observer

import "github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"

// handleShadowRoot records an open shadow root the injected script started
// observing. Its content arrives as ordinary inserts. Closed roots are not
// reachable and never reported.
func (o *Observer) handleShadowRoot(host dom.Element) {
	o.shadowRoots.Add(1)
	xpath := ""
	if loc, ok := host.(dom.Locator); ok {
		xpath = loc.XPath()
	}
	o.logger.Debug("observer: shadow root discovered",
		"host", host.Tag(), "xpath", xpath, "mode", "open")
}
