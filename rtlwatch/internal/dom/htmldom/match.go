package htmldom

import (
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

// compiled caches selector lists by their CSS text.
var compiled sync.Map

func matcher(sel dom.Selectors) cascadia.Selector {
	text := sel.CSS()
	if m, ok := compiled.Load(text); ok {
		return m.(cascadia.Selector)
	}
	m := cascadia.MustCompile(text)
	compiled.Store(text, m)
	return m
}

func matches(n *html.Node, sel dom.Selectors) bool {
	return n.Type == html.ElementNode && matcher(sel).Match(n)
}
