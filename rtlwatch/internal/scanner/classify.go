// Package scanner is the mutation-driven RTL scanner: it classifies
// elements, tests their text, marks RTL content and coalesces bursts of
// mutations into one scan per quiet window.
package scanner

import (
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// excludedTags never hold prose, whatever their text.
var excludedTags = map[string]bool{
	"script": true,
	"style":  true,
	"code":   true,
	"pre":    true,
}

// Eligible reports whether el may be scanned. Elements already marked
// active are terminal. Elements that were scanned and found not to be RTL
// stay eligible: streamed text can turn RTL as more tokens arrive.
func Eligible(el dom.Element) bool {
	if el == nil {
		return false
	}
	if excludedTags[el.Tag()] {
		return false
	}
	active, err := el.HasClass(rtl.ActiveClass)
	if err != nil {
		return false
	}
	return !active
}
