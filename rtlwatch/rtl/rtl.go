// Package rtl defines the detection rule, the DOM markers and the report
// types shared by every rtlwatch component. Consumers (sinks, HTTP clients,
// MCP tools) import this package to interpret what the scanner emits.
package rtl

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Markers written onto content elements.
const (
	ActiveClass   = "ai-rtl-active"    // element classified as RTL and restyled
	CheckedAttr   = "data-rtl-checked" // element scanned at least once
	CheckedValue  = "true"
	DirAttr       = "dir"
	DirRTL        = "rtl"
	FontSizeVar   = "--ai-rtl-font-size"
	LineHeightVar = "--ai-rtl-line-height"
)

// Arabic block. Persian letters live in the same block.
const (
	blockStart = '\u0600'
	blockEnd   = '\u06FF'
)

// ContainsRTLScript reports whether text holds at least one character of the
// Arabic/Persian block and more than one character once surrounding
// whitespace is trimmed.
func ContainsRTLScript(text string) bool {
	t := strings.TrimFunc(text, isPageSpace)
	if utf8.RuneCountInString(t) <= 1 {
		return false
	}
	for _, r := range t {
		if r >= blockStart && r <= blockEnd {
			return true
		}
	}
	return false
}

// isPageSpace is the whitespace set of String.prototype.trim: line
// terminators, BOM and the Zs category. U+0085 is not part of it.
func isPageSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', '\u2028', '\u2029', '\ufeff':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// Excerpt returns at most n runes of text with whitespace collapsed. Used to
// keep reports small.
func Excerpt(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
