package fetcher

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// spaMarkers are empty mount points and no-JS notices of client-rendered
// shells.
var spaMarkers = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`<noscript>you need to enable javascript`,
	`<noscript>enable javascript`,
}

// IsSufficient reports whether the markup holds enough visible text that
// a browser is not needed. Chat interfaces are client-rendered and fail
// this check.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}

	lower := bytes.ToLower(body)
	for _, m := range spaMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return false
		}
	}

	text, markup := textMarkupRatio(body)
	total := text + markup
	if total == 0 || text < 200 {
		return false
	}
	// Under 10% text is a shell of scripts and empty containers.
	return float64(text)/float64(total) >= 0.10
}

// textMarkupRatio counts non-whitespace visible text bytes against
// everything else (tags, scripts, styles).
func textMarkupRatio(body []byte) (text, markup int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return text, markup
		case html.TextToken:
			raw := z.Raw()
			if skip > 0 {
				markup += len(raw)
				continue
			}
			text += len(strings.Map(dropSpace, string(raw)))
		case html.StartTagToken:
			markup += len(z.Raw())
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			markup += len(z.Raw())
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}
		default:
			markup += len(z.Raw())
		}
	}
}

func isRawText(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func dropSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return -1
	}
	return r
}
