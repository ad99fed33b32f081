package rtl

import _ "embed"

// Stylesheet restyles active elements from the two custom properties.
// The browser observer injects it into pages; static annotation adds it
// to <head>.
//
//go:embed rtl.css
var Stylesheet string
