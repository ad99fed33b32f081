package htmldom

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// parseDeclarations reads an inline style attribute. Declarations after a
// syntax error are dropped, as a browser would.
func parseDeclarations(style string) []*css.Declaration {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil
	}
	// The parser only closes a declaration on ';' or '}'.
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	decls, _ := parser.ParseDeclarations(style)
	out := decls[:0]
	for _, d := range decls {
		if d.Property != "" {
			out = append(out, d)
		}
	}
	return out
}

// setDeclaration replaces or appends name in style.
func setDeclaration(style, name, value string, important bool) string {
	decls := parseDeclarations(style)
	replaced := false
	for _, d := range decls {
		if d.Property == name {
			d.Value, d.Important = value, important
			replaced = true
		}
	}
	if !replaced {
		decls = append(decls, &css.Declaration{Property: name, Value: value, Important: important})
	}
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.String()
	}
	return strings.Join(parts, " ")
}

// lookupDeclaration returns the value of name in style, without priority.
func lookupDeclaration(style, name string) (string, bool) {
	for _, d := range parseDeclarations(style) {
		if d.Property == name {
			return d.Value, true
		}
	}
	return "", false
}
