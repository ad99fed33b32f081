package dom

import "strings"

// Selector is one compound selector of the form
// [parent-tag][.parent-class] > tag[.class][attr="value"]. Empty fields match
// anything. Backends match the rendered CSS with their own engine.
type Selector struct {
	Tag         string
	Class       string
	Attr        string
	AttrValue   string
	ParentTag   string
	ParentClass string
}

// Selectors is a selector list (comma-separated in CSS).
type Selectors []Selector

// Targets are the candidate text containers of AI chat interfaces.
var Targets = Selectors{
	{Tag: "p"},
	{ParentTag: "div", ParentClass: "markdown"},
	{ParentClass: "prose"},
	{Tag: "li"},
	{Tag: "td"},
	{Tag: "h1"},
	{Tag: "h2"},
	{Tag: "h3"},
	{Tag: "span"},
	{Tag: "textarea"},
	{Tag: "div", Attr: "contenteditable", AttrValue: "true"},
}

// Editable are the surfaces that take direct keystroke input.
var Editable = Selectors{
	{Tag: "textarea"},
	{Attr: "contenteditable", AttrValue: "true"},
}

// CSS renders the selector.
func (s Selector) CSS() string {
	var b strings.Builder
	if s.ParentTag != "" || s.ParentClass != "" {
		b.WriteString(compoundCSS(s.ParentTag, s.ParentClass, "", ""))
		b.WriteString(" > ")
	}
	b.WriteString(compoundCSS(s.Tag, s.Class, s.Attr, s.AttrValue))
	return b.String()
}

// CSS renders the list comma-separated.
func (l Selectors) CSS() string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = s.CSS()
	}
	return strings.Join(parts, ", ")
}

func compoundCSS(tag, class, attr, value string) string {
	out := tag
	if class != "" {
		out += "." + class
	}
	if attr != "" {
		out += "[" + attr + `="` + value + `"]`
	}
	if out == "" {
		out = "*"
	}
	return out
}
