package htmldom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

// Element is a handle on an element node of a Document.
type Element struct {
	doc *Document
	n   *html.Node
}

var _ dom.Element = (*Element)(nil)

// Key is the node's address; stable for the node's lifetime.
func (e *Element) Key() string { return fmt.Sprintf("%p", e.n) }

func (e *Element) Tag() string { return strings.ToLower(e.n.Data) }

func (e *Element) Connected() (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for n := e.n; n != nil; n = n.Parent {
		if n == e.doc.root {
			return true, nil
		}
	}
	return false, nil
}

// Text approximates innerText: text of descendant text nodes, skipping
// non-rendered containers.
func (e *Element) Text() (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	collectText(e.n, &b)
	return b.String(), nil
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func (e *Element) Matches(sel dom.Selectors) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return matches(e.n, sel), nil
}

func (e *Element) Descendants(sel dom.Selectors) ([]dom.Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.collect(e.n, sel), nil
}

func (e *Element) HasClass(name string) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return hasClass(e.n, name), nil
}

func (e *Element) AddClass(name string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if hasClass(e.n, name) {
		return nil
	}
	cls, _ := getAttr(e.n, "class")
	setAttr(e.n, "class", strings.TrimSpace(cls+" "+name))
	return nil
}

func (e *Element) RemoveClass(name string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	cls, ok := getAttr(e.n, "class")
	if !ok {
		return nil
	}
	var kept []string
	for _, c := range strings.Fields(cls) {
		if c != name {
			kept = append(kept, c)
		}
	}
	setAttr(e.n, "class", strings.Join(kept, " "))
	return nil
}

func (e *Element) Attr(name string) (string, bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := getAttr(e.n, name)
	return v, ok, nil
}

func (e *Element) SetAttr(name, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.n, name, value)
	return nil
}

func (e *Element) RemoveAttr(name string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	kept := e.n.Attr[:0]
	for _, a := range e.n.Attr {
		if a.Namespace != "" || a.Key != name {
			kept = append(kept, a)
		}
	}
	e.n.Attr = kept
	return nil
}

// XPath locates the element for reports.
func (e *Element) XPath() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var parts []string
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		idx, total := 1, 1
		if n.Parent != nil {
			total = 0
			for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
				if s.Type == html.ElementNode && s.Data == n.Data {
					total++
					if s == n {
						idx = total
					}
				}
			}
		}
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", n.Data, idx))
		} else {
			parts = append(parts, n.Data)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func hasClass(n *html.Node, name string) bool {
	cls, _ := getAttr(n, "class")
	for _, c := range strings.Fields(cls) {
		if c == name {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}
