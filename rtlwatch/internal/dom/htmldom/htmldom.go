// Package htmldom implements the dom capability over a golang.org/x/net/html
// tree. It backs static page annotation and lets the scanner pipeline run
// end to end without a browser: AppendHTML and AppendText report mutations
// the same way a MutationObserver would.
package htmldom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

// Document is a parsed HTML document safe for concurrent use.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	observers []func(dom.Mutation)
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Observe registers fn for every subsequent mutation made through the
// Document's mutation methods. fn runs after the change, outside the lock.
func (d *Document) Observe(fn func(dom.Mutation)) {
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
}

func (d *Document) notify(muts []dom.Mutation) {
	d.mu.Lock()
	obs := append(([]func(dom.Mutation))(nil), d.observers...)
	d.mu.Unlock()
	for _, m := range muts {
		for _, fn := range obs {
			fn(m)
		}
	}
}

// Root returns the <html> element.
func (d *Document) Root() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := findAtom(d.root, atom.Html); n != nil {
		return d.wrap(n)
	}
	return nil
}

// Head returns the <head> element.
func (d *Document) Head() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := findAtom(d.root, atom.Head); n != nil {
		return d.wrap(n)
	}
	return nil
}

// Body returns the <body> element.
func (d *Document) Body() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := findAtom(d.root, atom.Body); n != nil {
		return d.wrap(n)
	}
	return nil
}

// QueryAll returns every element under the document matching sel.
func (d *Document) QueryAll(sel dom.Selectors) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.collect(d.root, sel), nil
}

// QueryFirst returns the first element matching sel, or nil.
func (d *Document) QueryFirst(sel dom.Selectors) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if found == nil && matches(n, sel) {
			found = n
		}
		return found == nil
	})
	if found == nil {
		return nil
	}
	return d.wrap(found)
}

// SetRootProperty writes an !important custom property into the style
// attribute of <html>.
func (d *Document) SetRootProperty(name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := findAtom(d.root, atom.Html)
	if root == nil {
		return fmt.Errorf("htmldom: no root element")
	}
	style, _ := getAttr(root, "style")
	setAttr(root, "style", setDeclaration(style, name, value, true))
	return nil
}

// RootProperty returns the value of a custom property on <html>, without
// the priority suffix.
func (d *Document) RootProperty(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := findAtom(d.root, atom.Html)
	if root == nil {
		return "", false
	}
	style, _ := getAttr(root, "style")
	return lookupDeclaration(style, name)
}

// AppendHTML parses fragment in the context of parent, appends the
// resulting nodes and reports one insertion per top-level node.
func (d *Document) AppendHTML(parent *Element, fragment string) ([]*Element, error) {
	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent.n)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	var (
		added []*Element
		muts  []dom.Mutation
	)
	p := d.wrap(parent.n)
	for _, n := range nodes {
		parent.n.AppendChild(n)
		m := dom.Mutation{Kind: dom.ChildInserted, Parent: p}
		if n.Type == html.ElementNode {
			el := d.wrap(n)
			added = append(added, el)
			m.Node = el
		}
		muts = append(muts, m)
	}
	d.mu.Unlock()

	d.notify(muts)
	return added, nil
}

// AppendText appends s to the last text child of el, reporting a
// character-data change. When el has no trailing text node a new one is
// inserted instead.
func (d *Document) AppendText(el *Element, s string) {
	d.mu.Lock()
	m := dom.Mutation{Parent: d.wrap(el.n)}
	if last := el.n.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += s
		m.Kind = dom.CharacterData
	} else {
		el.n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
		m.Kind = dom.ChildInserted
	}
	d.mu.Unlock()

	d.notify([]dom.Mutation{m})
}

// SetText replaces the content of el with a single text node. Replacing
// the data of an existing lone text child reports a character-data change.
func (d *Document) SetText(el *Element, s string) {
	d.mu.Lock()
	m := dom.Mutation{Parent: d.wrap(el.n)}
	if c := el.n.FirstChild; c != nil && c == el.n.LastChild && c.Type == html.TextNode {
		c.Data = s
		m.Kind = dom.CharacterData
	} else {
		for c := el.n.FirstChild; c != nil; c = el.n.FirstChild {
			el.n.RemoveChild(c)
		}
		el.n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
		m.Kind = dom.ChildInserted
	}
	d.mu.Unlock()

	d.notify([]dom.Mutation{m})
}

// Remove detaches el from the document. No mutation is reported.
func (d *Document) Remove(el *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el.n.Parent != nil {
		el.n.Parent.RemoveChild(el.n)
	}
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document.
func (d *Document) String() string {
	var buf bytes.Buffer
	d.Render(&buf)
	return buf.String()
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{doc: d, n: n}
}

func (d *Document) collect(from *html.Node, sel dom.Selectors) []dom.Element {
	var out []dom.Element
	walk(from, func(n *html.Node) bool {
		if n != from && matches(n, sel) {
			out = append(out, d.wrap(n))
		}
		return true
	})
	return out
}

// walk visits n and its descendants in document order. Returning false
// from fn stops the walk.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func findAtom(from *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(from, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}
