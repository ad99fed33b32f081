package observer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

// element is a dom.Element backed by a CDP node. It is created from event
// data without any CDP round-trip; the remote object is resolved on first
// use, which happens at flush time.
type element struct {
	page    *rod.Page
	nodes   *nodeMap
	id      proto.DOMNodeID
	backend proto.DOMBackendNodeID
	tag     string
	xpath   string

	once sync.Once
	el   *rod.Element
	err  error
}

var (
	_ dom.Element  = (*element)(nil)
	_ dom.Locator  = (*element)(nil)
	_ dom.Document = (*pageDocument)(nil)
)

func newElement(page *rod.Page, nodes *nodeMap, info nodeInfo) *element {
	return &element{page: page, nodes: nodes, id: info.ID, backend: info.Backend, tag: info.Tag, xpath: info.XPath}
}

// wrapElement adopts an already resolved rod element. The node map gives
// the XPath when it knows the node.
func wrapElement(page *rod.Page, nodes *nodeMap, re *rod.Element) (*element, error) {
	desc, err := re.Describe(0, false)
	if err != nil {
		return nil, fmt.Errorf("observer: describe node: %w", err)
	}
	e := &element{
		page:    page,
		nodes:   nodes,
		id:      desc.NodeID,
		backend: desc.BackendNodeID,
		tag:     strings.ToLower(desc.NodeName),
		el:      re,
	}
	if info, ok := nodes.infoByBackend(desc.BackendNodeID); ok {
		e.id, e.xpath = info.ID, info.XPath
	}
	e.once.Do(func() {})
	return e, nil
}

func (e *element) resolve() (*rod.Element, error) {
	e.once.Do(func() {
		node := &proto.DOMNode{BackendNodeID: e.backend}
		if e.backend == 0 {
			node.NodeID = e.id
		}
		e.el, e.err = e.page.ElementFromNode(node)
	})
	return e.el, e.err
}

func (e *element) Key() string {
	if e.backend != 0 {
		return fmt.Sprintf("b%d", e.backend)
	}
	return fmt.Sprintf("n%d", e.id)
}

func (e *element) Tag() string   { return e.tag }
func (e *element) XPath() string { return e.xpath }

func (e *element) Connected() (bool, error) {
	el, err := e.resolve()
	if err != nil {
		// Nodes removed before the flush cannot be resolved.
		return false, nil
	}
	res, err := el.Eval(`() => this.isConnected`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *element) Text() (string, error) {
	el, err := e.resolve()
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (e *element) Matches(sel dom.Selectors) (bool, error) {
	el, err := e.resolve()
	if err != nil {
		return false, err
	}
	return el.Matches(sel.CSS())
}

func (e *element) Descendants(sel dom.Selectors) ([]dom.Element, error) {
	el, err := e.resolve()
	if err != nil {
		return nil, err
	}
	found, err := el.Elements(sel.CSS())
	if err != nil {
		return nil, err
	}
	return adopt(e.page, e.nodes, found), nil
}

func (e *element) HasClass(name string) (bool, error) {
	el, err := e.resolve()
	if err != nil {
		return false, err
	}
	res, err := el.Eval(`(c) => this.classList.contains(c)`, name)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *element) AddClass(name string) error {
	return e.call(`(c) => this.classList.add(c)`, name)
}

func (e *element) RemoveClass(name string) error {
	return e.call(`(c) => this.classList.remove(c)`, name)
}

func (e *element) Attr(name string) (string, bool, error) {
	el, err := e.resolve()
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (e *element) SetAttr(name, value string) error {
	return e.call(`(n, v) => this.setAttribute(n, v)`, name, value)
}

func (e *element) RemoveAttr(name string) error {
	return e.call(`(n) => this.removeAttribute(n)`, name)
}

func (e *element) call(js string, args ...interface{}) error {
	el, err := e.resolve()
	if err != nil {
		return err
	}
	_, err = el.Eval(js, args...)
	return err
}

// adopt wraps rod elements, dropping the ones that cannot be described.
func adopt(page *rod.Page, nodes *nodeMap, found rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(found))
	for _, re := range found {
		e, err := wrapElement(page, nodes, re)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// pageDocument is the page-level dom.Document.
type pageDocument struct {
	page  *rod.Page
	nodes *nodeMap
}

func (d *pageDocument) QueryAll(sel dom.Selectors) ([]dom.Element, error) {
	found, err := d.page.Elements(sel.CSS())
	if err != nil {
		return nil, fmt.Errorf("observer: query %s: %w", sel.CSS(), err)
	}
	return adopt(d.page, d.nodes, found), nil
}

func (d *pageDocument) SetRootProperty(name, value string) error {
	_, err := d.page.Eval(`(n, v) => document.documentElement.style.setProperty(n, v, 'important')`, name, value)
	if err != nil {
		return fmt.Errorf("observer: set %s: %w", name, err)
	}
	return nil
}
