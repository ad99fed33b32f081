// Package dom is the small DOM capability the scanner works against: read
// text, match the target selectors, mutate presentation attributes. The
// browser observer implements it over CDP; htmldom implements it over a
// parsed HTML tree.
package dom

// Element is a live element handle. Methods that cross a process boundary
// may fail; callers treat every failure as "skip this element".
type Element interface {
	// Key identifies the underlying node for deduplication. Two handles on
	// the same node return the same key.
	Key() string
	// Tag is the lower-case tag name.
	Tag() string
	// Connected reports whether the element is still attached to the document.
	Connected() (bool, error)
	// Text is the rendered text of the element and its descendants.
	Text() (string, error)
	// Matches reports whether the element matches any selector in sel.
	Matches(sel Selectors) (bool, error)
	// Descendants returns the descendants matching sel in document order.
	Descendants(sel Selectors) ([]Element, error)

	HasClass(name string) (bool, error)
	AddClass(name string) error
	RemoveClass(name string) error
	Attr(name string) (string, bool, error)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
}

// Document is the page-level capability: initial query plus root style.
type Document interface {
	QueryAll(sel Selectors) ([]Element, error)
	// SetRootProperty sets a CSS custom property on the root element with
	// !important priority.
	SetRootProperty(name, value string) error
}

// Locator is implemented by elements that know their XPath. Reports use it
// when available.
type Locator interface {
	XPath() string
}
