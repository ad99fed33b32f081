package scanner

import (
	"log/slog"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

const excerptLen = 80

// Result accumulates the outcome of a scan pass.
type Result struct {
	Scanned int
	Marks   []rtl.Mark
}

func (r *Result) add(o Result) {
	r.Scanned += o.Scanned
	r.Marks = append(r.Marks, o.Marks...)
}

// Scanner tests element text and writes the markers.
type Scanner struct {
	targets dom.Selectors
	logger  *slog.Logger
}

// New creates a Scanner over the default target selectors.
func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{targets: dom.Targets, logger: logger}
}

// Targets returns the selector list the scanner matches.
func (s *Scanner) Targets() dom.Selectors { return s.targets }

// ScanElement tests one element and marks it. Every scanned element gets
// the processed marker; RTL elements also get the active class and
// dir="rtl". Active elements are left untouched.
func (s *Scanner) ScanElement(el dom.Element) Result {
	var res Result
	if !Eligible(el) {
		return res
	}

	text, err := el.Text()
	if err != nil {
		s.logger.Debug("scanner: read text failed", "tag", el.Tag(), "error", err)
		return res
	}
	res.Scanned = 1

	if rtl.ContainsRTLScript(text) {
		if err := el.AddClass(rtl.ActiveClass); err != nil {
			s.logger.Debug("scanner: add class failed", "tag", el.Tag(), "error", err)
			return res
		}
		if err := el.SetAttr(rtl.DirAttr, rtl.DirRTL); err != nil {
			s.logger.Debug("scanner: set dir failed", "tag", el.Tag(), "error", err)
		}
		res.Marks = append(res.Marks, markOf(el, text))
	}

	if err := el.SetAttr(rtl.CheckedAttr, rtl.CheckedValue); err != nil {
		s.logger.Debug("scanner: set checked failed", "tag", el.Tag(), "error", err)
	}
	return res
}

// ScanSubtree scans el itself when it matches the targets, then every
// matching descendant. A detached or ineligible root is skipped whole.
func (s *Scanner) ScanSubtree(el dom.Element) Result {
	var res Result
	if !Eligible(el) {
		return res
	}
	if ok, err := el.Connected(); err != nil || !ok {
		return res
	}

	if ok, err := el.Matches(s.targets); err == nil && ok {
		res.add(s.ScanElement(el))
	}

	desc, err := el.Descendants(s.targets)
	if err != nil {
		s.logger.Debug("scanner: query descendants failed", "tag", el.Tag(), "error", err)
		return res
	}
	for _, d := range desc {
		res.add(s.ScanElement(d))
	}
	return res
}

// ScanDocument scans every target element of the document.
func (s *Scanner) ScanDocument(doc dom.Document) (Result, error) {
	var res Result
	els, err := doc.QueryAll(s.targets)
	if err != nil {
		return res, err
	}
	for _, el := range els {
		res.add(s.ScanElement(el))
	}
	return res, nil
}

// ScanInput is the immediate path for keystrokes into a textarea or an
// editable container: the active marker is cleared and the element
// rescanned now, so deleting the RTL text reverts the classification.
// Scheduled flushes never clear the marker.
func (s *Scanner) ScanInput(el dom.Element) Result {
	if el == nil {
		return Result{}
	}
	if ok, err := el.Matches(dom.Editable); err != nil || !ok {
		return Result{}
	}
	if err := el.RemoveClass(rtl.ActiveClass); err != nil {
		s.logger.Debug("scanner: remove class failed", "tag", el.Tag(), "error", err)
		return Result{}
	}
	if err := el.RemoveAttr(rtl.DirAttr); err != nil {
		s.logger.Debug("scanner: remove dir failed", "tag", el.Tag(), "error", err)
	}
	return s.ScanElement(el)
}

func markOf(el dom.Element, text string) rtl.Mark {
	m := rtl.Mark{Tag: el.Tag(), Excerpt: rtl.Excerpt(text, excerptLen)}
	if l, ok := el.(dom.Locator); ok {
		m.XPath = l.XPath()
	}
	return m
}
