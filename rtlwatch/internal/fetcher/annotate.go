package fetcher

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/rtlfix/idgen"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom/htmldom"
	"github.com/hazyhaar/rtlfix/rtlwatch/internal/scanner"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// Annotator runs the scanner over a static document. Input is sanitised
// first, then scanned; the markers and the root custom properties are
// written after sanitising so they survive intact.
type Annotator struct {
	scanner *scanner.Scanner
	policy  *bluemonday.Policy
	logger  *slog.Logger
}

// NewAnnotator creates an Annotator.
func NewAnnotator(logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{
		scanner: scanner.New(logger),
		policy:  Policy(),
		logger:  logger,
	}
}

// Policy is the sanitising policy for annotated output: user-generated
// content plus the document skeleton and the attributes the scanner reads
// or writes.
func Policy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title", "main", "section", "article", "header", "footer", "nav", "textarea")
	p.AllowAttrs("dir", "lang", "class").Globally()
	p.AllowAttrs("contenteditable").Matching(regexp.MustCompile(`^(true|false)$`)).Globally()
	p.AllowDataAttributes()
	return p
}

// Annotation is the result of annotating one document.
type Annotation struct {
	HTML    []byte
	Marks   []rtl.Mark
	Scanned int
}

// Annotate sanitises body, marks RTL elements, sets the preference
// properties on <html> and adds the stylesheet to <head>.
func (a *Annotator) Annotate(body []byte, prefs rtl.Preferences) (*Annotation, error) {
	clean := a.policy.SanitizeBytes(body)

	doc, err := htmldom.Parse(bytes.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("fetcher: annotate: %w", err)
	}
	res, err := a.scanner.ScanDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("fetcher: annotate: %w", err)
	}
	if err := scanner.ApplyPreferences(doc, prefs.Full()); err != nil {
		return nil, fmt.Errorf("fetcher: annotate: %w", err)
	}
	if head := doc.Head(); head != nil {
		if _, err := doc.AppendHTML(head, "<style data-rtlwatch>"+rtl.Stylesheet+"</style>"); err != nil {
			return nil, fmt.Errorf("fetcher: annotate: %w", err)
		}
	}

	var out bytes.Buffer
	if err := doc.Render(&out); err != nil {
		return nil, fmt.Errorf("fetcher: render: %w", err)
	}
	a.logger.Debug("fetcher: annotated", "scanned", res.Scanned, "marked", len(res.Marks), "size", out.Len())
	return &Annotation{HTML: out.Bytes(), Marks: res.Marks, Scanned: res.Scanned}, nil
}

// Snapshot annotates a fetched page and wraps it for the sinks.
func (a *Annotator) Snapshot(pageURL, pageID string, body []byte, prefs rtl.Preferences) (rtl.Snapshot, error) {
	ann, err := a.Annotate(body, prefs)
	if err != nil {
		return rtl.Snapshot{}, err
	}
	return rtl.Snapshot{
		ID:          idgen.New(),
		PageURL:     pageURL,
		PageID:      pageID,
		HTML:        ann.HTML,
		HTMLHash:    rtl.HashHTML(ann.HTML),
		Marks:       ann.Marks,
		Preferences: prefs,
		Timestamp:   time.Now().UnixMilli(),
	}, nil
}
