package rtlwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/rtlfix/horosafe"
	"github.com/hazyhaar/rtlfix/idgen"
	"github.com/hazyhaar/rtlfix/kit"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// Requests and responses shared by the HTTP and MCP surfaces.

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	RTL bool `json:"rtl"`
}

type annotateRequest struct {
	HTML string `json:"html"`
}

type annotateResponse struct {
	HTML  string     `json:"html"`
	Marks []rtl.Mark `json:"marks"`
}

type pageRequest struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	StealthLevel string `json:"stealth_level"`
	Attach       bool   `json:"attach"`
}

type pageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (w *Watcher) detectEndpoint() kit.Endpoint {
	return func(_ context.Context, req any) (any, error) {
		r := req.(*detectRequest)
		return detectResponse{RTL: rtl.ContainsRTLScript(r.Text)}, nil
	}
}

func (w *Watcher) annotateEndpoint() kit.Endpoint {
	return func(_ context.Context, req any) (any, error) {
		r := req.(*annotateRequest)
		if r.HTML == "" {
			return nil, fmt.Errorf("html is required")
		}
		out, marks, err := w.AnnotateHTML([]byte(r.HTML))
		if err != nil {
			return nil, err
		}
		if marks == nil {
			marks = []rtl.Mark{}
		}
		return annotateResponse{HTML: string(out), Marks: marks}, nil
	}
}

func (w *Watcher) updateSettingsEndpoint() kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		return w.UpdateSettings(ctx, req.(rtl.Update))
	}
}

func (w *Watcher) statsEndpoint() kit.Endpoint {
	return func(context.Context, any) (any, error) {
		return w.Stats(), nil
	}
}

func (w *Watcher) observeEndpoint() kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		r := req.(*pageRequest)
		if err := w.validatePage(r); err != nil {
			return nil, err
		}
		pc := PageConfig{ID: r.ID, URL: r.URL, StealthLevel: r.StealthLevel, Attach: r.Attach}
		if pc.ID == "" {
			pc.ID = idgen.New()
		}
		if err := w.ObservePage(ctx, pc); err != nil {
			return nil, err
		}
		return pageResponse{ID: pc.ID, URL: pc.URL}, nil
	}
}

// validatePage vets a page submitted over the API. Configured pages are
// trusted and skip this.
func (w *Watcher) validatePage(r *pageRequest) error {
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	if err := horosafe.ValidateURL(r.URL, horosafe.URLPolicy{AllowPrivate: w.cfg.HTTP.AllowPrivate}); err != nil {
		return err
	}
	if r.ID != "" {
		return horosafe.ValidateIdentifier(r.ID)
	}
	return nil
}
