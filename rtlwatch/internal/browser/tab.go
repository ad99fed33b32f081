package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is a page under observation.
type Tab struct {
	Page     *rod.Page
	PageURL  string
	PageID   string
	Mode     Mode
	Attached bool // true when the tab belongs to the user and must survive us

	router *rod.HijackRouter
}

// OpenTab creates a tab, applies stealth and resource blocking, and
// navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, mode Mode) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if mode >= ModeHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	tab := &Tab{Page: page, PageURL: pageURL, PageID: pageID, Mode: mode}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		tab.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		tab.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return tab, nil
}

// AttachTab finds an already open tab whose URL starts with urlPrefix. Used
// with a remote browser where the user is logged in to the chat service.
func AttachTab(mgr *Manager, urlPrefix, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, urlPrefix) {
			return &Tab{Page: p, PageURL: info.URL, PageID: pageID, Mode: ModeHeadful, Attached: true}, nil
		}
	}
	return nil, fmt.Errorf("browser: no open tab matches %s", urlPrefix)
}

// Close stops interception and closes the tab unless it was attached.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page == nil || t.Attached {
		return nil
	}
	return t.Page.Close()
}
