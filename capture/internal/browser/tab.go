package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is one page leased from the Manager for the length of a capture
// session. It implements host.Page.
type Tab struct {
	Page   *rod.Page
	URL    string
	router *rod.HijackRouter
	mgr    *Manager
}

// OpenTab creates a stealth tab sized to the configured viewport and
// navigates it to pageURL. The tab pins the current Chrome process until
// Close.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	b, err := m.lease()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		m.release()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, URL: pageURL, mgr: m}

	err = proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: m.cfg.DeviceScaleFactor,
	}.Call(page)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	t.router = blockResources(page, m.cfg.ResourceBlocking)

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}
	return t, nil
}

// Title returns the document title, or "" if it cannot be read.
func (t *Tab) Title(ctx context.Context) string {
	info, err := t.Page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.Title
}

// Eval calls a function declaration in the page and returns its result as
// a string.
func (t *Tab) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := t.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Screenshot captures the visible viewport.
func (t *Tab) Screenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormat(format)}
	if format != "png" {
		q := quality
		req.Quality = &q
	}
	return t.Page.Context(ctx).Screenshot(false, req)
}

// Bind exposes a page-side function named name and streams the payloads
// it is called with until ctx is done.
func (t *Tab) Bind(ctx context.Context, name string) (<-chan string, error) {
	if err := (proto.RuntimeAddBinding{Name: name}).Call(t.Page); err != nil {
		return nil, fmt.Errorf("browser: add binding %s: %w", name, err)
	}

	out := make(chan string, 64)
	wait := t.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != name {
			return
		}
		select {
		case out <- e.Payload:
		default:
			t.mgr.cfg.Logger.Warn("browser: binding payload dropped", "binding", name)
		}
	})
	go func() {
		wait()
		close(out)
	}()
	return out, nil
}

// Close closes the page and returns the lease.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
		t.router = nil
	}
	var err error
	if t.Page != nil {
		err = t.Page.Close()
		t.Page = nil
		t.mgr.release()
	}
	return err
}
