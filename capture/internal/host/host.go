// Package host is the typed request/response boundary between the capture
// coordinator and the page being captured. Requests are JSON messages keyed
// by an action tag, dispatched to an in-page script installed by Inject;
// out-of-band page events (region selection input) come back through a
// CDP binding. Every round trip carries a timeout.
package host

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/snapflow/capture/shot"
)

//go:embed content.js
var contentJS string

// BindingName is the page-side function events are emitted through.
const BindingName = "__snapflow_binding"

const (
	installJS  = "() => {\n" + "%s" + "\n}"
	dispatchJS = `(msg) => window.__snapflow
		? window.__snapflow.handle(msg)
		: JSON.stringify({status: "error", message: "capture surface not installed"})`
)

// Actions understood by the in-page surface.
const (
	ActionGetDimensions  = "get_dimensions"
	ActionPrepare        = "prepare_capture"
	ActionScrollTo       = "scroll_to"
	ActionProgress       = "progress"
	ActionGetScroll      = "get_scroll"
	ActionFinish         = "finish_capture"
	ActionStartSelection = "start_region_selection"
	ActionDrawSelection  = "draw_selection"
	ActionEndSelection   = "end_region_selection"
	actionCapture        = "capture_visible"
)

// Page is the part of a browser tab the channel drives. browser.Tab
// implements it over rod; tests provide fakes.
type Page interface {
	// Eval calls a JavaScript function declaration with args and returns
	// its result as a string.
	Eval(ctx context.Context, js string, args ...any) (string, error)
	// Screenshot captures the visible viewport.
	Screenshot(ctx context.Context, format string, quality int) ([]byte, error)
	// Bind exposes a page-side function and streams its payloads until
	// ctx is done.
	Bind(ctx context.Context, name string) (<-chan string, error)
}

// Config configures a Client.
type Config struct {
	// Timeout bounds every request/response round trip. Default: 30s.
	Timeout time.Duration

	// Format of captured tiles: png, jpeg or webp. Default: png.
	Format string

	// Quality for jpeg/webp tiles, 0-100. Default: 90.
	Quality int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Format == "" {
		c.Format = "png"
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 90
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is the typed channel to one page.
type Client struct {
	page   Page
	cfg    Config
	events chan Event
}

// New creates a Client for page. Call Inject before any other request.
func New(page Page, cfg Config) *Client {
	cfg.defaults()
	return &Client{page: page, cfg: cfg, events: make(chan Event, 64)}
}

// Format returns the tile format this client captures.
func (c *Client) Format() string { return c.cfg.Format }

// Inject installs the capture surface and starts forwarding page events.
// The event stream lives as long as ctx. Installing twice is harmless.
func (c *Client) Inject(ctx context.Context) error {
	raw, err := c.page.Bind(ctx, BindingName)
	if err != nil {
		return fmt.Errorf("%w: bind: %w", shot.ErrInjectionFailed, err)
	}
	go c.forward(ctx, raw)

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if _, err := c.page.Eval(callCtx, fmt.Sprintf(installJS, contentJS)); err != nil {
		if timedOut(callCtx, err) {
			return fmt.Errorf("%w: %w", shot.ErrInjectionFailed, &ErrCallTimeout{Action: "inject", After: c.cfg.Timeout})
		}
		return fmt.Errorf("%w: %w", shot.ErrInjectionFailed, err)
	}
	c.cfg.Logger.Debug("host: capture surface installed")
	return nil
}

// Events streams pointer and key events from the region overlay.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) forward(ctx context.Context, raw <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-raw:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				c.cfg.Logger.Warn("host: malformed page event", "error", err)
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.cfg.Logger.Warn("host: event dropped, consumer too slow", "type", ev.Type)
			}
		}
	}
}

// Dimensions asks the page for its metrics. The page scrolls to its origin
// before measuring.
func (c *Client) Dimensions(ctx context.Context) (shot.PageMetrics, error) {
	var m shot.PageMetrics
	err := c.call(ctx, ActionGetDimensions, nil, &m)
	return m, err
}

// Prepare hides fixed/sticky chrome (when hideFixed), suppresses root
// scrollbars and shows the progress indicator. It returns how many
// elements were hidden.
func (c *Client) Prepare(ctx context.Context, hideFixed bool) (int, error) {
	var resp struct {
		Hidden int `json:"hidden"`
	}
	err := c.call(ctx, ActionPrepare, map[string]any{"hideFixed": hideFixed}, &resp)
	return resp.Hidden, err
}

// ScrollTo scrolls the page and reports the position actually reached,
// which is clamped near document edges.
func (c *Client) ScrollTo(ctx context.Context, req ScrollRequest) (Position, error) {
	var pos Position
	err := c.call(ctx, ActionScrollTo, req, &pos)
	return pos, err
}

// Progress updates and re-shows the progress indicator between tiles.
func (c *Client) Progress(ctx context.Context, index, total int) error {
	return c.call(ctx, ActionProgress, map[string]any{"index": index, "total": total}, nil)
}

// ScrollPosition reports the current scroll offsets.
func (c *Client) ScrollPosition(ctx context.Context) (Position, error) {
	var pos Position
	err := c.call(ctx, ActionGetScroll, nil, &pos)
	return pos, err
}

// Finish restores stabilised elements, removes the progress indicator and
// optionally scrolls back to where the page was before measuring.
func (c *Client) Finish(ctx context.Context, restoreScroll bool) error {
	return c.call(ctx, ActionFinish, map[string]any{"restoreScroll": restoreScroll}, nil)
}

// StartRegionSelection shows the crosshair overlay. It returns false if an
// overlay is already active on the page.
func (c *Client) StartRegionSelection(ctx context.Context) (bool, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, ActionStartSelection, nil, &resp); err != nil {
		return false, err
	}
	return resp.Status != "already_active", nil
}

// DrawSelection renders the live selection box, in viewport CSS pixels.
func (c *Client) DrawSelection(ctx context.Context, x, y, w, h int, visible bool) error {
	return c.call(ctx, ActionDrawSelection, map[string]any{
		"x": x, "y": y, "width": w, "height": h, "visible": visible,
	}, nil)
}

// EndRegionSelection removes the overlay.
func (c *Client) EndRegionSelection(ctx context.Context) error {
	return c.call(ctx, ActionEndSelection, nil, nil)
}

// CaptureVisible rasterises the current viewport. It must only be called
// after the settle delay following a scroll.
func (c *Client) CaptureVisible(ctx context.Context) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	img, err := c.page.Screenshot(callCtx, c.cfg.Format, c.cfg.Quality)
	if err != nil {
		if timedOut(callCtx, err) {
			return nil, &ErrCallTimeout{Action: actionCapture, After: c.cfg.Timeout}
		}
		return nil, fmt.Errorf("%w: %w", shot.ErrCaptureFailed, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image", shot.ErrCaptureFailed)
	}
	return img, nil
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, action string, req any, out any) error {
	msg, err := encode(action, req)
	if err != nil {
		return fmt.Errorf("host: %s: encode: %w", action, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := c.page.Eval(callCtx, dispatchJS, string(msg))
	if err != nil {
		if timedOut(callCtx, err) {
			return &ErrCallTimeout{Action: action, After: c.cfg.Timeout}
		}
		return &ErrActionFailed{Action: action, Cause: err}
	}
	if raw == "" || raw == "null" || raw == "undefined" {
		return &ErrActionFailed{Action: action, Message: "no response"}
	}

	var env struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return &ErrActionFailed{Action: action, Message: "malformed response", Cause: err}
	}
	if env.Status == "error" {
		return &ErrActionFailed{Action: action, Message: env.Message}
	}
	if out != nil {
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			return &ErrActionFailed{Action: action, Message: "malformed response", Cause: err}
		}
	}
	return nil
}

func encode(action string, req any) ([]byte, error) {
	fields := map[string]any{}
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}
	fields["action"] = action
	return json.Marshal(fields)
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
