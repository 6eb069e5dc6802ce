package region

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/snapflow/capture/internal/host"
	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/geom"
)

// ErrAlreadyActive is returned when the page already shows an overlay this
// source did not open. It is a Cancelled failure: no rectangle was chosen.
var ErrAlreadyActive = fmt.Errorf("region: selection already active: %w", shot.ErrCancelled)

// Surface is the page side of interactive selection.
type Surface interface {
	StartRegionSelection(ctx context.Context) (bool, error)
	DrawSelection(ctx context.Context, x, y, w, h int, visible bool) error
	EndRegionSelection(ctx context.Context) error
	Events() <-chan host.Event
}

// Interactive lets a user drag a rectangle over the page.
type Interactive struct {
	surface Surface
	sel     Selector
	logger  *slog.Logger

	mu     sync.Mutex
	active *selection
}

// selection is the outcome of one overlay, shared by every Select that
// arrived while it was open.
type selection struct {
	done chan struct{}
	rect shot.RegionRect
	err  error
}

// NewInteractive creates an interactive source over surface.
func NewInteractive(surface Surface, logger *slog.Logger) *Interactive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interactive{surface: surface, logger: logger}
}

// Select shows the overlay and blocks until a rectangle is committed, the
// user presses Escape (shot.ErrCancelled) or ctx is done. The rectangle is
// in page coordinates: viewport position plus scroll offset. A Select made
// while the overlay is open opens nothing and waits for the same outcome.
func (i *Interactive) Select(ctx context.Context) (shot.RegionRect, error) {
	i.mu.Lock()
	if sel := i.active; sel != nil {
		i.mu.Unlock()
		select {
		case <-sel.done:
			return sel.rect, sel.err
		case <-ctx.Done():
			return shot.RegionRect{}, fmt.Errorf("region: %w", ctx.Err())
		}
	}
	sel := &selection{done: make(chan struct{})}
	i.active = sel
	i.mu.Unlock()

	sel.rect, sel.err = i.run(ctx)

	i.mu.Lock()
	i.active = nil
	i.mu.Unlock()
	close(sel.done)
	return sel.rect, sel.err
}

func (i *Interactive) run(ctx context.Context) (shot.RegionRect, error) {
	if !i.sel.Open() {
		return shot.RegionRect{}, ErrAlreadyActive
	}
	opened, err := i.surface.StartRegionSelection(ctx)
	if err != nil {
		i.sel.Escape()
		return shot.RegionRect{}, fmt.Errorf("region: start: %w", err)
	}
	if !opened {
		i.sel.Escape()
		return shot.RegionRect{}, ErrAlreadyActive
	}
	defer func() {
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := i.surface.EndRegionSelection(ectx); err != nil {
			i.logger.Warn("region: overlay removal failed", "error", err)
		}
	}()

	events := i.surface.Events()
	for {
		select {
		case <-ctx.Done():
			i.sel.Escape()
			return shot.RegionRect{}, fmt.Errorf("region: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				i.sel.Escape()
				return shot.RegionRect{}, fmt.Errorf("region: page closed: %w", shot.ErrCancelled)
			}
			if rect, done, err := i.handle(ctx, ev); done {
				return rect, err
			}
		}
	}
}

func (i *Interactive) handle(ctx context.Context, ev host.Event) (shot.RegionRect, bool, error) {
	switch ev.Type {
	case "key":
		if ev.Key == "Escape" {
			i.sel.Escape()
			i.logger.Info("region: selection cancelled")
			return shot.RegionRect{}, true, shot.ErrCancelled
		}
	case "pointer":
		p := image.Pt(geom.Round(ev.X), geom.Round(ev.Y))
		switch ev.Phase {
		case "down":
			i.sel.Down(p)
		case "move":
			if r, ok := i.sel.Move(p); ok {
				i.draw(ctx, r, true)
			}
		case "up":
			r, ok := i.sel.Up(p)
			if !ok {
				i.draw(ctx, image.Rectangle{}, false)
				return shot.RegionRect{}, false, nil
			}
			rect := shot.RegionRect{
				X:                r.Min.X + geom.Round(ev.ScrollX),
				Y:                r.Min.Y + geom.Round(ev.ScrollY),
				Width:            r.Dx(),
				Height:           r.Dy(),
				DevicePixelRatio: shot.PageMetrics{DevicePixelRatio: ev.DPR}.DPR(),
			}
			i.logger.Info("region: selected", "x", rect.X, "y", rect.Y, "w", rect.Width, "h", rect.Height)
			return rect, true, nil
		}
	}
	return shot.RegionRect{}, false, nil
}

func (i *Interactive) draw(ctx context.Context, r image.Rectangle, visible bool) {
	if err := i.surface.DrawSelection(ctx, r.Min.X, r.Min.Y, r.Dx(), r.Dy(), visible); err != nil {
		i.logger.Debug("region: draw failed", "error", err)
	}
}

// Fixed is a source that returns a rectangle chosen in advance.
type Fixed struct {
	Rect shot.RegionRect
}

// Select returns the fixed rectangle if it is large enough to commit.
func (f Fixed) Select(context.Context) (shot.RegionRect, error) {
	if !f.Rect.Committable() {
		return shot.RegionRect{}, fmt.Errorf("region: %w: %dx%d is not larger than %dx%d",
			shot.ErrInvalidRegion, f.Rect.Width, f.Rect.Height, shot.MinRegionExtent, shot.MinRegionExtent)
	}
	r := f.Rect
	r.DevicePixelRatio = shot.PageMetrics{DevicePixelRatio: r.DevicePixelRatio}.DPR()
	return r, nil
}

// ParseRect parses "x,y,width,height" in CSS pixels.
func ParseRect(s string, dpr float64) (shot.RegionRect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return shot.RegionRect{}, fmt.Errorf("region: %w: want x,y,width,height, got %q", shot.ErrInvalidRegion, s)
	}
	var v [4]int
	for n, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return shot.RegionRect{}, fmt.Errorf("region: %w: %q: %w", shot.ErrInvalidRegion, p, err)
		}
		v[n] = i
	}
	if v[0] < 0 || v[1] < 0 {
		return shot.RegionRect{}, fmt.Errorf("region: %w: negative origin", shot.ErrInvalidRegion)
	}
	return shot.RegionRect{X: v[0], Y: v[1], Width: v[2], Height: v[3], DevicePixelRatio: dpr}, nil
}
