// Package shot holds the data exchanged between the capture coordinator,
// the persistence bridge and the image assembler: page metrics, tiles,
// region rectangles and the handoff record written at the end of a session.
package shot

import (
	"fmt"
	"math"
	"time"
)

// Mode selects what a capture session produces.
type Mode string

const (
	ModeFull    Mode = "full"    // scroll-and-stitch over the whole document
	ModeVisible Mode = "visible" // current viewport only
	ModeRegion  Mode = "region"  // user-selected rectangle cropped from the viewport
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeVisible, ModeRegion:
		return Mode(s), nil
	case "":
		return ModeFull, nil
	}
	return "", fmt.Errorf("shot: unknown mode %q", s)
}

// MaxPlausibleExtent bounds any page extent reported by a host, in CSS pixels.
const MaxPlausibleExtent = 1_000_000

// PageMetrics describes the scrollable document at the start of a session.
// Produced once by the probe, immutable afterwards.
type PageMetrics struct {
	FullWidth        int     `json:"fullWidth"`
	FullHeight       int     `json:"fullHeight"`
	ViewportWidth    int     `json:"windowWidth"`
	ViewportHeight   int     `json:"windowHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	OriginalScrollX  int     `json:"originalScrollX"`
	OriginalScrollY  int     `json:"originalScrollY"`
}

// Known reports whether the metrics carry page dimensions. Visible-mode
// handoffs leave them zero.
func (m PageMetrics) Known() bool {
	return m.FullWidth > 0 && m.FullHeight > 0
}

// DPR returns the device pixel ratio, never below 1.
func (m PageMetrics) DPR() float64 {
	if m.DevicePixelRatio < 1 || math.IsNaN(m.DevicePixelRatio) {
		return 1
	}
	return m.DevicePixelRatio
}

// Validate checks the invariants a capture loop relies on.
func (m PageMetrics) Validate() error {
	switch {
	case m.ViewportWidth <= 0 || m.ViewportHeight <= 0:
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidDimensions, m.ViewportWidth, m.ViewportHeight)
	case m.FullWidth <= 0 || m.FullHeight <= 0:
		return fmt.Errorf("%w: document %dx%d", ErrInvalidDimensions, m.FullWidth, m.FullHeight)
	case m.FullWidth < m.ViewportWidth || m.FullHeight < m.ViewportHeight:
		return fmt.Errorf("%w: document %dx%d smaller than viewport %dx%d",
			ErrInvalidDimensions, m.FullWidth, m.FullHeight, m.ViewportWidth, m.ViewportHeight)
	case m.FullWidth > MaxPlausibleExtent || m.FullHeight > MaxPlausibleExtent:
		return fmt.Errorf("%w: document %dx%d exceeds %d", ErrInvalidDimensions,
			m.FullWidth, m.FullHeight, MaxPlausibleExtent)
	case m.DevicePixelRatio < 1 || math.IsNaN(m.DevicePixelRatio) || math.IsInf(m.DevicePixelRatio, 0):
		return fmt.Errorf("%w: device pixel ratio %v", ErrInvalidDimensions, m.DevicePixelRatio)
	}
	return nil
}

// Tile is one rasterised viewport positioned in CSS-pixel page coordinates.
// PageX/PageY are the scroll offsets the host actually reached.
type Tile struct {
	Image  []byte `json:"src"`
	Format string `json:"format"`
	PageX  int    `json:"x"`
	PageY  int    `json:"y"`
	Seq    int    `json:"index"`
}

// RegionRect is a selection in CSS pixels plus the device pixel ratio at
// selection time.
type RegionRect struct {
	X                int     `json:"x"`
	Y                int     `json:"y"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DevicePixelRatio float64 `json:"dpr"`
}

// MinRegionExtent is the exclusive lower bound, in CSS pixels, on both
// sides of a committed selection.
const MinRegionExtent = 5

// Committable reports whether the rectangle is large enough to commit.
func (r RegionRect) Committable() bool {
	return r.Width > MinRegionExtent && r.Height > MinRegionExtent
}

// Handoff is written by the coordinator once a session is done and read
// back by the result surface.
type Handoff struct {
	SessionID string      `json:"id"`
	Mode      Mode        `json:"mode"`
	URL       string      `json:"url,omitempty"`
	Title     string      `json:"title,omitempty"`
	Metrics   PageMetrics `json:"meta"`
	Region    *RegionRect `json:"region,omitempty"`
	Tiles     []Tile      `json:"capturedImages"`
	SavedAt   time.Time   `json:"savedAt"`
}

// Meta is the handoff without tile bytes, cheap to load for the result view.
type Meta struct {
	SessionID string      `json:"id"`
	Mode      Mode        `json:"mode"`
	URL       string      `json:"url,omitempty"`
	Title     string      `json:"title,omitempty"`
	Metrics   PageMetrics `json:"meta"`
	Region    *RegionRect `json:"region,omitempty"`
	TileCount int         `json:"tileCount"`
	SavedAt   time.Time   `json:"savedAt"`

	// TileX and TileY locate the first tile on the page, in CSS pixels.
	// A region is cropped relative to it.
	TileX int `json:"tileX,omitempty"`
	TileY int `json:"tileY,omitempty"`
}

// Meta strips tile bytes.
func (h *Handoff) Meta() Meta {
	var tx, ty int
	if len(h.Tiles) > 0 {
		tx, ty = h.Tiles[0].PageX, h.Tiles[0].PageY
	}
	return Meta{
		TileX:     tx,
		TileY:     ty,
		SessionID: h.SessionID,
		Mode:      h.Mode,
		URL:       h.URL,
		Title:     h.Title,
		Metrics:   h.Metrics,
		Region:    h.Region,
		TileCount: len(h.Tiles),
		SavedAt:   h.SavedAt,
	}
}

// Ready is the result-ready signal emitted to sinks after a handoff is
// persisted.
type Ready struct {
	SessionID string `json:"id"`
	Mode      Mode   `json:"mode"`
	URL       string `json:"url,omitempty"`
	Tiles     int    `json:"tiles"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}
