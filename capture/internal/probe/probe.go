// Package probe measures the scrollable extent, viewport and pixel density
// of the page a session captures.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Surface answers get_dimensions. The page scrolls itself to the origin
// and records where it was before measuring.
type Surface interface {
	Dimensions(ctx context.Context) (shot.PageMetrics, error)
}

// Probe turns raw page answers into validated PageMetrics.
type Probe struct {
	surface Surface
	logger  *slog.Logger
}

// New creates a Probe over surface.
func New(surface Surface, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{surface: surface, logger: logger}
}

// Measure asks the page for its metrics, normalises them and validates the
// result. It does not restore the scroll position; the coordinator does.
func (p *Probe) Measure(ctx context.Context) (shot.PageMetrics, error) {
	m, err := p.surface.Dimensions(ctx)
	if err != nil {
		return shot.PageMetrics{}, fmt.Errorf("probe: %w: %w", shot.ErrMetricsUnavailable, err)
	}

	m = Normalize(m)
	if err := m.Validate(); err != nil {
		return shot.PageMetrics{}, fmt.Errorf("probe: %w", err)
	}

	p.logger.Debug("probe: measured",
		"full", fmt.Sprintf("%dx%d", m.FullWidth, m.FullHeight),
		"viewport", fmt.Sprintf("%dx%d", m.ViewportWidth, m.ViewportHeight),
		"dpr", m.DevicePixelRatio)
	return m, nil
}

// Normalize repairs what layout engines are known to misreport: a pixel
// ratio below 1 and a document reported smaller than its own viewport.
// Non-positive extents are left for Validate to reject.
func Normalize(m shot.PageMetrics) shot.PageMetrics {
	if m.DevicePixelRatio < 1 || math.IsNaN(m.DevicePixelRatio) || math.IsInf(m.DevicePixelRatio, 0) {
		m.DevicePixelRatio = 1
	}
	if m.ViewportWidth > 0 && m.FullWidth > 0 && m.FullWidth < m.ViewportWidth {
		m.FullWidth = m.ViewportWidth
	}
	if m.ViewportHeight > 0 && m.FullHeight > 0 && m.FullHeight < m.ViewportHeight {
		m.FullHeight = m.ViewportHeight
	}
	return m
}
