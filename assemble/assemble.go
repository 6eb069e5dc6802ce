// Package assemble stitches captured tiles into canvases. Tiles are
// painted at their device-pixel page offsets in sequence order, later
// tiles over earlier ones, and the result is split into vertical parts
// when it would exceed the maximum canvas dimension. Assembly is
// deterministic: the same tiles and metrics always give the same pixels.
package assemble

import (
	"fmt"
	"image"
	"slices"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/geom"
)

// MaxCanvasDimension is the largest canvas side a browser will rasterise.
const MaxCanvasDimension = 32767

// Canvas is one assembled image. PartIndex counts from 0.
type Canvas struct {
	Image     *image.RGBA
	PartIndex int
	PartTotal int
}

// Width in device pixels.
func (c Canvas) Width() int { return c.Image.Bounds().Dx() }

// Height in device pixels.
func (c Canvas) Height() int { return c.Image.Bounds().Dy() }

// Assembler builds canvases.
type Assembler struct {
	// MaxDimension bounds each canvas side. Zero means MaxCanvasDimension.
	MaxDimension int
}

// New creates an Assembler with the given ceiling.
func New(maxDimension int) *Assembler {
	return &Assembler{MaxDimension: maxDimension}
}

func (a *Assembler) ceiling() int {
	if a == nil || a.MaxDimension <= 0 || a.MaxDimension > MaxCanvasDimension {
		return MaxCanvasDimension
	}
	return a.MaxDimension
}

// AssembleHandoff dispatches on the handoff mode.
func (a *Assembler) AssembleHandoff(h *shot.Handoff) ([]Canvas, error) {
	if h.Mode == shot.ModeRegion {
		if h.Region == nil || len(h.Tiles) != 1 {
			return nil, fmt.Errorf("assemble: %w: region capture needs one tile and a rectangle", shot.ErrInvalidRegion)
		}
		c, err := a.AssembleRegion(h.Tiles[0], *h.Region)
		if err != nil {
			return nil, err
		}
		return []Canvas{c}, nil
	}
	return a.Assemble(h.Tiles, h.Metrics)
}

type placed struct {
	img image.Image
	at  image.Rectangle // device pixels on the full page
}

// Assemble composites tiles onto a page-sized canvas, split top to bottom
// into parts no taller than the ceiling. When the page size is unknown
// (visible captures) the first tile's pixel size is used.
func (a *Assembler) Assemble(tiles []shot.Tile, m shot.PageMetrics) ([]Canvas, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("assemble: %w: no tiles", shot.ErrInvalidDimensions)
	}
	ordered := slices.Clone(tiles)
	slices.SortStableFunc(ordered, func(x, y shot.Tile) int { return x.Seq - y.Seq })

	dpr := m.DPR()
	layers := make([]placed, len(ordered))
	for i, t := range ordered {
		img, err := Decode(t)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		at := image.Rect(0, 0, b.Dx(), b.Dy()).Add(image.Pt(geom.ToDevice(t.PageX, dpr), geom.ToDevice(t.PageY, dpr)))
		layers[i] = placed{img: img, at: at}
	}

	var w, h int
	if m.Known() {
		w, h = geom.ToDevice(m.FullWidth, dpr), geom.ToDevice(m.FullHeight, dpr)
	} else {
		w, h = layers[0].at.Dx(), layers[0].at.Dy()
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("assemble: %w: canvas %dx%d", shot.ErrInvalidDimensions, w, h)
	}
	limit := a.ceiling()
	if w > limit {
		return nil, fmt.Errorf("assemble: %w: width %d exceeds %d", shot.ErrInvalidDimensions, w, limit)
	}

	total := geom.CeilDiv(h, limit)
	parts := make([]Canvas, total)
	for p := range total {
		band := image.Rect(0, p*limit, w, min(h, (p+1)*limit))
		dst := image.NewRGBA(image.Rect(0, 0, band.Dx(), band.Dy()))
		for _, l := range layers {
			if !l.at.Overlaps(band) {
				continue
			}
			draw.Draw(dst, l.at.Sub(band.Min), l.img, l.img.Bounds().Min, draw.Src)
		}
		parts[p] = Canvas{Image: dst, PartIndex: p, PartTotal: total}
	}
	return parts, nil
}

// AssembleRegion crops rect, in page CSS pixels, out of a tile captured
// at tile.PageX/PageY. The crop must lie inside the tile.
func (a *Assembler) AssembleRegion(tile shot.Tile, rect shot.RegionRect) (Canvas, error) {
	if !rect.Committable() {
		return Canvas{}, fmt.Errorf("assemble: %w: %dx%d", shot.ErrInvalidRegion, rect.Width, rect.Height)
	}
	img, err := Decode(tile)
	if err != nil {
		return Canvas{}, err
	}
	dpr := shot.PageMetrics{DevicePixelRatio: rect.DevicePixelRatio}.DPR()
	b := img.Bounds()
	src := geom.RectToDevice(rect.X-tile.PageX, rect.Y-tile.PageY, rect.Width, rect.Height, dpr).Add(b.Min)
	if !src.In(b) {
		return Canvas{}, fmt.Errorf("assemble: %w: %v outside tile %v", shot.ErrInvalidRegion, src, b)
	}
	if limit := a.ceiling(); src.Dx() > limit || src.Dy() > limit {
		return Canvas{}, fmt.Errorf("assemble: %w: region %dx%d exceeds %d", shot.ErrInvalidDimensions, src.Dx(), src.Dy(), limit)
	}
	dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	return Canvas{Image: dst, PartIndex: 0, PartTotal: 1}, nil
}

// StackVertical concatenates parts top to bottom.
func StackVertical(parts []Canvas) *image.RGBA {
	var w, h int
	for _, p := range parts {
		w = max(w, p.Width())
		h += p.Height()
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	y := 0
	for _, p := range parts {
		r := image.Rect(0, y, p.Width(), y+p.Height())
		draw.Draw(out, r, p.Image, p.Image.Bounds().Min, draw.Src)
		y += p.Height()
	}
	return out
}

// Preview scales img to width, keeping the aspect ratio. Images already
// narrower than width are returned as an RGBA copy at native size.
func Preview(img image.Image, width int) *image.RGBA {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
		return out
	}
	h := max(1, geom.Round(float64(b.Dy())*float64(width)/float64(b.Dx())))
	out := image.NewRGBA(image.Rect(0, 0, width, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
