package annotate

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/hazyhaar/snapflow/geom"
)

// strokeMask rasterises a polyline of the given width with round caps and
// joins into a coverage mask over bounds. Every shape is emitted with the
// same winding so overlapping pieces union instead of cancelling.
func strokeMask(points []geom.Point, width float64, bounds image.Rectangle) *image.Alpha {
	mask := image.NewAlpha(bounds)
	if bounds.Empty() || len(points) == 0 {
		return mask
	}
	z := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	z.DrawOp = draw.Src
	ox, oy := float64(bounds.Min.X), float64(bounds.Min.Y)
	hw := width / 2

	for i, p := range points {
		disc(z, p.X-ox, p.Y-oy, hw)
		if i == 0 {
			continue
		}
		q := points[i-1]
		segment(z, q.X-ox, q.Y-oy, p.X-ox, p.Y-oy, hw)
	}
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

func segment(z *vector.Rasterizer, x0, y0, x1, y1, hw float64) {
	dx, dy := x1-x0, y1-y0
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*hw, dx/l*hw
	z.MoveTo(float32(x0+nx), float32(y0+ny))
	z.LineTo(float32(x1+nx), float32(y1+ny))
	z.LineTo(float32(x1-nx), float32(y1-ny))
	z.LineTo(float32(x0-nx), float32(y0-ny))
	z.ClosePath()
}

// disc approximates a circle with a polygon wound the same way as segment.
func disc(z *vector.Rasterizer, cx, cy, r float64) {
	const sides = 24
	z.MoveTo(float32(cx+r), float32(cy))
	for i := 1; i < sides; i++ {
		a := -2 * math.Pi * float64(i) / sides
		z.LineTo(float32(cx+r*math.Cos(a)), float32(cy+r*math.Sin(a)))
	}
	z.ClosePath()
}

// paintOver composites c through mask onto dst with source-over.
func paintOver(dst *image.RGBA, mask *image.Alpha, c color.RGBA) {
	draw.DrawMask(dst, mask.Bounds(), image.NewUniform(c), image.Point{}, mask, mask.Bounds().Min, draw.Over)
}

// paintMultiply composites c through mask onto dst with a multiply blend:
// the blended colour is src×dst, mixed with dst by the coverage times the
// colour's alpha.
func paintMultiply(dst *image.RGBA, mask *image.Alpha, c color.NRGBA) {
	r := mask.Bounds().Intersect(dst.Bounds())
	sr, sg, sb := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
	sa := float64(c.A) / 255
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cov := mask.AlphaAt(x, y).A
			if cov == 0 {
				continue
			}
			a := sa * float64(cov) / 255
			i := dst.PixOffset(x, y)
			px := dst.Pix[i : i+4 : i+4]
			px[0] = blend(px[0], sr, a)
			px[1] = blend(px[1], sg, a)
			px[2] = blend(px[2], sb, a)
		}
	}
}

func blend(d uint8, s, a float64) uint8 {
	df := float64(d) / 255
	out := s*df*a + df*(1-a)
	return uint8(math.Round(out * 255))
}
