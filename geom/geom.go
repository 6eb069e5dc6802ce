// Package geom is the one place where coordinates change space: CSS page
// pixels to device pixels for the assembler, and display pixels to native
// canvas pixels for annotation. All rounding goes through Round.
package geom

import (
	"image"
	"math"
)

// Point is a position in some pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Round converts a scaled coordinate to an integer pixel, half away from zero.
func Round(v float64) int {
	return int(math.Round(v))
}

// ToDevice scales a CSS-pixel length or offset by the device pixel ratio.
func ToDevice(css int, dpr float64) int {
	return Round(float64(css) * dpr)
}

// RectToDevice scales a CSS-pixel rectangle. Both corners are scaled and
// rounded independently so adjacent rectangles stay adjacent.
func RectToDevice(x, y, w, h int, dpr float64) image.Rectangle {
	return image.Rect(
		ToDevice(x, dpr), ToDevice(y, dpr),
		ToDevice(x+w, dpr), ToDevice(y+h, dpr),
	)
}

// Scaler maps display coordinates to native canvas coordinates when the
// canvas is shown scaled down (or up).
type Scaler struct {
	NativeW, NativeH   int
	DisplayW, DisplayH float64
}

// ToNative rescales p by the ratio of native to displayed size. A zero
// display size means the canvas is shown at native size.
func (s Scaler) ToNative(p Point) Point {
	sx, sy := 1.0, 1.0
	if s.DisplayW > 0 {
		sx = float64(s.NativeW) / s.DisplayW
	}
	if s.DisplayH > 0 {
		sy = float64(s.NativeH) / s.DisplayH
	}
	return Point{X: p.X * sx, Y: p.Y * sy}
}

// CeilDiv returns ⌈a/b⌉ for positive b.
func CeilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
