// Package annotate draws freehand pen and highlighter strokes over an
// assembled canvas, with a bounded undo history of full-canvas snapshots.
package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/snapflow/assemble"
	"github.com/hazyhaar/snapflow/geom"
)

// Tool is the active drawing tool.
type Tool int

const (
	ToolNone Tool = iota
	ToolPen
	ToolHighlighter
)

func (t Tool) String() string {
	switch t {
	case ToolPen:
		return "pen"
	case ToolHighlighter:
		return "highlighter"
	}
	return "none"
}

// ParseTool maps a name to a Tool.
func ParseTool(s string) (Tool, error) {
	switch s {
	case "", "none":
		return ToolNone, nil
	case "pen":
		return ToolPen, nil
	case "highlighter":
		return ToolHighlighter, nil
	}
	return ToolNone, fmt.Errorf("annotate: unknown tool %q", s)
}

// Stroke styles, in native canvas pixels.
var (
	PenColor         = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	HighlighterColor = color.NRGBA{R: 0xff, G: 0xff, B: 0x00, A: 102} // rgba(255,255,0,0.4)
)

const (
	PenWidth         = 3
	HighlighterWidth = 20
)

// History bounds.
const (
	DefaultHistory = 10
	MinHistory     = 2
	MaxHistory     = 20
)

var (
	ErrNoTool       = errors.New("annotate: no tool selected")
	ErrToolInactive = errors.New("annotate: tool is not the active one")
	ErrNoStroke     = errors.New("annotate: no stroke in progress")
	ErrEmptyStroke  = errors.New("annotate: stroke has no points")
)

type stroke struct {
	tool   Tool
	points []geom.Point
	base   *image.RGBA // canvas before the stroke
	dirty  image.Rectangle
}

// Engine owns one canvas. It is safe for concurrent use; strokes are
// applied in call order.
type Engine struct {
	mu      sync.Mutex
	canvas  *image.RGBA
	tool    Tool
	scaler  geom.Scaler
	hist    *history
	current *stroke
}

// New creates an Engine over a copy of img. historySize is clamped to
// [MinHistory, MaxHistory]; zero means DefaultHistory. The pristine image
// is the first history entry.
func New(img image.Image, historySize int) *Engine {
	if historySize == 0 {
		historySize = DefaultHistory
	}
	historySize = min(max(historySize, MinHistory), MaxHistory)

	canvas := clone(img)
	b := canvas.Bounds()
	e := &Engine{
		canvas: canvas,
		scaler: geom.Scaler{NativeW: b.Dx(), NativeH: b.Dy()},
		hist:   newHistory(historySize),
	}
	e.hist.push(clone(canvas))
	return e
}

// Toggle selects t, or deactivates drawing if t is already active. It
// returns the tool now active.
func (e *Engine) Toggle(t Tool) Tool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tool == t {
		e.tool = ToolNone
	} else {
		e.tool = t
	}
	return e.tool
}

// Tool returns the active tool.
func (e *Engine) Tool() Tool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tool
}

// SetDisplaySize records the size the canvas is shown at. Stroke points
// are given in that space. Zero means native size.
func (e *Engine) SetDisplaySize(w, h float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scaler.DisplayW, e.scaler.DisplayH = w, h
}

// BeginStroke starts a stroke at p in display coordinates. ToolNone uses
// the active tool; any other tool must be the active one. A stroke already
// in progress is ended first.
func (e *Engine) BeginStroke(t Tool, p geom.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.resolveLocked(t)
	if err != nil {
		return err
	}
	e.startLocked(t)
	e.addLocked(e.scaler.ToNative(p))
	return nil
}

// Stroke draws a complete stroke in one step. points are in a display of
// displayW x displayH; zero means native size. The stroke lands in the
// history as a single entry and no other call can interleave with it.
func (e *Engine) Stroke(t Tool, points []geom.Point, displayW, displayH float64) error {
	if len(points) == 0 {
		return ErrEmptyStroke
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.resolveLocked(t)
	if err != nil {
		return err
	}
	sc := e.scaler
	sc.DisplayW, sc.DisplayH = displayW, displayH
	native := make([]geom.Point, len(points))
	for i, p := range points {
		native[i] = sc.ToNative(p)
	}
	e.startLocked(t)
	e.addLocked(native...)
	e.endLocked()
	return nil
}

func (e *Engine) resolveLocked(t Tool) (Tool, error) {
	if e.tool == ToolNone {
		return ToolNone, ErrNoTool
	}
	if t != ToolNone && t != e.tool {
		return ToolNone, fmt.Errorf("%w: %s requested, %s active", ErrToolInactive, t, e.tool)
	}
	return e.tool, nil
}

func (e *Engine) startLocked(t Tool) {
	if e.current != nil {
		e.endLocked()
	}
	e.current = &stroke{tool: t, base: clone(e.canvas)}
}

// ExtendStroke adds p to the stroke in progress.
func (e *Engine) ExtendStroke(p geom.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ErrNoStroke
	}
	e.addLocked(e.scaler.ToNative(p))
	return nil
}

// EndStroke commits the stroke and pushes a snapshot onto the history.
func (e *Engine) EndStroke() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ErrNoStroke
	}
	e.endLocked()
	return nil
}

// Undo restores the previous state. A stroke in progress is discarded
// instead. It returns false, doing nothing, at the pristine state.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.canvas = e.current.base
		e.current = nil
		return true
	}
	if !e.hist.pop() {
		return false
	}
	e.canvas = clone(e.hist.top())
	return true
}

// HistoryLen reports how many states are restorable, the current one
// included.
func (e *Engine) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.len()
}

// Image returns a copy of the current canvas.
func (e *Engine) Image() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.canvas)
}

// Bounds returns the native canvas size.
func (e *Engine) Bounds() image.Rectangle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canvas.Bounds()
}

// ExportFlattened encodes the canvas, strokes included.
func (e *Engine) ExportFlattened(format string, quality int) ([]byte, error) {
	img := e.Image()
	var buf bytes.Buffer
	if err := assemble.Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// addLocked appends native points to the current stroke and redraws it.
func (e *Engine) addLocked(points ...geom.Point) {
	s := e.current
	s.points = append(s.points, points...)
	width := float64(PenWidth)
	if s.tool == ToolHighlighter {
		width = HighlighterWidth
	}

	area := pointsBounds(s.points, width).Intersect(e.canvas.Bounds())
	// Re-render the whole stroke from the pre-stroke base so a
	// highlighter never darkens where it crosses itself.
	reset := area.Union(s.dirty)
	draw.Draw(e.canvas, reset, s.base, reset.Min, draw.Src)
	s.dirty = area

	mask := strokeMask(s.points, width, area)
	if s.tool == ToolHighlighter {
		paintMultiply(e.canvas, mask, HighlighterColor)
	} else {
		paintOver(e.canvas, mask, PenColor)
	}
}

func (e *Engine) endLocked() {
	e.current = nil
	e.hist.push(clone(e.canvas))
}

func pointsBounds(points []geom.Point, width float64) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}
	pad := width/2 + 1
	return image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	)
}

func clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
