package assemble

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// pageColor is the colour of page pixel (x, y). Tiles cut from the same
// page agree wherever they overlap.
func pageColor(x, y int) color.RGBA {
	return color.RGBA{R: uint8(x), G: uint8(y), B: uint8(y >> 8), A: 255}
}

// tileAt renders the w×h viewport whose top-left is page pixel (px, py).
func tileAt(t *testing.T, seq, px, py, w, h int) shot.Tile {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, pageColor(px+x, py+y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return shot.Tile{Image: buf.Bytes(), Format: "png", PageX: px, PageY: py, Seq: seq}
}

func checkPage(t *testing.T, img *image.RGBA, offsetY int) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if got, want := img.RGBAAt(x, y), pageColor(x, y+offsetY); got != want {
				t.Fatalf("pixel %d,%d: got %v, want %v", x, y+offsetY, got, want)
			}
		}
	}
}

func TestAssembleVerticalScenario(t *testing.T) {
	// WHAT: 100x250 page, 100x100 viewport, 10px overlap, last tile clamped.
	// WHY: scaled-down version of the 1000x2500 end-to-end scenario.
	m := shot.PageMetrics{FullWidth: 100, FullHeight: 250, ViewportWidth: 100, ViewportHeight: 100, DevicePixelRatio: 1}
	tiles := []shot.Tile{tileAt(t, 0, 0, 0, 100, 100), tileAt(t, 1, 0, 90, 100, 100), tileAt(t, 2, 0, 150, 100, 100)}

	parts, err := New(0).Assemble(tiles, m)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(parts) != 1 || parts[0].Width() != 100 || parts[0].Height() != 250 {
		t.Fatalf("got %d parts, first %dx%d", len(parts), parts[0].Width(), parts[0].Height())
	}
	checkPage(t, parts[0].Image, 0)
}

func TestAssembleFullSizeCanvas(t *testing.T) {
	m := shot.PageMetrics{FullWidth: 1000, FullHeight: 2500, ViewportWidth: 1000, ViewportHeight: 1000, DevicePixelRatio: 1}
	tiles := []shot.Tile{tileAt(t, 0, 0, 0, 1000, 1000), tileAt(t, 1, 0, 900, 1000, 1000), tileAt(t, 2, 0, 1500, 1000, 1000)}

	parts, err := New(0).Assemble(tiles, m)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(parts) != 1 || parts[0].Width() != 1000 || parts[0].Height() != 2500 {
		t.Fatalf("canvas %dx%d in %d parts, want 1000x2500 in 1", parts[0].Width(), parts[0].Height(), len(parts))
	}
	for _, y := range []int{0, 899, 900, 1499, 1500, 2499} {
		if got, want := parts[0].Image.RGBAAt(500, y), pageColor(500, y); got != want {
			t.Fatalf("y=%d: got %v, want %v", y, got, want)
		}
	}
}

func TestAssembleDeterministic(t *testing.T) {
	m := shot.PageMetrics{FullWidth: 60, FullHeight: 130, ViewportWidth: 60, ViewportHeight: 50, DevicePixelRatio: 1}
	tiles := []shot.Tile{tileAt(t, 0, 0, 0, 60, 50), tileAt(t, 1, 0, 45, 60, 50), tileAt(t, 2, 0, 80, 60, 50)}

	a := New(0)
	first, err := a.Assemble(tiles, m)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Assemble(tiles, m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first[0].Image.Pix, second[0].Image.Pix) {
		t.Fatal("assembly is not reproducible")
	}
	var e1, e2 bytes.Buffer
	Encode(&e1, first[0].Image, "png", 0)
	Encode(&e2, second[0].Image, "png", 0)
	if !bytes.Equal(e1.Bytes(), e2.Bytes()) {
		t.Fatal("encoded output differs")
	}
}

func TestAssembleOrdersBySequence(t *testing.T) {
	// Tiles handed over out of order still paint in capture order.
	m := shot.PageMetrics{FullWidth: 40, FullHeight: 70, ViewportWidth: 40, ViewportHeight: 40, DevicePixelRatio: 1}
	tiles := []shot.Tile{tileAt(t, 1, 0, 30, 40, 40), tileAt(t, 0, 0, 0, 40, 40)}

	parts, err := New(0).Assemble(tiles, m)
	if err != nil {
		t.Fatal(err)
	}
	checkPage(t, parts[0].Image, 0)
}

func TestAssembleSplit(t *testing.T) {
	m := shot.PageMetrics{FullWidth: 50, FullHeight: 250, ViewportWidth: 50, ViewportHeight: 100, DevicePixelRatio: 1}
	tiles := []shot.Tile{tileAt(t, 0, 0, 0, 50, 100), tileAt(t, 1, 0, 100, 50, 100), tileAt(t, 2, 0, 150, 50, 100)}

	parts, err := New(100).Assemble(tiles, m)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want ⌈250/100⌉ = 3", len(parts))
	}
	for i, p := range parts {
		if p.Height() > 100 || p.PartIndex != i || p.PartTotal != 3 {
			t.Fatalf("part %d: height %d index %d/%d", i, p.Height(), p.PartIndex, p.PartTotal)
		}
		checkPage(t, p.Image, i*100)
	}
	whole := StackVertical(parts)
	if whole.Bounds().Dy() != 250 {
		t.Fatalf("stacked height %d", whole.Bounds().Dy())
	}
	checkPage(t, whole, 0)

	unsplit, _ := New(0).Assemble(tiles, m)
	if !bytes.Equal(whole.Pix, unsplit[0].Image.Pix) {
		t.Fatal("concatenated parts differ from the unsplit canvas")
	}
}

func TestAssembleWidthAboveCeiling(t *testing.T) {
	m := shot.PageMetrics{FullWidth: 120, FullHeight: 50, ViewportWidth: 120, ViewportHeight: 50, DevicePixelRatio: 1}
	_, err := New(100).Assemble([]shot.Tile{tileAt(t, 0, 0, 0, 120, 50)}, m)
	if !errors.Is(err, shot.ErrInvalidDimensions) {
		t.Fatalf("got %v, want ErrInvalidDimensions", err)
	}
}

func TestAssembleDevicePixelRatio(t *testing.T) {
	// 30x40 CSS page at dpr 2, one 60x80 device-pixel tile.
	m := shot.PageMetrics{FullWidth: 30, FullHeight: 40, ViewportWidth: 30, ViewportHeight: 40, DevicePixelRatio: 2}
	parts, err := New(0).Assemble([]shot.Tile{tileAt(t, 0, 0, 0, 60, 80)}, m)
	if err != nil {
		t.Fatal(err)
	}
	if parts[0].Width() != 60 || parts[0].Height() != 80 {
		t.Fatalf("canvas %dx%d, want 60x80", parts[0].Width(), parts[0].Height())
	}
}

func TestAssembleVisibleUsesTileSize(t *testing.T) {
	parts, err := New(0).Assemble([]shot.Tile{tileAt(t, 0, 0, 0, 64, 48)}, shot.PageMetrics{})
	if err != nil {
		t.Fatal(err)
	}
	if parts[0].Width() != 64 || parts[0].Height() != 48 {
		t.Fatalf("canvas %dx%d, want tile size 64x48", parts[0].Width(), parts[0].Height())
	}
}

func TestAssembleRegion(t *testing.T) {
	// Tile captured while scrolled to y=200, at dpr 2: it covers page
	// CSS rows 200..250 as device rows 0..100.
	tile := tileAt(t, 0, 0, 0, 100, 100)
	tile.PageY = 200
	rect := shot.RegionRect{X: 10, Y: 210, Width: 20, Height: 15, DevicePixelRatio: 2}

	c, err := New(0).AssembleRegion(tile, rect)
	if err != nil {
		t.Fatalf("AssembleRegion: %v", err)
	}
	if c.Width() != 40 || c.Height() != 30 {
		t.Fatalf("crop %dx%d, want 40x30", c.Width(), c.Height())
	}
	// Crop origin is device pixel (20, 20) of the tile image.
	if got, want := c.Image.RGBAAt(0, 0), pageColor(20, 20); got != want {
		t.Fatalf("origin pixel %v, want %v", got, want)
	}
}

func TestAssembleRegionOutsideTile(t *testing.T) {
	tile := tileAt(t, 0, 0, 0, 100, 100)
	for _, rect := range []shot.RegionRect{
		{X: 90, Y: 0, Width: 20, Height: 20, DevicePixelRatio: 1},
		{X: 0, Y: 120, Width: 20, Height: 20, DevicePixelRatio: 1},
		{X: 10, Y: 10, Width: 5, Height: 50, DevicePixelRatio: 1},
	} {
		if _, err := New(0).AssembleRegion(tile, rect); !errors.Is(err, shot.ErrInvalidRegion) {
			t.Errorf("%+v: got %v, want ErrInvalidRegion", rect, err)
		}
	}
}

func TestAssembleHandoffRegion(t *testing.T) {
	h := &shot.Handoff{
		Mode:   shot.ModeRegion,
		Region: &shot.RegionRect{X: 0, Y: 0, Width: 10, Height: 10, DevicePixelRatio: 1},
		Tiles:  []shot.Tile{tileAt(t, 0, 0, 0, 50, 50)},
	}
	parts, err := New(0).AssembleHandoff(h)
	if err != nil || len(parts) != 1 || parts[0].Width() != 10 {
		t.Fatalf("got %v parts, %v", len(parts), err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode(shot.Tile{Image: []byte("nope")})
	if !errors.Is(err, shot.ErrCaptureFailed) {
		t.Fatalf("got %v", err)
	}
}

func TestEncodeFormats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for _, f := range []string{"png", "jpeg", "bmp", "tiff"} {
		var buf bytes.Buffer
		if err := Encode(&buf, img, f, 80); err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		if _, _, err := image.Decode(&buf); err != nil && f != "tiff" && f != "bmp" {
			t.Fatalf("%s: decode back: %v", f, err)
		}
	}
	if err := Encode(&bytes.Buffer{}, img, "gif", 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("gif: got %v", err)
	}
}

func TestPreview(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 1000))
	p := Preview(img, 100)
	if p.Bounds().Dx() != 100 || p.Bounds().Dy() != 250 {
		t.Fatalf("preview %v", p.Bounds())
	}
	if full := Preview(img, 800); full.Bounds().Dx() != 400 {
		t.Fatalf("upscaled preview %v", full.Bounds())
	}
}
