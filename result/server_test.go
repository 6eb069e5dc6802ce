package result

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/snapflow/capture"
	"github.com/hazyhaar/snapflow/capture/shot"
)

var (
	blue  = color.RGBA{B: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
)

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fakeBackend struct {
	handoffs map[string]*shot.Handoff
	err      error
	got      capture.Request
}

func (f *fakeBackend) Capture(ctx context.Context, req capture.Request) (*capture.Session, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &capture.Session{ID: "cap_new", Mode: req.Mode, URL: req.URL, Tiles: make([]shot.Tile, 2)}, nil
}

func (f *fakeBackend) LoadMeta(ctx context.Context, id string) (shot.Meta, error) {
	h, err := f.LoadHandoff(ctx, id)
	if err != nil {
		return shot.Meta{}, err
	}
	return h.Meta(), nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	delete(f.handoffs, id)
	return nil
}

func (f *fakeBackend) LoadHandoff(ctx context.Context, id string) (*shot.Handoff, error) {
	h, ok := f.handoffs[id]
	if !ok {
		return nil, fmt.Errorf("%w: capture %s", capture.ErrNotFound, id)
	}
	return h, nil
}

// newTestServer serves one 100x150 page captured in two tiles, split into
// parts of at most 100 px.
func newTestServer(t *testing.T) (*Server, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{handoffs: map[string]*shot.Handoff{
		"cap_1": {
			SessionID: "cap_1",
			Mode:      shot.ModeFull,
			URL:       "https://example.test",
			Metrics:   shot.PageMetrics{FullWidth: 100, FullHeight: 150, ViewportWidth: 100, ViewportHeight: 100, DevicePixelRatio: 1},
			Tiles: []shot.Tile{
				{Image: solidPNG(t, 100, 100, blue), Format: "png", PageY: 0, Seq: 0},
				{Image: solidPNG(t, 100, 100, green), Format: "png", PageY: 50, Seq: 1},
			},
			SavedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		},
	}}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "snapflow_test_total", Help: "test"}))
	return New(b, Config{MaxDimension: 100, Gatherer: reg}), b
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func TestInfo(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body)
	}
	var inf Info
	if err := json.Unmarshal(rec.Body.Bytes(), &inf); err != nil {
		t.Fatal(err)
	}
	if inf.Info != "Captured 100x150 px" {
		t.Fatalf("info: got %q", inf.Info)
	}
	if len(inf.Parts) != 2 || inf.Parts[1] != "/captures/cap_1/parts/1" {
		t.Fatalf("parts: got %v", inf.Parts)
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing middleware headers: %v", rec.Header())
	}
}

func TestInfoNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"kind":"NotFound"`) {
		t.Fatalf("body: %s", rec.Body)
	}
}

func TestView(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1/view", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Captured 100x150 px") || !strings.Contains(body, `src="/captures/cap_1/parts/1"`) {
		t.Fatalf("view: %s", body)
	}
}

func TestPartsSplitAtMaxDimension(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/captures/cap_1/parts/0", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("part 0: status %d, type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if b := decodePNG(t, rec.Body.Bytes()).Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Fatalf("part 0 size: got %v", b)
	}

	rec = do(t, s, http.MethodGet, "/captures/cap_1/parts/1", "")
	img := decodePNG(t, rec.Body.Bytes())
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("part 1 size: got %v", b)
	}
	// WHAT: the second tile starts at page y=50, so all of part 1 is green.
	if r, g, b, _ := img.At(10, 10).RGBA(); r != 0 || g != 0xffff || b != 0 {
		t.Fatalf("part 1 pixel: got %d,%d,%d, want green", r, g, b)
	}

	if rec := do(t, s, http.MethodGet, "/captures/cap_1/parts/2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("part 2: got %d, want 404", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/captures/cap_1/parts/0?format=gif", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("gif: got %d, want 400", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1/parts/0/preview?width=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if b := decodePNG(t, rec.Body.Bytes()).Bounds(); b.Dx() != 50 || b.Dy() != 50 {
		t.Fatalf("preview size: got %v", b)
	}
	if rec := do(t, s, http.MethodGet, "/captures/cap_1/parts/0/preview?width=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative width: got %d, want 400", rec.Code)
	}
}

func TestDownloadSinglePart(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1/download?part=1&format=jpg", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type: got %q", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "-part-2.jpg") {
		t.Fatalf("content disposition: got %q", cd)
	}
}

func TestDownloadStacksSplitParts(t *testing.T) {
	// WHAT: a split capture downloads as one image when it fits a canvas.
	// WHY: parts are split at the server ceiling, not the format limit.
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1/download", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type: got %q, want image/png", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if strings.Contains(cd, "-part-") || !strings.HasSuffix(strings.TrimSuffix(cd, `"`), ".png") {
		t.Fatalf("content disposition: got %q, want a single .png name", cd)
	}
	img := decodePNG(t, rec.Body.Bytes())
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 150 {
		t.Fatalf("stacked size: got %v, want 100x150", b)
	}
	if r, g, b, _ := img.At(10, 10).RGBA(); r != 0 || g != 0 || b != 0xffff {
		t.Fatalf("top pixel: got %d,%d,%d, want blue", r, g, b)
	}
	if r, g, b, _ := img.At(10, 140).RGBA(); r != 0 || g != 0xffff || b != 0 {
		t.Fatalf("bottom pixel: got %d,%d,%d, want green", r, g, b)
	}
}

func TestDownloadAllPartsZipped(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1/download?zip=1", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("status %d, type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("zip entries: got %d, want 2", len(zr.File))
	}
	for i, f := range zr.File {
		if want := fmt.Sprintf("-part-%d.png", i+1); !strings.HasSuffix(f.Name, want) {
			t.Fatalf("entry %d: got %q, want suffix %q", i, f.Name, want)
		}
	}
}

func TestPrintPDF(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/captures/cap_1/print.pdf", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type: got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("body is not a PDF: %q", rec.Body.Bytes()[:min(16, rec.Body.Len())])
	}
}

func TestAnnotateStrokeAndUndo(t *testing.T) {
	s, _ := newTestServer(t)
	base := "/captures/cap_1/parts/0"

	// WHY: with no tool selected a stroke has nothing to draw with.
	if rec := do(t, s, http.MethodPost, base+"/strokes", `{"points":[{"x":10,"y":10}]}`); rec.Code != http.StatusConflict {
		t.Fatalf("stroke without tool: got %d, want 409", rec.Code)
	}

	rec := do(t, s, http.MethodPost, base+"/tool", `{"tool":"pen"}`)
	if !strings.Contains(rec.Body.String(), `"tool":"pen"`) {
		t.Fatalf("tool: %s", rec.Body)
	}

	// Drawn at half size: display (5,5)-(45,5) is native (10,10)-(90,10).
	rec = do(t, s, http.MethodPost, base+"/strokes",
		`{"points":[{"x":5,"y":5},{"x":45,"y":5}],"displayWidth":50,"displayHeight":50}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"history":2`) {
		t.Fatalf("stroke: %d %s", rec.Code, rec.Body)
	}

	img := decodePNG(t, do(t, s, http.MethodGet, base, "").Body.Bytes())
	if r, _, _, _ := img.At(50, 10).RGBA(); r>>8 != 0xef {
		t.Fatalf("stroke pixel red: got %#x, want 0xef", r>>8)
	}
	if r, _, b, _ := img.At(50, 30).RGBA(); r != 0 || b != 0xffff {
		t.Fatalf("untouched pixel changed")
	}

	rec = do(t, s, http.MethodPost, base+"/undo", "")
	if !strings.Contains(rec.Body.String(), `"undone":true`) {
		t.Fatalf("undo: %s", rec.Body)
	}
	img = decodePNG(t, do(t, s, http.MethodGet, base, "").Body.Bytes())
	if r, _, b, _ := img.At(50, 10).RGBA(); r != 0 || b != 0xffff {
		t.Fatalf("undo left the stroke behind")
	}
	rec = do(t, s, http.MethodPost, base+"/undo", "")
	if !strings.Contains(rec.Body.String(), `"undone":false`) {
		t.Fatalf("undo at pristine state: %s", rec.Body)
	}
}

func TestStrokeRejectsInactiveTool(t *testing.T) {
	// WHAT: a stroke naming a tool is refused once drawing was toggled off.
	s, _ := newTestServer(t)
	base := "/captures/cap_1/parts/0"
	do(t, s, http.MethodPost, base+"/tool", `{"tool":"pen"}`)
	do(t, s, http.MethodPost, base+"/tool", `{"tool":"pen"}`)

	rec := do(t, s, http.MethodPost, base+"/strokes", `{"tool":"pen","points":[{"x":10,"y":10},{"x":90,"y":10}]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pen after toggle off: got %d, want 409", rec.Code)
	}
	do(t, s, http.MethodPost, base+"/tool", `{"tool":"highlighter"}`)
	rec = do(t, s, http.MethodPost, base+"/strokes", `{"tool":"pen","points":[{"x":10,"y":10}]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pen while highlighter active: got %d, want 409", rec.Code)
	}
	img := decodePNG(t, do(t, s, http.MethodGet, base, "").Body.Bytes())
	if r, g, b, _ := img.At(50, 10).RGBA(); r != 0 || g != 0 || b != 0xffff {
		t.Fatalf("pixel: got %d,%d,%d, want untouched blue", r, g, b)
	}
}

func TestConcurrentStrokesCommitWhole(t *testing.T) {
	// WHAT: strokes posted concurrently to one part all succeed.
	// WHY: each stroke must commit whole, never ended by another request.
	s, _ := newTestServer(t)
	base := "/captures/cap_1/parts/0"
	do(t, s, http.MethodPost, base+"/tool", `{"tool":"pen"}`)

	const workers, perWorker = 4, 25
	codes := make(chan int, workers*perWorker)
	var wg sync.WaitGroup
	for g := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			y := 10 + g*20
			pts := make([]string, 200)
			for i := range pts {
				pts[i] = fmt.Sprintf(`{"x":%d,"y":%d}`, 5+i*45/100, y/2)
			}
			body := `{"points":[` + strings.Join(pts, ",") + `],"displayWidth":50,"displayHeight":50}`
			for range perWorker {
				req := httptest.NewRequest(http.MethodPost, base+"/strokes", strings.NewReader(body))
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, req)
				codes <- rec.Code
			}
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("stroke status: got %d, want 200", code)
		}
	}

	img := decodePNG(t, do(t, s, http.MethodGet, base, "").Body.Bytes())
	for g := range workers {
		y := 10 + g*20
		if r, _, _, _ := img.At(50, y).RGBA(); r>>8 != 0xef {
			t.Fatalf("line %d red: got %#x, want 0xef", g, r>>8)
		}
	}
}

func TestPointerStroke(t *testing.T) {
	// WHAT: down, move and up events build one stroke in input order.
	s, _ := newTestServer(t)
	base := "/captures/cap_1/parts/0"

	if rec := do(t, s, http.MethodPost, base+"/pointer", `{"type":"move","x":1,"y":1}`); rec.Code != http.StatusConflict {
		t.Fatalf("move without stroke: got %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, base+"/pointer", `{"type":"down","x":1,"y":1}`); rec.Code != http.StatusConflict {
		t.Fatalf("down without tool: got %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, base+"/pointer", `{"type":"hover"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: got %d, want 400", rec.Code)
	}

	do(t, s, http.MethodPost, base+"/tool", `{"tool":"pen"}`)
	for _, ev := range []string{
		`{"type":"down","x":5,"y":10,"displayWidth":50,"displayHeight":50}`,
		`{"type":"move","x":45,"y":10}`,
	} {
		if rec := do(t, s, http.MethodPost, base+"/pointer", ev); rec.Code != http.StatusOK {
			t.Fatalf("%s: got %d, want 200: %s", ev, rec.Code, rec.Body)
		}
	}
	rec := do(t, s, http.MethodPost, base+"/pointer", `{"type":"up"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"history":2`) {
		t.Fatalf("up: got %d %s, want 200 with history 2", rec.Code, rec.Body)
	}
	img := decodePNG(t, do(t, s, http.MethodGet, base, "").Body.Bytes())
	if r, _, _, _ := img.At(50, 20).RGBA(); r>>8 != 0xef {
		t.Fatalf("stroke pixel red: got %#x, want 0xef", r>>8)
	}
}

func TestDeleteCapture(t *testing.T) {
	// WHAT: DELETE removes the stored capture and its cached annotations.
	s, b := newTestServer(t)
	do(t, s, http.MethodPost, "/captures/cap_1/parts/0/tool", `{"tool":"pen"}`)

	rec := do(t, s, http.MethodDelete, "/captures/cap_1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d, want 204: %s", rec.Code, rec.Body)
	}
	if _, ok := b.handoffs["cap_1"]; ok {
		t.Fatal("backend still holds cap_1")
	}
	if rec := do(t, s, http.MethodGet, "/captures/cap_1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("info after delete: got %d, want 404", rec.Code)
	}
}

func TestAnnotationsSurviveCache(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/captures/cap_1/parts/0/tool", `{"tool":"highlighter"}`)
	rec := do(t, s, http.MethodPost, "/captures/cap_1/parts/0/tool", `{"tool":"highlighter"}`)
	// WHAT: selecting the active tool again switches drawing off.
	if !strings.Contains(rec.Body.String(), `"tool":"none"`) {
		t.Fatalf("toggle: %s", rec.Body)
	}
	s.Forget("cap_1")
	rec = do(t, s, http.MethodPost, "/captures/cap_1/parts/0/tool", `{"tool":"pen"}`)
	if !strings.Contains(rec.Body.String(), `"tool":"pen"`) {
		t.Fatalf("after forget: %s", rec.Body)
	}
}

func TestPostCapture(t *testing.T) {
	s, b := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/captures", `{"url":"https://example.test","mode":"visible"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "/captures/cap_new" {
		t.Fatalf("location: got %q", loc)
	}
	if b.got.Mode != shot.ModeVisible {
		t.Fatalf("mode: got %q", b.got.Mode)
	}
}

func TestPostCaptureFailure(t *testing.T) {
	s, b := newTestServer(t)
	b.err = fmt.Errorf("capture cap_x: coordinator: capture tile 0: %w", shot.ErrCaptureFailed)
	rec := do(t, s, http.MethodPost, "/captures", `{"url":"https://example.test"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["kind"] != "CaptureFailed" {
		t.Fatalf("kind: got %q", body["kind"])
	}

	b.err = fmt.Errorf("capture cap_y: %w", shot.ErrInvalidRegion)
	if rec := do(t, s, http.MethodPost, "/captures", `{"url":"https://example.test","mode":"region","rect":"0,0,1,1"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid region: got %d, want 422", rec.Code)
	}
}

func TestPostCaptureBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{`{`, `{"mode":"full"}`, `{"url":"https://x.test","mode":"panorama"}`} {
		if rec := do(t, s, http.MethodPost, "/captures", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d, want 400", body, rec.Code)
		}
	}
}

func TestMetricsAndHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "snapflow_test_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, http.MethodHead, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("HEAD healthz: got %d", rec.Code)
	}
}
