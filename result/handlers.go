package result

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/snapflow/annotate"
	"github.com/hazyhaar/snapflow/assemble"
	"github.com/hazyhaar/snapflow/capture"
	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/geom"
	"github.com/hazyhaar/snapflow/idgen"
)

// Info describes an assembled capture.
type Info struct {
	shot.Meta
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Parts  []string `json:"parts"`
	Info   string   `json:"info"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req capture.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	if req.URL == "" {
		badRequest(w, "url is required")
		return
	}
	if _, err := shot.ParseMode(string(req.Mode)); err != nil {
		badRequest(w, "%v", err)
		return
	}

	resp, err := s.capture(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	sess := resp.(*capture.Session)
	w.Header().Set("Location", "/captures/"+sess.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    sess.ID,
		"mode":  sess.Mode,
		"url":   sess.URL,
		"title": sess.Title,
		"tiles": len(sess.Tiles),
	})
}

func (s *Server) info(r *http.Request) (*entry, Info, error) {
	id := chi.URLParam(r, "id")
	e, err := s.load(r.Context(), id)
	if err != nil {
		return nil, Info{}, err
	}
	inf := Info{Meta: e.meta, Parts: make([]string, len(e.parts))}
	for i, p := range e.parts {
		b := p.Bounds()
		inf.Width = max(inf.Width, b.Dx())
		inf.Height += b.Dy()
		inf.Parts[i] = fmt.Sprintf("/captures/%s/parts/%d", id, i)
	}
	inf.Info = fmt.Sprintf("Captured %dx%d px", inf.Width, inf.Height)
	return e, inf, nil
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	_, inf, err := s.info(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inf)
}

var viewTmpl = template.Must(template.New("view").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{if .Title}}{{.Title}}{{else}}Capture {{.SessionID}}{{end}}</title></head>
<body>
<p>{{.Info}}{{if .URL}} of <a href="{{.URL}}" rel="noreferrer">{{.URL}}</a>{{end}}</p>
<p><a href="/captures/{{.SessionID}}/download">Download</a> <a href="/captures/{{.SessionID}}/print.pdf">Print</a></p>
{{range .Parts}}<div><img src="{{.}}" alt=""></div>
{{end}}</body></html>
`))

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	_, inf, err := s.info(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := viewTmpl.Execute(w, inf); err != nil {
		s.cfg.Logger.Warn("result: render view", "error", err)
	}
}

// part resolves the {n} path parameter.
func (s *Server) part(w http.ResponseWriter, r *http.Request) (*entry, *annotate.Engine, int, bool) {
	e, err := s.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return nil, nil, 0, false
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 || n >= len(e.parts) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no part %q, capture has %d", chi.URLParam(r, "n"), len(e.parts)),
			"kind":  "NotFound",
		})
		return nil, nil, 0, false
	}
	return e, e.parts[n], n, true
}

func (s *Server) handlePart(w http.ResponseWriter, r *http.Request) {
	_, eng, _, ok := s.part(w, r)
	if !ok {
		return
	}
	format, ok := exportFormat(w, r)
	if !ok {
		return
	}
	data, err := eng.ExportFlattened(format, s.cfg.Quality)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeImage(w, format, data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	_, eng, _, ok := s.part(w, r)
	if !ok {
		return
	}
	width := 320
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "width must be a positive integer")
			return
		}
		width = min(n, assemble.MaxCanvasDimension)
	}
	var buf bytes.Buffer
	if err := assemble.Encode(&buf, assemble.Preview(eng.Image(), width), "png", 0); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeImage(w, "png", buf.Bytes())
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	_, eng, _, ok := s.part(w, r)
	if !ok {
		return
	}
	var req struct {
		Tool string `json:"tool"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	t, err := annotate.ParseTool(req.Tool)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tool": eng.Toggle(t).String()})
}

// strokeRequest is one complete stroke in display coordinates.
type strokeRequest struct {
	Tool          string       `json:"tool"`
	Points        []geom.Point `json:"points"`
	DisplayWidth  float64      `json:"displayWidth"`
	DisplayHeight float64      `json:"displayHeight"`
}

func (s *Server) handleStroke(w http.ResponseWriter, r *http.Request) {
	_, eng, _, ok := s.part(w, r)
	if !ok {
		return
	}
	var req strokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	if len(req.Points) == 0 {
		badRequest(w, "a stroke needs at least one point")
		return
	}
	t, err := annotate.ParseTool(req.Tool)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := eng.Stroke(t, req.Points, req.DisplayWidth, req.DisplayHeight); err != nil {
		s.writeStrokeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"history": eng.HistoryLen()})
}

// pointerRequest is one pointer event of a stroke drawn live.
type pointerRequest struct {
	Type          string  `json:"type"` // down | move | up
	Tool          string  `json:"tool"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	DisplayWidth  float64 `json:"displayWidth"`
	DisplayHeight float64 `json:"displayHeight"`
}

// handlePointer feeds pointer events into the part's stroke in progress.
// Events from one client arrive in input order; "up" commits the stroke.
func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	_, eng, _, ok := s.part(w, r)
	if !ok {
		return
	}
	var req pointerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	p := geom.Point{X: req.X, Y: req.Y}
	switch req.Type {
	case "down":
		t, err := annotate.ParseTool(req.Tool)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
		eng.SetDisplaySize(req.DisplayWidth, req.DisplayHeight)
		err = eng.BeginStroke(t, p)
		if err != nil {
			s.writeStrokeFailure(w, r, err)
			return
		}
	case "move":
		if err := eng.ExtendStroke(p); err != nil {
			s.writeStrokeFailure(w, r, err)
			return
		}
	case "up":
		if err := eng.EndStroke(); err != nil {
			s.writeStrokeFailure(w, r, err)
			return
		}
	default:
		badRequest(w, "type %q: want down, move or up", req.Type)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"history": eng.HistoryLen()})
}

// writeStrokeFailure reports tool and stroke state conflicts as 409.
func (s *Server) writeStrokeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, annotate.ErrNoTool), errors.Is(err, annotate.ErrToolInactive),
		errors.Is(err, annotate.ErrNoStroke):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, annotate.ErrEmptyStroke):
		badRequest(w, "%v", err)
	default:
		s.writeFailure(w, r, err)
	}
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	_, eng, _, ok := s.part(w, r)
	if !ok {
		return
	}
	undone := eng.Undo()
	writeJSON(w, http.StatusOK, map[string]any{"undone": undone, "history": eng.HistoryLen()})
}

// handleDownload sends one file. A split capture is stacked back into a
// single image when it fits a canvas, else zipped; ?part=N picks one part
// and ?zip=1 asks for the archive.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	e, err := s.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	format, ok := exportFormat(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	total := len(e.parts)
	name := func(i, n int) string {
		return idgen.Filename(s.cfg.FilenamePattern, e.meta.SavedAt.Local(), i, n, assemble.Extension(format))
	}

	if v := q.Get("part"); v != "" || total == 1 {
		n := 0
		if v != "" {
			n, err = strconv.Atoi(v)
			if err != nil || n < 0 || n >= total {
				badRequest(w, "part must be between 0 and %d", total-1)
				return
			}
		}
		data, err := e.parts[n].ExportFlattened(format, s.cfg.Quality)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		attach(w, name(n, total))
		writeImage(w, format, data)
		return
	}

	canvases := make([]assemble.Canvas, total)
	height := 0
	for i, p := range e.parts {
		canvases[i] = assemble.Canvas{Image: p.Image(), PartIndex: i, PartTotal: total}
		height += canvases[i].Height()
	}
	if q.Get("zip") == "" && height <= assemble.MaxCanvasDimension {
		var buf bytes.Buffer
		if err := assemble.Encode(&buf, assemble.StackVertical(canvases), format, s.cfg.Quality); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		attach(w, name(0, 1))
		writeImage(w, format, buf.Bytes())
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, c := range canvases {
		var data bytes.Buffer
		err := assemble.Encode(&data, c.Image, format, s.cfg.Quality)
		if err == nil {
			var f io.Writer
			f, err = zw.CreateHeader(&zip.FileHeader{Name: name(i, total), Method: zip.Store, Modified: e.meta.SavedAt})
			if err == nil {
				_, err = f.Write(data.Bytes())
			}
		}
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	attach(w, idgen.Filename(s.cfg.FilenamePattern, e.meta.SavedAt.Local(), 0, 1, ".zip"))
	w.Header().Set("Content-Type", "application/zip")
	w.Write(buf.Bytes())
}

// handleDelete removes a capture from the store and drops its cached
// canvases and annotations.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.backend.Delete(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// handlePrint lays every part out as one PDF page sized to the image.
func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	e, err := s.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	imgs := make([]io.Reader, len(e.parts))
	for i, p := range e.parts {
		data, err := p.ExportFlattened("png", 0)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		imgs[i] = bytes.NewReader(data)
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, imgs, imp, model.NewDefaultConfiguration()); err != nil {
		s.writeFailure(w, r, fmt.Errorf("result: print: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": idgen.Filename(s.cfg.FilenamePattern, e.meta.SavedAt.Local(), 0, 1, ".pdf"),
	}))
	w.Write(out.Bytes())
}

func exportFormat(w http.ResponseWriter, r *http.Request) (string, bool) {
	format := r.URL.Query().Get("format")
	switch format {
	case "":
		return "png", true
	case "png", "jpeg", "bmp", "tiff":
		return format, true
	case "jpg":
		return "jpeg", true
	}
	badRequest(w, "format %q: want png, jpeg, bmp or tiff", format)
	return "", false
}

func attach(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
}

func writeImage(w http.ResponseWriter, format string, data []byte) {
	w.Header().Set("Content-Type", assemble.ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
