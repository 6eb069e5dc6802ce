// Package result serves finished captures over HTTP: the assembled image
// parts, previews, downloads in several formats, a print-ready PDF and the
// annotation API. Captures are assembled on first access and kept, with
// their annotation state, in a small in-memory cache.
package result

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/snapflow/annotate"
	"github.com/hazyhaar/snapflow/assemble"
	"github.com/hazyhaar/snapflow/capture"
	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/kit"
)

// Backend runs captures and reads persisted ones. *capture.Capturer
// implements it.
type Backend interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Session, error)
	LoadMeta(ctx context.Context, id string) (shot.Meta, error)
	LoadHandoff(ctx context.Context, id string) (*shot.Handoff, error)
	Delete(ctx context.Context, id string) error
}

// Config configures a Server.
type Config struct {
	// MaxDimension bounds assembled parts. Default: assemble.MaxCanvasDimension.
	MaxDimension int

	// HistorySize of each part's undo history. Default: annotate.DefaultHistory.
	HistorySize int

	// FilenamePattern names downloads. Default: idgen.DefaultPattern.
	FilenamePattern string

	// Quality for jpeg downloads. Default: 90.
	Quality int

	// CacheSize is how many assembled captures stay in memory. Default: 8.
	CacheSize int

	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxDimension <= 0 {
		c.MaxDimension = assemble.MaxCanvasDimension
	}
	if c.HistorySize == 0 {
		c.HistorySize = annotate.DefaultHistory
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 90
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 8
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the HTTP result surface.
type Server struct {
	backend Backend
	cfg     Config
	asm     *assemble.Assembler
	capture kit.Endpoint
	router  chi.Router

	mu    sync.Mutex
	cache map[string]*entry
	order []string // least recently used first
}

// entry is one assembled capture.
type entry struct {
	meta  shot.Meta
	parts []*annotate.Engine
}

// New creates a Server.
func New(backend Backend, cfg Config) *Server {
	cfg.defaults()
	s := &Server{
		backend: backend,
		cfg:     cfg,
		asm:     assemble.New(cfg.MaxDimension),
		cache:   make(map[string]*entry),
	}
	s.capture = kit.Logging(cfg.Logger, "capture")(func(ctx context.Context, req any) (any, error) {
		return backend.Capture(ctx, req.(capture.Request))
	})
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, requestID(s.cfg.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.With(maxBody(64<<10)).Post("/captures", s.handleCapture)
	r.Route("/captures/{id}", func(r chi.Router) {
		r.Get("/", s.handleInfo)
		r.Delete("/", s.handleDelete)
		r.Get("/view", s.handleView)
		r.Get("/download", s.handleDownload)
		r.Get("/print.pdf", s.handlePrint)
		r.Route("/parts/{n}", func(r chi.Router) {
			r.Get("/", s.handlePart)
			r.Get("/preview", s.handlePreview)
			r.Group(func(r chi.Router) {
				r.Use(maxBody(1 << 20))
				r.Post("/tool", s.handleTool)
				r.Post("/strokes", s.handleStroke)
				r.Post("/pointer", s.handlePointer)
				r.Post("/undo", s.handleUndo)
			})
		})
	})
	return r
}

// load returns the assembled capture, assembling it on first use.
func (s *Server) load(ctx context.Context, id string) (*entry, error) {
	s.mu.Lock()
	if e, ok := s.cache[id]; ok {
		s.touchLocked(id)
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	h, err := s.backend.LoadHandoff(ctx, id)
	if err != nil {
		return nil, err
	}
	canvases, err := s.asm.AssembleHandoff(h)
	if err != nil {
		return nil, err
	}
	e := &entry{meta: h.Meta(), parts: make([]*annotate.Engine, len(canvases))}
	for i, c := range canvases {
		e.parts[i] = annotate.New(c.Image, s.cfg.HistorySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cache[id]; ok {
		// Assembled concurrently; keep the one annotations may already use.
		s.touchLocked(id)
		return prev, nil
	}
	s.cache[id] = e
	s.order = append(s.order, id)
	for len(s.order) > s.cfg.CacheSize {
		delete(s.cache, s.order[0])
		s.order = s.order[1:]
	}
	s.cfg.Logger.Debug("result: assembled", "id", id, "parts", len(e.parts))
	return e, nil
}

func (s *Server) touchLocked(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(append(s.order[:i:i], s.order[i+1:]...), id)
			return
		}
	}
}

// Forget drops a capture from the cache, discarding its annotations.
func (s *Server) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// statusOf maps an error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, capture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shot.ErrInvalidRegion), errors.Is(err, shot.ErrCancelled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shot.ErrCommunicationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, shot.ErrStorageFailure):
		return http.StatusInternalServerError
	case errors.Is(err, shot.ErrInjectionFailed), errors.Is(err, shot.ErrMetricsUnavailable),
		errors.Is(err, shot.ErrInvalidDimensions), errors.Is(err, shot.ErrCaptureFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeFailure reports err with its taxonomy kind.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= 500 {
		s.cfg.Logger.WarnContext(r.Context(), "result: request failed",
			"request_id", kit.GetRequestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	kind := shot.KindOf(err)
	if code == http.StatusNotFound {
		kind = "NotFound"
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": kind})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf(format, args...)})
}
