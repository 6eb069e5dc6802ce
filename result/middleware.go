package result

import (
	"log/slog"
	"net/http"

	"github.com/hazyhaar/snapflow/idgen"
	"github.com/hazyhaar/snapflow/kit"
)

// securityHeaders sets the headers every result response carries. Images
// are inlined as data: URLs by the viewer, so img-src allows them.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// maxBody caps request bodies.
func maxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// headToGet lets GET routes answer HEAD; net/http drops the body.
func headToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

var requestIDs = idgen.Prefixed("req_", idgen.UUIDv7())

// requestID tags the request context and response with an id, honouring
// an X-Request-ID sent by a proxy.
func requestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = requestIDs()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")
			logger.DebugContext(ctx, "result: request", "request_id", id, "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
