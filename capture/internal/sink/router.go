package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Router fans announcements out to every sink. A failing sink does not
// stop the others; the first error is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len reports how many sinks are attached.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendReady(ctx context.Context, rd shot.Ready) error {
	return r.each("ready", func(s Sink) error { return s.SendReady(ctx, rd) })
}

func (r *Router) SendFailed(ctx context.Context, f Failed) error {
	return r.each("failed", func(s Sink) error { return s.SendFailed(ctx, f) })
}

func (r *Router) each(what string, fn func(Sink) error) error {
	var first error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			r.logger.Warn("sink: send failed", "type", what, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
