// Package stabilizer neutralises fixed and sticky chrome and root
// scrollbars for the length of a capture, as an acquired resource with a
// paired, idempotent release.
package stabilizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Surface is the page side of stabilisation.
type Surface interface {
	// Prepare hides fixed/sticky elements (when hideFixed), suppresses
	// root scrollbars and shows the progress indicator.
	Prepare(ctx context.Context, hideFixed bool) (int, error)
	// Finish undoes Prepare, removes the progress indicator and, when
	// restoreScroll, returns to the pre-capture scroll position.
	Finish(ctx context.Context, restoreScroll bool) error
}

// Options configures a Stabilizer.
type Options struct {
	// HideFixed hides fixed and sticky elements. When false only
	// scrollbars are suppressed.
	HideFixed bool

	// RestoreScroll scrolls back to the original position on Restore.
	RestoreScroll bool

	Logger *slog.Logger
}

// Stabilizer acquires and releases stabilisation on one page.
type Stabilizer struct {
	surface Surface
	opts    Options
}

// New creates a Stabilizer.
func New(surface Surface, opts Options) *Stabilizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Stabilizer{surface: surface, opts: opts}
}

// Token tracks one stabilisation. The zero value and nil are valid
// arguments to Restore.
type Token struct {
	mu       sync.Mutex
	hidden   int
	restored bool
}

// Hidden reports how many elements were hidden.
func (t *Token) Hidden() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hidden
}

// Stabilize applies stabilisation. The returned token is non-nil even on
// error, since the page may be partially stabilised and still needs
// Restore.
func (s *Stabilizer) Stabilize(ctx context.Context) (*Token, error) {
	tok := &Token{}
	hidden, err := s.surface.Prepare(ctx, s.opts.HideFixed)
	if err != nil {
		return tok, fmt.Errorf("stabilizer: prepare: %w", err)
	}
	tok.hidden = hidden
	s.opts.Logger.Debug("stabilizer: applied", "hidden", hidden)
	return tok, nil
}

// Restore releases stabilisation. It runs the page-side release at most
// once per token; later calls return nil. A nil token still runs the
// release, which the page treats as a no-op when nothing is applied.
func (s *Stabilizer) Restore(ctx context.Context, tok *Token) error {
	if tok != nil {
		tok.mu.Lock()
		defer tok.mu.Unlock()
		if tok.restored {
			return nil
		}
		tok.restored = true
	}
	if err := s.surface.Finish(ctx, s.opts.RestoreScroll); err != nil {
		return fmt.Errorf("stabilizer: restore: %w", err)
	}
	s.opts.Logger.Debug("stabilizer: released")
	return nil
}
