// Package coordinator drives one capture session through its states:
// inject the page surface, measure, stabilise, run the scroll/settle/capture
// loop, release stabilisation on every exit path, then persist the handoff
// and signal that a result is ready.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/snapflow/capture/internal/host"
	"github.com/hazyhaar/snapflow/capture/internal/stabilizer"
	"github.com/hazyhaar/snapflow/capture/shot"
)

// MaxOverlapPercent bounds the configurable overlap.
const MaxOverlapPercent = 50

// ErrSessionActive is returned by Run while another session is running on
// the same page.
var ErrSessionActive = errors.New("coordinator: a session is already active")

// Surface is the page the coordinator scrolls and captures.
type Surface interface {
	Inject(ctx context.Context) error
	ScrollTo(ctx context.Context, req host.ScrollRequest) (host.Position, error)
	Progress(ctx context.Context, index, total int) error
	ScrollPosition(ctx context.Context) (host.Position, error)
	CaptureVisible(ctx context.Context) ([]byte, error)
	Format() string
}

// Prober measures the page.
type Prober interface {
	Measure(ctx context.Context) (shot.PageMetrics, error)
}

// Stabilizer acquires and releases page stabilisation.
type Stabilizer interface {
	Stabilize(ctx context.Context) (*stabilizer.Token, error)
	Restore(ctx context.Context, tok *stabilizer.Token) error
}

// RegionSource yields the rectangle a region capture crops to.
type RegionSource interface {
	Select(ctx context.Context) (shot.RegionRect, error)
}

// Store persists the handoff.
type Store interface {
	SaveHandoff(ctx context.Context, h *shot.Handoff) error
}

// Notifier signals that a result is ready.
type Notifier interface {
	SendReady(ctx context.Context, r shot.Ready) error
}

// Deps are the collaborators of a Coordinator. Region is only needed for
// region sessions and Notifier is optional.
type Deps struct {
	Surface    Surface
	Prober     Prober
	Stabilizer Stabilizer
	Region     RegionSource
	Store      Store
	Notifier   Notifier
}

// Config tunes the capture loop.
type Config struct {
	// OverlapPercent of the viewport re-captured between adjacent tiles,
	// 0 to MaxOverlapPercent. Zero disables overlap.
	OverlapPercent int

	// SettleDelay is the wait after each scroll before capturing.
	// Default: 150ms.
	SettleDelay time.Duration

	// CaptureTimeout bounds a whole session. Default: 60s.
	CaptureTimeout time.Duration

	// FinishTimeout bounds the release step, which runs even after the
	// session context is done. Default: 10s.
	FinishTimeout time.Duration

	// OnTransition is called on every state change.
	OnTransition func(id string, from, to State)

	// OnTile is called after each tile is captured.
	OnTile func(id string, tile shot.Tile, total int)

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	c.OverlapPercent = min(max(c.OverlapPercent, 0), MaxOverlapPercent)
	if c.SettleDelay <= 0 {
		c.SettleDelay = 150 * time.Millisecond
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 60 * time.Second
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request names what to capture.
type Request struct {
	ID    string
	Mode  shot.Mode
	URL   string
	Title string
}

// Coordinator runs sessions strictly one at a time against one page.
type Coordinator struct {
	deps Deps
	cfg  Config
	busy sync.Mutex
}

// New creates a Coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{deps: deps, cfg: cfg}
}

// Run executes one session. The returned Session is non-nil whenever Run
// got past the busy check, including on failure.
func (c *Coordinator) Run(ctx context.Context, req Request) (s *Session, err error) {
	if !c.busy.TryLock() {
		return nil, ErrSessionActive
	}
	defer c.busy.Unlock()

	if req.Mode == "" {
		req.Mode = shot.ModeFull
	}
	s = &Session{ID: req.ID, Mode: req.Mode, URL: req.URL, Title: req.Title, State: StateIdle, Path: []State{StateIdle}}
	log := c.cfg.Logger.With("session", s.ID, "mode", s.Mode)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	defer func() {
		if err != nil {
			s.Err = err
			c.transition(s, StateFailed)
			log.Warn("coordinator: session failed", "kind", shot.KindOf(err), "error", err)
		}
	}()

	switch req.Mode {
	case shot.ModeFull:
		err = c.runFull(ctx, s)
	case shot.ModeVisible:
		err = c.runVisible(ctx, s)
	case shot.ModeRegion:
		err = c.runRegion(ctx, s)
	default:
		err = fmt.Errorf("coordinator: unknown mode %q", req.Mode)
	}
	if err != nil {
		return s, err
	}

	c.transition(s, StateDone)
	if err = c.handOff(ctx, s); err != nil {
		return s, err
	}
	log.Info("coordinator: session done", "tiles", len(s.Tiles))
	return s, nil
}

func (c *Coordinator) runFull(ctx context.Context, s *Session) (err error) {
	if err := c.inject(ctx, s); err != nil {
		return err
	}

	c.transition(s, StateMeasuring)
	m, err := c.deps.Prober.Measure(ctx)
	if err != nil {
		if !errors.Is(err, shot.ErrMetricsUnavailable) && !errors.Is(err, shot.ErrInvalidDimensions) {
			err = fmt.Errorf("%w: %w", shot.ErrMetricsUnavailable, err)
		}
		return fmt.Errorf("coordinator: measure: %w", err)
	}
	s.Metrics = m

	c.transition(s, StatePreparing)
	var tok *stabilizer.Token
	defer func() {
		c.transition(s, StateFinishing)
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FinishTimeout)
		defer cancel()
		if rerr := c.deps.Stabilizer.Restore(fctx, tok); rerr != nil {
			c.cfg.Logger.Warn("coordinator: release failed", "session", s.ID, "error", rerr)
		}
	}()
	tok, err = c.deps.Stabilizer.Stabilize(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: stabilize: %w", err)
	}

	c.transition(s, StateCapturing)
	return c.tileLoop(ctx, s)
}

// tileLoop walks rows top to bottom and columns left to right. A row or
// column starts only while its overlap-free part is still inside the
// document, which yields Steps tiles per axis.
func (c *Coordinator) tileLoop(ctx context.Context, s *Session) error {
	m := s.Metrics
	s.OverlapX = Overlap(m.ViewportWidth, c.cfg.OverlapPercent)
	s.OverlapY = Overlap(m.ViewportHeight, c.cfg.OverlapPercent)
	s.StepX = m.ViewportWidth - s.OverlapX
	s.StepY = m.ViewportHeight - s.OverlapY
	s.TotalSteps = Steps(m.FullWidth, m.ViewportWidth, s.OverlapX) * Steps(m.FullHeight, m.ViewportHeight, s.OverlapY)

	c.cfg.Logger.Debug("coordinator: tiling",
		"session", s.ID, "steps", s.TotalSteps,
		"step_x", s.StepX, "step_y", s.StepY, "overlap_x", s.OverlapX, "overlap_y", s.OverlapY)

	for s.CursorY = 0; s.CursorY+s.OverlapY < m.FullHeight; s.CursorY += s.StepY {
		for s.CursorX = 0; s.CursorX+s.OverlapX < m.FullWidth; s.CursorX += s.StepX {
			seq := len(s.Tiles)
			pos, err := c.deps.Surface.ScrollTo(ctx, host.ScrollRequest{
				X: s.CursorX, Y: s.CursorY, Index: seq, Total: s.TotalSteps,
			})
			if err != nil {
				return fmt.Errorf("coordinator: scroll to %d,%d: %w", s.CursorX, s.CursorY, err)
			}
			if err := c.settle(ctx); err != nil {
				return fmt.Errorf("coordinator: settle: %w", err)
			}
			if err := c.captureTile(ctx, s, pos); err != nil {
				return err
			}
			if err := c.deps.Surface.Progress(ctx, seq+1, s.TotalSteps); err != nil {
				c.cfg.Logger.Debug("coordinator: progress update failed", "session", s.ID, "error", err)
			}
		}
	}
	return nil
}

func (c *Coordinator) runVisible(ctx context.Context, s *Session) error {
	c.transition(s, StateCapturing)
	return c.captureTile(ctx, s, host.Position{})
}

func (c *Coordinator) runRegion(ctx context.Context, s *Session) error {
	if c.deps.Region == nil {
		return fmt.Errorf("coordinator: %w: no region source", shot.ErrInvalidRegion)
	}
	if err := c.inject(ctx, s); err != nil {
		return err
	}

	c.transition(s, StateSelecting)
	rect, err := c.deps.Region.Select(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: select region: %w", err)
	}
	s.Region = &rect

	c.transition(s, StateCapturing)
	// The overlay was just removed; give the page one settle to repaint.
	if err := c.settle(ctx); err != nil {
		return fmt.Errorf("coordinator: settle: %w", err)
	}
	pos, err := c.deps.Surface.ScrollPosition(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: scroll position: %w", err)
	}
	return c.captureTile(ctx, s, pos)
}

func (c *Coordinator) inject(ctx context.Context, s *Session) error {
	c.transition(s, StateInjecting)
	if err := c.deps.Surface.Inject(ctx); err != nil {
		if !errors.Is(err, shot.ErrInjectionFailed) {
			err = fmt.Errorf("%w: %w", shot.ErrInjectionFailed, err)
		}
		return fmt.Errorf("coordinator: inject: %w", err)
	}
	return nil
}

// captureTile records the viewport at the position the page actually
// reached, which near the document edges is short of the one requested.
func (c *Coordinator) captureTile(ctx context.Context, s *Session, pos host.Position) error {
	img, err := c.deps.Surface.CaptureVisible(ctx)
	if err != nil {
		if !errors.Is(err, shot.ErrCaptureFailed) && !errors.Is(err, shot.ErrCommunicationTimeout) {
			err = fmt.Errorf("%w: %w", shot.ErrCaptureFailed, err)
		}
		return fmt.Errorf("coordinator: capture tile %d: %w", len(s.Tiles), err)
	}
	tile := shot.Tile{
		Image:  img,
		Format: c.deps.Surface.Format(),
		PageX:  pos.X,
		PageY:  pos.Y,
		Seq:    len(s.Tiles),
	}
	s.Tiles = append(s.Tiles, tile)

	c.cfg.Logger.Debug("coordinator: tile captured", "session", s.ID, "seq", tile.Seq, "x", tile.PageX, "y", tile.PageY)
	if c.cfg.OnTile != nil {
		c.cfg.OnTile(s.ID, tile, s.TotalSteps)
	}
	return nil
}

func (c *Coordinator) handOff(ctx context.Context, s *Session) error {
	h := &shot.Handoff{
		SessionID: s.ID,
		Mode:      s.Mode,
		URL:       s.URL,
		Title:     s.Title,
		Metrics:   s.Metrics,
		Region:    s.Region,
		Tiles:     s.Tiles,
		SavedAt:   c.cfg.Now().UTC(),
	}
	if err := c.deps.Store.SaveHandoff(ctx, h); err != nil {
		if !errors.Is(err, shot.ErrStorageFailure) {
			err = fmt.Errorf("%w: %w", shot.ErrStorageFailure, err)
		}
		return fmt.Errorf("coordinator: persist: %w", err)
	}

	if c.deps.Notifier == nil {
		return nil
	}
	ready := shot.Ready{
		SessionID: s.ID,
		Mode:      s.Mode,
		URL:       s.URL,
		Tiles:     len(s.Tiles),
		Timestamp: h.SavedAt.UnixMilli(),
	}
	if err := c.deps.Notifier.SendReady(ctx, ready); err != nil {
		c.cfg.Logger.Warn("coordinator: ready signal failed", "session", s.ID, "error", err)
	}
	return nil
}

func (c *Coordinator) settle(ctx context.Context) error {
	t := time.NewTimer(c.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Coordinator) transition(s *Session, to State) {
	from := s.State
	s.State = to
	s.Path = append(s.Path, to)
	c.cfg.Logger.Debug("coordinator: transition", "session", s.ID, "from", from, "to", to)
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(s.ID, from, to)
	}
}
