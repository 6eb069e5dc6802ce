// Package capture is the entry point for taking screenshots of web pages.
//
// A Capturer opens a tab per session, installs the in-page surface and hands
// the tab to a coordinator that measures, stabilises, scrolls and captures.
// Finished sessions are persisted through the key/value bridge and announced
// on the configured sinks; failed ones are announced with their failure kind.
//
// Usage:
//
//	c, err := capture.New(capture.Options{Config: cfg, Registerer: prometheus.DefaultRegisterer})
//	if err != nil { ... }
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Close()
//	sess, err := c.Capture(ctx, capture.Request{URL: "https://example.com", Mode: shot.ModeFull})
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/snapflow/capture/internal/browser"
	"github.com/hazyhaar/snapflow/capture/internal/coordinator"
	"github.com/hazyhaar/snapflow/capture/internal/host"
	"github.com/hazyhaar/snapflow/capture/internal/kvstore"
	"github.com/hazyhaar/snapflow/capture/internal/probe"
	"github.com/hazyhaar/snapflow/capture/internal/region"
	"github.com/hazyhaar/snapflow/capture/internal/sink"
	"github.com/hazyhaar/snapflow/capture/internal/stabilizer"
	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/idgen"
	"github.com/hazyhaar/snapflow/internal/config"
	"github.com/hazyhaar/snapflow/kit"
)

// ErrNotFound is returned when no handoff exists for a capture id.
var ErrNotFound = kvstore.ErrNotFound

// Session is the final state of one capture session.
type Session = coordinator.Session

// Tab is a browser page leased for one session.
type Tab interface {
	host.Page
	Title(ctx context.Context) string
	Close() error
}

// Opener opens a tab on a URL.
type Opener interface {
	OpenTab(ctx context.Context, url string) (Tab, error)
}

// Request names one capture.
type Request struct {
	URL  string    `json:"url"`
	Mode shot.Mode `json:"mode"`

	// Rect is "x,y,width,height" in CSS pixels for region captures. Empty
	// in region mode shows the interactive selection overlay, which needs
	// a headful browser someone is looking at.
	Rect string `json:"rect,omitempty"`
}

// Options configures a Capturer.
type Options struct {
	Config *config.Config

	// Opener overrides the browser. Nil launches Chrome per Config.Browser.
	Opener Opener

	// Store overrides the persistence backend chosen by Config.Store.
	Store kvstore.Store

	// Sinks are announced to in addition to those in Config.Sinks.
	Sinks []sink.Sink

	// Stdout receives stdout sink lines. Default: os.Stdout.
	Stdout io.Writer

	// Registerer receives the capture metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	IDs    idgen.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

// Capturer runs capture sessions.
type Capturer struct {
	cfg     *config.Config
	opener  Opener
	mgr     *browser.Manager
	store   kvstore.Store
	bridge  kvstore.Bridge
	router  *sink.Router
	metrics *Metrics
	ids     idgen.Generator
	now     func() time.Time
	logger  *slog.Logger
}

// New builds a Capturer. Chrome is not started until Start.
func New(opts Options) (*Capturer, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Session
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	cfg := opts.Config

	c := &Capturer{
		cfg:     cfg,
		opener:  opts.Opener,
		metrics: NewMetrics(opts.Registerer),
		ids:     opts.IDs,
		now:     opts.Now,
		logger:  opts.Logger,
	}

	if c.opener == nil {
		bcfg, err := browserConfig(cfg.Browser, opts.Logger)
		if err != nil {
			return nil, err
		}
		c.mgr = browser.NewManager(bcfg)
		c.opener = managerOpener{c.mgr}
	}

	c.store = opts.Store
	if c.store == nil {
		st, err := OpenStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		c.store = st
	}
	c.bridge = kvstore.Bridge{Store: c.store}

	sinks, err := buildSinks(cfg.Sinks, opts.Stdout, opts.Logger)
	if err != nil {
		return nil, err
	}
	c.router = sink.NewRouter(opts.Logger, append(sinks, opts.Sinks...)...)
	return c, nil
}

// Start launches or attaches to Chrome. It is a no-op with a custom Opener.
func (c *Capturer) Start(ctx context.Context) error {
	if c.mgr == nil {
		return nil
	}
	return c.mgr.Start(ctx)
}

// Close shuts Chrome down and closes the store and sinks.
func (c *Capturer) Close() error {
	var errs []error
	if c.mgr != nil {
		errs = append(errs, c.mgr.Close())
	}
	errs = append(errs, c.router.Close(), c.store.Close())
	return errors.Join(errs...)
}

// Metrics returns the collectors this Capturer feeds.
func (c *Capturer) Metrics() *Metrics { return c.metrics }

// Capture runs one session to completion. The session id comes from
// kit.GetCaptureID when set, else from the id generator. A pinned id
// that is already stored is refused. A non-nil Session
// is returned whenever a tab was opened, including on failure.
func (c *Capturer) Capture(ctx context.Context, req Request) (*Session, error) {
	mode, err := shot.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, errors.New("capture: url is required")
	}
	id := kit.GetCaptureID(ctx)
	if id == "" {
		id = c.ids()
	} else if _, err := c.bridge.LoadMeta(ctx, id); err == nil {
		return nil, fmt.Errorf("capture: session %s already exists", id)
	}

	start := c.now()
	s, err := c.run(ctx, id, mode, req)
	c.metrics.observe(mode, err, c.now().Sub(start))
	if err != nil {
		c.announceFailure(ctx, id, mode, req.URL, err)
		return s, fmt.Errorf("capture %s: %w", id, err)
	}
	c.logger.Info("capture: done", "id", id, "mode", mode, "url", req.URL, "tiles", len(s.Tiles))
	return s, nil
}

func (c *Capturer) run(ctx context.Context, id string, mode shot.Mode, req Request) (*Session, error) {
	var fixed *shot.RegionRect
	if mode == shot.ModeRegion && req.Rect != "" {
		r, err := region.ParseRect(req.Rect, c.cfg.Browser.DeviceScaleFactor)
		if err != nil {
			return nil, err
		}
		if !r.Committable() {
			return nil, fmt.Errorf("capture: %w: %dx%d is too small", shot.ErrInvalidRegion, r.Width, r.Height)
		}
		fixed = &r
	}

	tab, err := c.opener.OpenTab(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("capture: %w: open %s: %w", shot.ErrInjectionFailed, req.URL, err)
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			c.logger.Debug("capture: close tab", "id", id, "error", cerr)
		}
	}()

	// Page events are forwarded for as long as the session runs.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := c.logger.With("id", id)
	cc := c.cfg.Capture
	client := host.New(tab, host.Config{
		Timeout: cc.CallTimeout,
		Format:  cc.Format,
		Quality: cc.Quality,
		Logger:  log,
	})
	deps := coordinator.Deps{
		Surface: client,
		Prober:  probe.New(client, log),
		Stabilizer: stabilizer.New(client, stabilizer.Options{
			HideFixed:     *cc.HideFixed,
			RestoreScroll: *cc.RestoreScroll,
			Logger:        log,
		}),
		Store:    c.bridge,
		Notifier: c.router,
	}
	if mode == shot.ModeRegion {
		if fixed != nil {
			deps.Region = region.Fixed{Rect: *fixed}
		} else {
			deps.Region = region.NewInteractive(client, log)
		}
	}

	coord := coordinator.New(deps, coordinator.Config{
		OverlapPercent: *cc.OverlapPercent,
		SettleDelay:    cc.SettleDelay,
		CaptureTimeout: cc.CaptureTimeout,
		OnTransition:   c.metrics.transition,
		OnTile:         c.metrics.tile,
		Now:            c.now,
		Logger:         log,
	})
	return coord.Run(ctx, coordinator.Request{
		ID:    id,
		Mode:  mode,
		URL:   req.URL,
		Title: tab.Title(ctx),
	})
}

func (c *Capturer) announceFailure(ctx context.Context, id string, mode shot.Mode, url string, err error) {
	f := sink.Failed{
		SessionID: id,
		Mode:      mode,
		URL:       url,
		Kind:      shot.KindOf(err),
		Message:   err.Error(),
		Timestamp: c.now().UnixMilli(),
	}
	// The session context may be the reason we failed.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := c.router.SendFailed(sctx, f); serr != nil {
		c.logger.Warn("capture: failure signal failed", "id", id, "error", serr)
	}
}

// LoadMeta reads a persisted capture without its tiles.
func (c *Capturer) LoadMeta(ctx context.Context, id string) (shot.Meta, error) {
	return c.bridge.LoadMeta(ctx, id)
}

// LoadHandoff reads a persisted capture.
func (c *Capturer) LoadHandoff(ctx context.Context, id string) (*shot.Handoff, error) {
	return c.bridge.LoadHandoff(ctx, id)
}

// Delete removes a persisted capture.
func (c *Capturer) Delete(ctx context.Context, id string) error {
	return c.bridge.DeleteHandoff(ctx, id)
}

// OpenStore opens the persistence backend named by cfg.Backend.
func OpenStore(cfg config.StoreConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return kvstore.NewMemory(cfg.QuotaBytes), nil
	case "sqlite":
		opts := []kvstore.SQLiteOption{kvstore.WithQuota(cfg.QuotaBytes)}
		if cfg.BusyTimeoutMS > 0 {
			opts = append(opts, kvstore.WithBusyTimeout(cfg.BusyTimeoutMS))
		}
		if cfg.Synchronous != "" {
			opts = append(opts, kvstore.WithSynchronous(cfg.Synchronous))
		}
		st, err := kvstore.OpenSQLite(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "redis":
		return kvstore.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			kvstore.WithPrefix(cfg.Prefix),
			kvstore.WithTTL(cfg.TTL),
			kvstore.WithRedisQuota(cfg.QuotaBytes),
		), nil
	}
	return nil, fmt.Errorf("capture: unknown store backend %q", cfg.Backend)
}

func buildSinks(cfgs []config.SinkConfig, stdout io.Writer, logger *slog.Logger) ([]sink.Sink, error) {
	var out []sink.Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(stdout))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookLogger(logger),
			))
		default:
			return nil, fmt.Errorf("capture: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}

func browserConfig(bc config.BrowserConfig, logger *slog.Logger) (browser.Config, error) {
	mode, err := browser.ParseMode(bc.Mode)
	if err != nil {
		return browser.Config{}, err
	}
	return browser.Config{
		RemoteURL:         bc.Remote,
		Bin:               bc.Bin,
		Mode:              mode,
		ViewportWidth:     bc.ViewportWidth,
		ViewportHeight:    bc.ViewportHeight,
		DeviceScaleFactor: bc.DeviceScaleFactor,
		MemoryLimit:       bc.MemoryLimit,
		RecycleInterval:   bc.RecycleInterval,
		NavigateTimeout:   bc.NavigateTimeout,
		ResourceBlocking:  bc.ResourceBlocking,
		XvfbDisplay:       bc.XvfbDisplay,
		Logger:            logger,
	}, nil
}

type managerOpener struct{ m *browser.Manager }

func (o managerOpener) OpenTab(ctx context.Context, url string) (Tab, error) {
	t, err := o.m.OpenTab(ctx, url)
	if err != nil {
		return nil, err
	}
	return t, nil
}
