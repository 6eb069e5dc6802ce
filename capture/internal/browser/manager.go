// Package browser owns the Chrome process capture sessions run in: launch
// or attach over CDP, lease tabs to sessions, and recycle the process when
// it grows too large or too old, never while a session holds a tab.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode selects how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota // headless + stealth patches
	ModeHeadful              // headful under Xvfb, for pages that refuse headless
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "headless":
		return ModeHeadless, nil
	case "headful":
		return ModeHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown mode %q", s)
}

// Config configures the Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an existing Chrome.
	// Empty launches a local one.
	RemoteURL string

	// Bin overrides the Chrome binary the launcher uses.
	Bin string

	Mode Mode

	// ViewportWidth and ViewportHeight size every tab, in CSS pixels.
	// Default: 1280x800.
	ViewportWidth  int
	ViewportHeight int

	// DeviceScaleFactor emulated on every tab. Default: 1.
	DeviceScaleFactor float64

	// MemoryLimit in bytes of JS heap before the process is recycled.
	// Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum process lifetime. Default: 4h.
	RecycleInterval time.Duration

	// NavigateTimeout bounds page load. Default: 30s.
	NavigateTimeout time.Duration

	// ResourceBlocking lists request types to fail (media, fonts, ...).
	ResourceBlocking []string

	// XvfbDisplay is started for headful mode when DISPLAY is unset.
	// Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.DeviceScaleFactor <= 0 {
		c.DeviceScaleFactor = 1
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	leased  int
	pending bool // recycle requested while tabs were leased
	closed  bool
}

// NewManager creates a Manager. Call Start before opening tabs.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches or attaches to Chrome and starts the health monitor,
// which runs until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}
	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)
	return nil
}

// Close shuts Chrome and Xvfb down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

// lease hands out the current browser and pins it until release.
func (m *Manager) lease() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser == nil {
		return nil, fmt.Errorf("browser: not started")
	}
	m.leased++
	return m.browser, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leased > 0 {
		m.leased--
	}
	if m.leased == 0 && m.pending && !m.closed {
		m.pending = false
		if err := m.recycleLocked(); err != nil {
			m.cfg.Logger.Error("browser: deferred recycle failed", "error", err)
		}
	}
}

// Recycle restarts Chrome now, or as soon as the last leased tab closes.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.leased > 0 {
		m.pending = true
		m.cfg.Logger.Info("browser: recycle deferred", "leased", m.leased)
		return nil
	}
	return m.recycleLocked()
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	// Headful on a desktop uses its display, so a person can see the page.
	display := os.Getenv("DISPLAY")
	if m.cfg.Mode == ModeHeadful && m.cfg.RemoteURL == "" && display == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
		display = m.cfg.XvfbDisplay
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: attaching to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Mode == ModeHeadless).
			Set("disable-blink-features", "AutomationControlled").
			Set("hide-scrollbars")
		if m.cfg.Mode == ModeHeadful {
			l = l.Env(append(os.Environ(), "DISPLAY="+display)...)
		}
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched chrome", "url", wsURL, "headless", m.cfg.Mode == ModeHeadless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked() error {
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
	m.cleanup()

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	return nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.closed || m.browser == nil {
			m.mu.Unlock()
			return
		}
		b, startAt := m.browser, m.startAt
		m.mu.Unlock()

		if time.Since(startAt) > m.cfg.RecycleInterval {
			m.cfg.Logger.Info("browser: recycle interval reached")
			if err := m.Recycle(); err != nil {
				m.cfg.Logger.Error("browser: recycle failed", "error", err)
			}
			continue
		}

		used, err := heapUsage(b)
		if err != nil {
			m.cfg.Logger.Debug("browser: heap check failed", "error", err)
			continue
		}
		if used > m.cfg.MemoryLimit {
			m.cfg.Logger.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			if err := m.Recycle(); err != nil {
				m.cfg.Logger.Error("browser: recycle failed", "error", err)
			}
		}
	}
}

// heapUsage sums the JS heap of every open page.
func heapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			continue
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
