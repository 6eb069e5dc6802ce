// Package config loads snapflow settings from YAML, filling defaults that
// match the capture options users know: PNG tiles, JPEG quality 90, fixed
// elements hidden, 10% overlap and a 60 second session timeout.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Capture  CaptureConfig  `yaml:"capture"`
	Assemble AssembleConfig `yaml:"assemble"`
	Annotate AnnotateConfig `yaml:"annotate"`
	Store    StoreConfig    `yaml:"store"`
	Output   OutputConfig   `yaml:"output"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Bin               string        `yaml:"bin"`
	Mode              string        `yaml:"mode"` // headless | headful
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	DeviceScaleFactor float64       `yaml:"device_scale_factor"`
	MemoryLimit       int64         `yaml:"memory_limit"`
	RecycleInterval   time.Duration `yaml:"recycle_interval"`
	NavigateTimeout   time.Duration `yaml:"navigate_timeout"`
	ResourceBlocking  []string      `yaml:"resource_blocking"`
	XvfbDisplay       string        `yaml:"xvfb_display"`
}

// CaptureConfig tunes sessions.
type CaptureConfig struct {
	Format         string        `yaml:"format"` // png | jpeg | webp
	Quality        int           `yaml:"quality"`
	HideFixed      *bool         `yaml:"hide_fixed"`
	RestoreScroll  *bool         `yaml:"restore_scroll"`
	OverlapPercent *int          `yaml:"overlap_percent"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// AssembleConfig bounds canvases.
type AssembleConfig struct {
	MaxDimension int `yaml:"max_dimension"`
}

// AnnotateConfig bounds undo history.
type AnnotateConfig struct {
	HistorySize int `yaml:"history_size"`
}

// StoreConfig selects the persistence bridge backend.
type StoreConfig struct {
	Backend       string        `yaml:"backend"` // memory | sqlite | redis
	Path          string        `yaml:"path"`
	BusyTimeoutMS int           `yaml:"busy_timeout_ms"` // sqlite
	Synchronous   string        `yaml:"synchronous"`     // sqlite: OFF | NORMAL | FULL | EXTRA
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
	QuotaBytes    int64         `yaml:"quota_bytes"`
}

// OutputConfig controls download names.
type OutputConfig struct {
	FilenamePattern string `yaml:"filename_pattern"`
}

// SinkConfig defines an announcement backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`
	Retries int    `yaml:"retries"`
}

// ServerConfig controls the result surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML file. An empty path yields Default.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 800
	}
	if c.Browser.DeviceScaleFactor <= 0 {
		c.Browser.DeviceScaleFactor = 1
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}

	if c.Capture.Format == "" {
		c.Capture.Format = "png"
	}
	if c.Capture.Quality == 0 {
		c.Capture.Quality = 90
	}
	if c.Capture.HideFixed == nil {
		c.Capture.HideFixed = ptr(true)
	}
	if c.Capture.RestoreScroll == nil {
		c.Capture.RestoreScroll = ptr(true)
	}
	if c.Capture.OverlapPercent == nil {
		c.Capture.OverlapPercent = ptr(10)
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = 150 * time.Millisecond
	}
	if c.Capture.CallTimeout <= 0 {
		c.Capture.CallTimeout = 30 * time.Second
	}
	if c.Capture.CaptureTimeout <= 0 {
		c.Capture.CaptureTimeout = 60 * time.Second
	}

	if c.Assemble.MaxDimension <= 0 {
		c.Assemble.MaxDimension = 32767
	}
	if c.Annotate.HistorySize == 0 {
		c.Annotate.HistorySize = 10
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "snapflow.db"
	}
	if c.Store.BusyTimeoutMS == 0 {
		c.Store.BusyTimeoutMS = 10_000
	}
	if c.Store.Synchronous == "" {
		c.Store.Synchronous = "NORMAL"
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "snapflow:"
	}

	if c.Output.FilenamePattern == "" {
		c.Output.FilenamePattern = "snapflow-{date}-{time}"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8790"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Retries == 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		bad("browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	switch c.Capture.Format {
	case "png", "jpeg", "webp":
	default:
		bad("capture.format %q: want png, jpeg or webp", c.Capture.Format)
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		bad("capture.quality %d: want 1-100", c.Capture.Quality)
	}
	if p := *c.Capture.OverlapPercent; p < 0 || p > 50 {
		bad("capture.overlap_percent %d: want 0-50", p)
	}
	if c.Assemble.MaxDimension > 32767 {
		bad("assemble.max_dimension %d: above 32767", c.Assemble.MaxDimension)
	}
	if h := c.Annotate.HistorySize; h < 2 || h > 20 {
		bad("annotate.history_size %d: want 2-20", h)
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		bad("store.backend %q: want memory, sqlite or redis", c.Store.Backend)
	}
	switch strings.ToUpper(c.Store.Synchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		bad("store.synchronous %q: want OFF, NORMAL, FULL or EXTRA", c.Store.Synchronous)
	}
	if c.Store.BusyTimeoutMS < 0 {
		bad("store.busy_timeout_ms %d: negative", c.Store.BusyTimeoutMS)
	}
	if c.Store.QuotaBytes < 0 {
		bad("store.quota_bytes %d: negative", c.Store.QuotaBytes)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				bad("sinks[%d]: webhook needs url", i)
			}
		default:
			bad("sinks[%d].type %q: want stdout or webhook", i, s.Type)
		}
	}
	return errors.Join(errs...)
}

func ptr[T any](v T) *T { return &v }
