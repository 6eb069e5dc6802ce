package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Capture.Format != "png" || c.Capture.Quality != 90 {
		t.Fatalf("format %q quality %d", c.Capture.Format, c.Capture.Quality)
	}
	if !*c.Capture.HideFixed || *c.Capture.OverlapPercent != 10 {
		t.Fatalf("hide_fixed %v overlap %d", *c.Capture.HideFixed, *c.Capture.OverlapPercent)
	}
	if c.Capture.CaptureTimeout != 60*time.Second || c.Capture.CallTimeout != 30*time.Second {
		t.Fatalf("timeouts %v / %v", c.Capture.CaptureTimeout, c.Capture.CallTimeout)
	}
	if c.Assemble.MaxDimension != 32767 || c.Annotate.HistorySize != 10 {
		t.Fatalf("max %d history %d", c.Assemble.MaxDimension, c.Annotate.HistorySize)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestExplicitZeroOverlapKept(t *testing.T) {
	// WHAT: overlap_percent: 0 and hide_fixed: false survive defaults.
	// WHY: both are meaningful values, not "unset".
	c, err := Parse([]byte("capture:\n  overlap_percent: 0\n  hide_fixed: false\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *c.Capture.OverlapPercent != 0 || *c.Capture.HideFixed {
		t.Fatalf("overlap %d hide_fixed %v", *c.Capture.OverlapPercent, *c.Capture.HideFixed)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapflow.yaml")
	yml := `
browser:
  viewport_width: 1000
  viewport_height: 1000
capture:
  format: jpeg
  quality: 75
  settle_delay: 250ms
store:
  backend: sqlite
sinks:
  - type: webhook
    url: http://localhost:9000/hook
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Browser.ViewportWidth != 1000 || c.Capture.Format != "jpeg" || c.Capture.SettleDelay != 250*time.Millisecond {
		t.Fatalf("got %+v", c)
	}
	if c.Store.Path != "snapflow.db" || c.Sinks[0].Retries != 3 {
		t.Fatalf("store path %q retries %d", c.Store.Path, c.Sinks[0].Retries)
	}
}

func TestValidateCollectsAll(t *testing.T) {
	_, err := Parse([]byte(`
capture:
  format: gif
  overlap_percent: 60
annotate:
  history_size: 50
store:
  backend: s3
sinks:
  - type: webhook
`))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"capture.format", "overlap_percent", "history_size", "store.backend", "webhook needs url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestStoreSQLiteTuning(t *testing.T) {
	// WHAT: sqlite tuning defaults to NORMAL sync and a 10s busy timeout.
	c, err := Parse([]byte("store:\n  backend: sqlite\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Store.Synchronous != "NORMAL" || c.Store.BusyTimeoutMS != 10_000 {
		t.Fatalf("got synchronous %q busy %d, want NORMAL 10000", c.Store.Synchronous, c.Store.BusyTimeoutMS)
	}

	_, err = Parse([]byte("store:\n  synchronous: sometimes\n  busy_timeout_ms: -1\n"))
	if err == nil {
		t.Fatal("Parse: got nil error, want validation failure")
	}
	for _, want := range []string{"store.synchronous", "store.busy_timeout_ms"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q: want mention of %s", err, want)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
	c, err := LoadFile("")
	if err != nil || c.Server.Addr == "" {
		t.Fatalf("empty path: %v", err)
	}
}
