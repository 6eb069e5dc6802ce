package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func testCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	fs := cmd.Flags()
	fs.String("config", "", "")
	fs.String("log-level", "", "")
	fs.String("browser", "", "")
	fs.String("browser-mode", "", "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cmd
}

func TestSetup_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapflow.yaml")
	yaml := "browser:\n  mode: headful\nlog:\n  level: info\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := testCommand(t, "--config", path, "--log-level", "debug", "--browser", "ws://127.0.0.1:9222/devtools/browser/x")
	cfg, logger, err := setup(cmd)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.Browser.Mode != "headful" {
		t.Fatalf("mode: got %q, want headful", cfg.Browser.Mode)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("level: got %q, want debug", cfg.Log.Level)
	}
	if cfg.Browser.Remote == "" {
		t.Fatal("remote not applied")
	}
	if logger == nil {
		t.Fatal("nil logger")
	}
}

func TestSetup_InvalidOverride(t *testing.T) {
	cmd := testCommand(t, "--browser-mode", "sideways")
	if _, _, err := setup(cmd); err == nil {
		t.Fatal("want validation error for browser mode")
	}
}

func TestSetup_MissingFile(t *testing.T) {
	cmd := testCommand(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, _, err := setup(cmd); err == nil {
		t.Fatal("want error for missing config file")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"full", "visible", "region", "serve", "mcp"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
	if regionCmd.Flags().Lookup("rect") == nil {
		t.Fatal("region has no --rect flag")
	}
}
