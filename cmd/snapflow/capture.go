package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/snapflow/assemble"
	"github.com/hazyhaar/snapflow/capture"
	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/idgen"
)

var (
	fullCmd = &cobra.Command{
		Use:   "full URL",
		Short: "Capture the whole scrollable page",
		Args:  cobra.ExactArgs(1),
		RunE:  runCapture(shot.ModeFull),
	}
	visibleCmd = &cobra.Command{
		Use:   "visible URL",
		Short: "Capture the visible viewport",
		Args:  cobra.ExactArgs(1),
		RunE:  runCapture(shot.ModeVisible),
	}
	regionCmd = &cobra.Command{
		Use:   "region URL",
		Short: "Capture a rectangle of the viewport",
		Long: `Capture a rectangle of the viewport. With --rect the rectangle is taken
as given; without it a crosshair overlay is shown in a headful browser and
the capture waits for a selection (Escape cancels).`,
		Args: cobra.ExactArgs(1),
		RunE: runCapture(shot.ModeRegion),
	}
)

func init() {
	for _, c := range []*cobra.Command{fullCmd, visibleCmd, regionCmd} {
		c.Flags().StringP("out", "o", ".", "directory the image files are written to")
		c.Flags().StringP("format", "f", "png", "output format: png, jpeg, bmp or tiff")
	}
	regionCmd.Flags().String("rect", "", "x,y,width,height in CSS pixels")
}

// written is what a one-shot capture prints on stdout.
type written struct {
	ID    string    `json:"id"`
	Mode  shot.Mode `json:"mode"`
	URL   string    `json:"url"`
	Info  string    `json:"info"`
	Files []string  `json:"files"`
}

func runCapture(mode shot.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		outDir, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		rect, _ := cmd.Flags().GetString("rect")
		switch format {
		case "png", "jpeg", "jpg", "bmp", "tiff":
		default:
			return fmt.Errorf("format %q: want png, jpeg, bmp or tiff", format)
		}

		ctx := cmd.Context()
		c, err := capture.New(capture.Options{Config: cfg, Stdout: os.Stderr, Logger: logger})
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Start(ctx); err != nil {
			return err
		}

		sess, err := c.Capture(ctx, capture.Request{URL: args[0], Mode: mode, Rect: rect})
		if err != nil {
			return err
		}
		h, err := c.LoadHandoff(ctx, sess.ID)
		if err != nil {
			return err
		}
		parts, err := assemble.New(cfg.Assemble.MaxDimension).AssembleHandoff(h)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		out := written{ID: sess.ID, Mode: sess.Mode, URL: sess.URL, Info: capture.Describe(h.Meta())}
		for i, p := range parts {
			name := filepath.Join(outDir, idgen.Filename(cfg.Output.FilenamePattern, h.SavedAt.Local(), i, len(parts), assemble.Extension(format)))
			if err := writeImage(name, p, format, cfg.Capture.Quality); err != nil {
				return err
			}
			out.Files = append(out.Files, name)
		}
		logger.Info("snapflow: written", "id", sess.ID, "files", len(out.Files))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}

func writeImage(name string, c assemble.Canvas, format string, quality int) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return assemble.Encode(f, c.Image, format, quality)
}
