package assemble

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("assemble: unsupported format")

// Decode decodes a tile. PNG, JPEG and WebP are recognised by content.
func Decode(t shot.Tile) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(t.Image))
	if err != nil {
		return nil, fmt.Errorf("assemble: %w: tile %d: %w", shot.ErrCaptureFailed, t.Seq, err)
	}
	return img, nil
}

// Encode writes img in format: png, jpeg, bmp or tiff. quality applies to
// jpeg only.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	var err error
	switch format {
	case "", "png":
		err = (&png.Encoder{CompressionLevel: png.BestSpeed}).Encode(w, img)
	case "jpeg", "jpg":
		if quality < 1 || quality > 100 {
			quality = 90
		}
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "bmp":
		err = bmp.Encode(w, img)
	case "tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("assemble: encode %s: %w", format, err)
	}
	return nil
}

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	}
	return "image/png"
}

// Extension returns the file extension of an export format.
func Extension(format string) string {
	switch format {
	case "jpeg", "jpg":
		return ".jpg"
	case "bmp":
		return ".bmp"
	case "tiff":
		return ".tiff"
	}
	return ".png"
}
