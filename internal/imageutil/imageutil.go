// Package imageutil normalizes adapter output and renders the deterministic
// fallback image used when every best-effort backend fails.
package imageutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Default canvas size for synthetic images.
const (
	DefaultWidth  = 512
	DefaultHeight = 512

	syntheticBands = 8
)

// Normalized is a decoded, size-checked image.
type Normalized struct {
	Image   []byte
	Format  string
	Width   int
	Height  int
	Resized bool
}

// Decodable returns an error unless data is a complete image in a supported
// format. It is the same check Normalize starts with.
func Decodable(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode image config: %w", err)
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	return nil
}

// Normalize decodes data, fits it into maxWidth x maxHeight when it is larger
// (zero means unbounded) and re-encodes it as format when the source format
// differs or the image was resized. The reported dimensions are the real ones.
func Normalize(data []byte, format string, maxWidth, maxHeight int) (*Normalized, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	_, srcFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if format == "" {
		format = srcFormat
	}
	if format == "jpg" {
		format = "jpeg"
	}

	out := &Normalized{Image: data, Format: format}

	bounds := img.Bounds()
	if (maxWidth > 0 && bounds.Dx() > maxWidth) || (maxHeight > 0 && bounds.Dy() > maxHeight) {
		w, h := maxWidth, maxHeight
		if w <= 0 {
			w = bounds.Dx()
		}
		if h <= 0 {
			h = bounds.Dy()
		}
		img = imaging.Fit(img, w, h, imaging.Lanczos)
		out.Resized = true
	}

	if out.Resized || format != srcFormat {
		encoded, err := Encode(img, format)
		if err != nil {
			return nil, err
		}
		out.Image = encoded
	}

	b := img.Bounds()
	out.Width, out.Height = b.Dx(), b.Dy()
	return out, nil
}

// Encode writes img in the named format ("png" or "jpeg").
func Encode(img image.Image, format string) ([]byte, error) {
	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, fmt.Errorf("unsupported output format %q: %w", format, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Quality scores how closely the produced size matches the requested one, as
// the ratio of the smaller area to the larger. No requested size scores 1.
func Quality(width, height, wantWidth, wantHeight int) float64 {
	if wantWidth <= 0 || wantHeight <= 0 {
		return 1
	}
	if width <= 0 || height <= 0 {
		return 0
	}
	got := float64(width * height)
	want := float64(wantWidth * wantHeight)
	if got > want {
		return want / got
	}
	return got / want
}

// Synthetic renders a PNG of vertical color bands derived from the prompt.
// The same prompt and size always yield the same bytes.
func Synthetic(prompt string, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	sum := sha256.Sum256([]byte(prompt))
	canvas := imaging.New(width, height, color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 255})

	bandWidth := width / syntheticBands
	if bandWidth == 0 {
		bandWidth = 1
	}
	for i := 0; i < syntheticBands && i*bandWidth < width; i++ {
		off := 3 + i*3
		band := imaging.New(bandWidth, height, color.NRGBA{R: sum[off], G: sum[off+1], B: sum[off+2], A: 255})
		canvas = imaging.Paste(canvas, band, image.Pt(i*bandWidth, 0))
	}

	return Encode(canvas, "png")
}
