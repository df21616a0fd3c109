// Package export writes holograms to image files.
package export

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/holofab/internal/cgh"
)

// TimestampLayout is the time layout embedded in exported file names.
const TimestampLayout = "2006Jan02_150405"

// Format is an export image format.
type Format string

const (
	PNG  Format = "png"
	TIFF Format = "tiff"
	WebP Format = "webp"
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts a format name or file suffix, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return PNG, nil
	case "tif", "tiff":
		return TIFF, nil
	case "webp":
		return WebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Filename returns dir/prefix_<timestamp>.suffix.
func Filename(dir, prefix, suffix string, now time.Time) string {
	name := fmt.Sprintf("%s_%s.%s", prefix, now.Format(TimestampLayout), strings.TrimPrefix(suffix, "."))
	return filepath.Join(dir, name)
}

// Write encodes h as an 8-bit grayscale image.
func Write(w io.Writer, f Format, h *cgh.Hologram) error {
	img := h.Image()
	switch f {
	case PNG:
		return png.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case WebP:
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("WebP encode: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Save writes h under dir with a timestamped name and returns the path.
// prefix must satisfy ValidatePrefix.
func Save(dir, prefix string, f Format, h *cgh.Hologram, now time.Time) (string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := Filename(dir, prefix, string(f), now)
	if err := withinDir(path, dir); err != nil {
		return "", err
	}
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(file, f, h); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	return path, file.Close()
}
