// Package imageproc shrinks received images to a bounded size in place.
package imageproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxWidth  = 1920
	DefaultMaxHeight = 1080
	DefaultQuality   = 85
)

// Processor fits images inside MaxWidth x MaxHeight, keeping aspect ratio.
type Processor struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// Result describes the processed image.
type Result struct {
	Path    string
	Width   int
	Height  int
	Resized bool
}

func New(maxWidth int, maxHeight int, quality int) *Processor {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Processor{MaxWidth: maxWidth, MaxHeight: maxHeight, Quality: quality}
}

// Process decodes path, and when it exceeds the bounds rewrites it downscaled.
// Images already within bounds are left untouched.
func (p *Processor) Process(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	result := Result{Path: path, Width: bounds.Dx(), Height: bounds.Dy()}
	if result.Width <= p.MaxWidth && result.Height <= p.MaxHeight {
		return result, nil
	}

	fitted := imaging.Fit(img, p.MaxWidth, p.MaxHeight, imaging.Lanczos)

	if _, err := imaging.FormatFromFilename(path); err != nil {
		return Result{}, fmt.Errorf("unsupported output format: %w", err)
	}

	ext := filepath.Ext(path)
	tmp := strings.TrimSuffix(path, ext) + ".resizing" + ext
	if err := imaging.Save(fitted, tmp, imaging.JPEGQuality(p.Quality)); err != nil {
		_ = os.Remove(tmp)
		return Result{}, fmt.Errorf("save resized image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Result{}, fmt.Errorf("replace image: %w", err)
	}

	fb := fitted.Bounds()
	result.Width, result.Height, result.Resized = fb.Dx(), fb.Dy(), true
	return result, nil
}
