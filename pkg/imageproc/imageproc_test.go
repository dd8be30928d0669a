package imageproc

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeImage(t *testing.T, name string, width int, height int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestProcessDownscalesLargeImage(t *testing.T) {
	path := writeImage(t, "big.jpg", 4000, 1000)
	p := New(1920, 1080, 85)

	result, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, result.Resized)
	assert.Equal(t, 1920, result.Width)
	assert.Equal(t, 480, result.Height)

	reopened, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1920, 480), reopened.Bounds())
}

func TestProcessLeavesSmallImageAlone(t *testing.T) {
	path := writeImage(t, "small.png", 640, 480)

	result, err := New(0, 0, 0).Process(context.Background(), path)
	require.NoError(t, err)

	assert.False(t, result.Resized)
	assert.Equal(t, 640, result.Width)
	assert.Equal(t, 480, result.Height)
}

func TestProcessRejectsNonImage(t *testing.T) {
	_, err := New(0, 0, 0).Process(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	p := New(0, -1, 200)
	assert.Equal(t, DefaultMaxWidth, p.MaxWidth)
	assert.Equal(t, DefaultMaxHeight, p.MaxHeight)
	assert.Equal(t, DefaultQuality, p.Quality)
}
