package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(8, 6)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(4, 4), nil))
	return buf.Bytes()
}

func TestEncodeJPEG(t *testing.T) {
	jpg := jpegBytes(t)
	out, err := EncodeJPEG(jpg, 80, ColorRGB)
	require.NoError(t, err)
	assert.Equal(t, jpg, out, "jpeg passes through")

	out, err = EncodeJPEG(pngBytes(t), 80, ColorRGB)
	require.NoError(t, err)
	mime, ok := DetectImage(out)
	assert.True(t, ok)
	assert.Equal(t, FrameMIME, mime)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 6, cfg.Height)

	out, err = EncodeJPEG(jpg, 80, ColorGray)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, img)

	_, err = EncodeJPEG([]byte("plain text, not an image"), 80, ColorRGB)
	assert.Error(t, err)
}

func TestParseColorMode(t *testing.T) {
	assert.Equal(t, ColorGray, ParseColorMode(" GRAY "))
	assert.Equal(t, ColorRGB, ParseColorMode("rgb"))
	assert.Equal(t, ColorRGB, ParseColorMode(""))
}

func writeFrames(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), jpegBytes(t), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	return dir
}

func TestDirCameraLifecycle(t *testing.T) {
	ctx := context.Background()
	cam := NewDir(writeFrames(t), DirOptions{Loop: true})

	assert.False(t, cam.IsActive())
	_, err := cam.CaptureFrame(ctx)
	assert.ErrorIs(t, err, ErrNotActive)

	require.NoError(t, cam.Start(ctx))
	assert.True(t, cam.IsActive())

	first, err := cam.CaptureFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameMIME, first.MIME)
	assert.Equal(t, jpegBytes(t), first.Data, "a.jpg sorts first")

	second, err := cam.CaptureFrame(ctx)
	require.NoError(t, err)
	mime, _ := DetectImage(second.Data)
	assert.Equal(t, FrameMIME, mime)

	third, err := cam.CaptureFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Data, third.Data, "loops back to the start")

	cam.Stop()
	cam.Stop()
	assert.False(t, cam.IsActive())
}

func TestDirCameraExhausts(t *testing.T) {
	ctx := context.Background()
	cam := NewDir(writeFrames(t), DirOptions{})
	require.NoError(t, cam.Start(ctx))

	for i := 0; i < 2; i++ {
		_, err := cam.CaptureFrame(ctx)
		require.NoError(t, err)
	}
	_, err := cam.CaptureFrame(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.False(t, cam.IsActive())
}

func TestDirCameraStartErrors(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewDir(filepath.Join(t.TempDir(), "missing"), DirOptions{}).Start(ctx))

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "x.txt"), []byte("x"), 0o644))
	assert.Error(t, NewDir(empty, DirOptions{}).Start(ctx))
}
