package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iface "CropDetServer/interface"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{G: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAllowed(t *testing.T) {
	for _, name := range []string{"leaf.JPG", "a.jpeg", "b.png", "c.gif", "d.bmp", "e.webp", "f.mp4", "g.avi", "h.MOV"} {
		assert.True(t, Allowed(name), name)
	}
	for _, name := range []string{"notes.txt", "noext", "archive.tar.gz", ".png.exe"} {
		assert.False(t, Allowed(name), name)
	}
	assert.True(t, IsVideo("clip.mov"))
	assert.False(t, IsVideo("leaf.png"))
}

func TestInspect(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		f, err := Inspect("leaf.png", pngBytes(t, 64, 48))
		require.NoError(t, err)
		assert.Equal(t, 64, f.Width)
		assert.Equal(t, 48, f.Height)
		assert.Equal(t, "leaf.png", f.Name)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := Inspect("x.png", nil)
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := Inspect("x.png", []byte("definitely not an image"))
		assert.Error(t, err)
	})
}

func TestDecodeBase64(t *testing.T) {
	raw := pngBytes(t, 4, 4)
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeBase64("***")
	assert.Error(t, err)

	_, err = DecodeBase64("")
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDownscale(t *testing.T) {
	frame, err := Inspect("big.png", pngBytes(t, 400, 200))
	require.NoError(t, err)

	t.Run("shrinks longest side", func(t *testing.T) {
		out, factor, err := Downscale(frame, 100)
		require.NoError(t, err)
		assert.Equal(t, 100, out.Width)
		assert.Equal(t, 50, out.Height)
		assert.InDelta(t, 4.0, factor, 1e-9)
		assert.Equal(t, "big.jpg", out.Name)

		again, err := Inspect(out.Name, out.Data)
		require.NoError(t, err)
		assert.Equal(t, 100, again.Width)
	})
	t.Run("unnamed frame", func(t *testing.T) {
		f := frame
		f.Name = ""
		out, _, err := Downscale(f, 100)
		require.NoError(t, err)
		assert.Equal(t, "frame.jpg", out.Name)
	})
	t.Run("small frame untouched", func(t *testing.T) {
		out, factor, err := Downscale(frame, 1000)
		require.NoError(t, err)
		assert.Equal(t, frame, out)
		assert.Equal(t, 1.0, factor)
	})
}

func TestFramesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Frames(ctx, "missing.mp4", 2, func(int, iface.Frame) error { return nil })
	assert.Error(t, err)
}
