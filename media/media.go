// Package media inspects uploaded images and turns videos into frames.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	iface "CropDetServer/interface"
)

var (
	ErrEmptyFrame       = errors.New("empty frame data")
	ErrVideoUnsupported = errors.New("video decoding requires the gocv build tag")
)

var (
	imageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}
	videoExtensions = []string{"mp4", "avi", "mov"}
)

const defaultJPEGQuality = 90

func AllowedExtensions() []string {
	return append(append([]string{}, imageExtensions...), videoExtensions...)
}

func ext(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Allowed reports whether filename has an accepted image or video extension.
func Allowed(filename string) bool {
	e := ext(filename)
	for _, a := range AllowedExtensions() {
		if e == a {
			return true
		}
	}
	return false
}

func IsVideo(filename string) bool {
	e := ext(filename)
	for _, v := range videoExtensions {
		if e == v {
			return true
		}
	}
	return false
}

// Inspect decodes just enough of data to return a frame with its dimensions.
func Inspect(name string, data []byte) (iface.Frame, error) {
	if len(data) == 0 {
		return iface.Frame{}, ErrEmptyFrame
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return iface.Frame{}, fmt.Errorf("cannot read image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return iface.Frame{}, fmt.Errorf("cannot read image: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	return iface.Frame{Name: name, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// DecodeBase64 decodes a base64 frame, optionally carrying a data:image/...; prefix.
func DecodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 frame: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	return data, nil
}

// Downscale shrinks frame so its longest side is at most maxSide and re-encodes it as
// JPEG. The returned factor maps coordinates on the result back onto the original
// (multiply by it). Frames already small enough come back unchanged with factor 1.
func Downscale(frame iface.Frame, maxSide int) (iface.Frame, float64, error) {
	longest := max(frame.Width, frame.Height)
	if maxSide <= 0 || longest <= maxSide {
		return frame, 1, nil
	}
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return frame, 1, fmt.Errorf("decode for resize: %w", err)
	}
	scale := float64(maxSide) / float64(longest)
	w := uint(float64(frame.Width) * scale)
	h := uint(float64(frame.Height) * scale)
	resized := resize.Resize(w, h, img, resize.Bilinear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: defaultJPEGQuality}); err != nil {
		return frame, 1, fmt.Errorf("encode resized frame: %w", err)
	}
	b := resized.Bounds()
	out := iface.Frame{Name: jpegName(frame.Name), Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}
	return out, float64(frame.Width) / float64(out.Width), nil
}

func jpegName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "frame"
	}
	return base + ".jpg"
}

type FrameFunc func(index int, frame iface.Frame) error
