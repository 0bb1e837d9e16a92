//go:build gocv
// +build gocv

package media

import (
	"context"
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"

	iface "CropDetServer/interface"
)

const VideoSupported = true

// Frames reads the video at path and calls fn for every nth frame, JPEG encoded.
func Frames(ctx context.Context, path string, every int, fn FrameFunc) error {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer capture.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	name := filepath.Base(path)
	for idx := 1; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := capture.Read(&mat); !ok || mat.Empty() {
			return nil
		}
		if every > 1 && idx%every != 0 {
			continue
		}
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", idx, err)
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()
		frame := iface.Frame{
			Name:   fmt.Sprintf("%s#%d", name, idx),
			Data:   data,
			Width:  mat.Cols(),
			Height: mat.Rows(),
		}
		if err := fn(idx, frame); err != nil {
			return err
		}
	}
}
