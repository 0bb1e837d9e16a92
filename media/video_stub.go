//go:build !gocv
// +build !gocv

package media

import "context"

// VideoSupported reports whether Frames can decode video in this build.
const VideoSupported = false

func Frames(_ context.Context, _ string, _ int, _ FrameFunc) error {
	return ErrVideoUnsupported
}
