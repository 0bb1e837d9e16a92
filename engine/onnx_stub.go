//go:build !gocv
// +build !gocv

package engine

import iface "CropDetServer/interface"

// NewONNX is unavailable without OpenCV; build with -tags gocv.
func NewONNX(_ iface.ModelDescriptor, _ Options) (iface.Backend, error) {
	return nil, ErrRuntimeUnavailable
}
