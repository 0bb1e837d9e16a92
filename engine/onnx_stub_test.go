//go:build !gocv
// +build !gocv

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	iface "CropDetServer/interface"
)

func TestONNXNeedsGocv(t *testing.T) {
	_, err := New(context.Background(), iface.ModelDescriptor{ID: "yolo", Runtime: iface.RuntimeONNX}, Options{})
	assert.ErrorIs(t, err, ErrRuntimeUnavailable)
}
