package iface

import "context"

// Backend is a loaded detection or classification model.
type Backend interface {
	// Predict runs inference on one frame. Boxes may be pixel or unit space.
	Predict(ctx context.Context, frame Frame) ([]Detection, error)
	// Descriptor reports the catalog entry the backend was built from.
	Descriptor() ModelDescriptor
	// Close releases model resources. The backend must not be used afterwards.
	Close() error
}
