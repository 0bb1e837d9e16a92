package engine

import (
	"context"
	"fmt"

	iface "CropDetServer/interface"
	"CropDetServer/registry"
)

// New builds the backend that executes desc.
func New(ctx context.Context, desc iface.ModelDescriptor, opts Options) (iface.Backend, error) {
	switch desc.Runtime {
	case iface.RuntimeMock, "":
		return NewMock(desc)
	case iface.RuntimeRemote:
		return NewRemote(ctx, desc, opts)
	case iface.RuntimeONNX:
		return NewONNX(desc, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRuntime, desc.Runtime)
	}
}

// Factory adapts New for the model loader.
func Factory(opts Options) registry.Factory {
	return func(ctx context.Context, desc iface.ModelDescriptor) (iface.Backend, error) {
		return New(ctx, desc, opts)
	}
}
