package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	iface "CropDetServer/interface"
	"CropDetServer/logger"
	"CropDetServer/media"
)

// Remote forwards frames to an external inference service.
//
// The service is expected to answer GET /health with a 2xx and POST /predict (multipart
// "file", form field "model") with {"detections": [...]} using the Detection JSON shape.
// Frames larger than RemoteMaxSide are downscaled before upload and pixel boxes are
// scaled back onto the original frame.
type Remote struct {
	desc    iface.ModelDescriptor
	client  *resty.Client
	maxSide int
	closed  atomic.Bool
}

type remoteResponse struct {
	Detections []iface.Detection `json:"detections"`
}

func NewRemote(ctx context.Context, desc iface.ModelDescriptor, opts Options) (*Remote, error) {
	if desc.InferenceURL == "" {
		return nil, fmt.Errorf("model %s: remote runtime needs an inferenceUrl", desc.ID)
	}
	opts = opts.withDefaults()
	client := resty.New().
		SetBaseURL(desc.InferenceURL).
		SetTimeout(opts.RemoteTimeout).
		SetHeader("Accept", "application/json")

	resp, err := client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("remote %s unreachable: %w", desc.InferenceURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote %s unhealthy: %s", desc.InferenceURL, resp.Status())
	}
	logger.Log().Info("remote backend ready", zap.String("model", desc.ID), zap.String("url", desc.InferenceURL))
	return &Remote{desc: desc, client: client, maxSide: opts.RemoteMaxSide}, nil
}

func (r *Remote) Descriptor() iface.ModelDescriptor { return r.desc }

func (r *Remote) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *Remote) Predict(ctx context.Context, frame iface.Frame) ([]iface.Detection, error) {
	if r.closed.Load() {
		return nil, ErrNotLoaded
	}
	upload, factor, err := media.Downscale(frame, r.maxSide)
	if err != nil {
		logger.Log().Warn("downscale failed, sending original", zap.Error(err))
		upload, factor = frame, 1
	}
	name := upload.Name
	if name == "" {
		name = "frame.jpg"
	}

	var out remoteResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(upload.Data)).
		SetFormData(map[string]string{"model": r.desc.ID}).
		SetResult(&out).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("remote predict: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote predict: %s: %s", resp.Status(), resp.String())
	}
	if factor != 1 {
		for i := range out.Detections {
			scaleBox(&out.Detections[i].BBox, factor)
		}
	}
	return out.Detections, nil
}

// scaleBox multiplies the pixel corners of b by f. Unit fields are left alone.
func scaleBox(b *iface.Box, f float64) {
	for _, p := range []*float64{b.X1, b.Y1, b.X2, b.Y2} {
		if p != nil {
			*p *= f
		}
	}
	if b.Space == iface.SpacePixel {
		for _, p := range []*float64{b.X, b.Y, b.W, b.H} {
			if p != nil {
				*p *= f
			}
		}
	}
}
