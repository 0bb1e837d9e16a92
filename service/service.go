// Package service runs detections against the active model and shapes the results for
// clients: normalized boxes, the top disease and its agronomic notes.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"CropDetServer/engine"
	iface "CropDetServer/interface"
	"CropDetServer/logger"
	"CropDetServer/media"
	"CropDetServer/monitor"
	"CropDetServer/normalize"
	"CropDetServer/registry"
)

var (
	ErrNoBackend     = errors.New("no detection backend available")
	ErrVideoNotFound = errors.New("video not found")
)

type Source string

const (
	SourceDetector   Source = "detector"
	SourceClassifier Source = "classifier"
)

// Prediction is the answer to a single uploaded image.
type Prediction struct {
	Source     Source              `json:"source"`
	ModelID    string              `json:"model_id"`
	Disease    *string             `json:"disease"`
	Confidence float64             `json:"confidence"`
	Boxes      []iface.Box         `json:"boxes"`
	Info       *engine.DiseaseInfo `json:"info,omitempty"`
	FrameSize  [2]int              `json:"frame_size"`
	Timestamp  time.Time           `json:"timestamp"`
}

// FrameBox is a detection laid out for canvas overlays: unit corners plus x, y, w, h.
type FrameBox struct {
	Class string  `json:"class"`
	Conf  float64 `json:"conf"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
}

type FrameResult struct {
	Detections []FrameBox `json:"detections"`
	Count      int        `json:"count"`
	FrameSize  [2]int     `json:"frame_size"`
}

type VideoFrame struct {
	Frame      int        `json:"frame"`
	Detections []FrameBox `json:"detections"`
	FrameSize  [2]int     `json:"frame_size"`
}

type Options struct {
	// FallbackModel is the classifier tried when the active detector fails.
	FallbackModel string
	// VideoStride processes every nth video frame.
	VideoStride int
}

type Service struct {
	models  *registry.Registry[iface.ModelDescriptor]
	loader  *registry.Loader
	pool    *engine.Pool
	factory registry.Factory
	opts    Options

	fbMu     sync.Mutex
	fallback iface.Backend

	frames func(ctx context.Context, path string, every int, fn media.FrameFunc) error
}

func New(models *registry.Registry[iface.ModelDescriptor], loader *registry.Loader, pool *engine.Pool,
	factory registry.Factory, opts Options) *Service {
	if opts.VideoStride <= 0 {
		opts.VideoStride = 2
	}
	return &Service{
		models:  models,
		loader:  loader,
		pool:    pool,
		factory: factory,
		opts:    opts,
		frames:  media.Frames,
	}
}

func (s *Service) Models() *registry.Registry[iface.ModelDescriptor] { return s.models }

func (s *Service) Loader() *registry.Loader { return s.loader }

func (s *Service) LoadActive() <-chan struct{} {
	desc, err := s.models.GetActive()
	if err != nil {
		logger.Log().Error("registry has no active model", zap.Error(err))
		done := make(chan struct{})
		close(done)
		return done
	}
	logger.Log().Info("loading active model", zap.String("model", desc.ID), zap.String("runtime", string(desc.Runtime)))
	return s.loader.Load(desc)
}

// SwitchModel selects id and reloads in the background. False means id is unknown or disabled.
func (s *Service) SwitchModel(id string) bool {
	if !s.models.SetActive(id) {
		return false
	}
	s.LoadActive()
	return true
}

// Predict runs the active model on frame. When the active model is a detector and it
// fails, the configured classifier is tried before giving up with ErrNoBackend.
func (s *Service) Predict(ctx context.Context, frame iface.Frame) (Prediction, error) {
	backend, release, err := s.loader.Acquire()
	if err != nil {
		return Prediction{}, err
	}
	defer release()

	desc := backend.Descriptor()
	dets, err := s.pool.Submit(ctx, backend, frame)
	if err == nil {
		return s.prediction(sourceOf(desc), desc.ID, dets, frame), nil
	}
	if ctx.Err() != nil {
		return Prediction{}, ctx.Err()
	}
	logger.Log().Error("prediction failed", zap.String("model", desc.ID), zap.Error(err))
	if desc.Kind == iface.KindSecondary {
		return Prediction{}, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}

	fb, fbErr := s.fallbackBackend(ctx)
	if fbErr != nil {
		logger.Log().Error("fallback classifier unavailable", zap.Error(fbErr))
		return Prediction{}, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}
	dets, fbErr = s.pool.Submit(ctx, fb, frame)
	if fbErr != nil {
		logger.Log().Error("fallback prediction failed", zap.String("model", fb.Descriptor().ID), zap.Error(fbErr))
		return Prediction{}, fmt.Errorf("%w: %v", ErrNoBackend, fbErr)
	}
	return s.prediction(SourceClassifier, fb.Descriptor().ID, dets, frame), nil
}

func sourceOf(desc iface.ModelDescriptor) Source {
	if desc.Kind == iface.KindSecondary {
		return SourceClassifier
	}
	return SourceDetector
}

func (s *Service) prediction(source Source, modelID string, dets []iface.Detection, frame iface.Frame) Prediction {
	monitor.PredictionsTotal.WithLabelValues(string(source)).Inc()
	p := Prediction{
		Source:    source,
		ModelID:   modelID,
		Boxes:     make([]iface.Box, 0, len(dets)),
		FrameSize: [2]int{frame.Height, frame.Width},
		Timestamp: time.Now(),
	}
	var top *iface.Detection
	for i := range dets {
		d := &dets[i]
		if top == nil || d.Confidence > top.Confidence {
			top = d
		}
		p.Boxes = append(p.Boxes, unitBox(*d, frame))
	}
	if top != nil {
		name := top.ClassName
		p.Disease = &name
		p.Confidence = percent(top.Confidence)
		if info, ok := engine.LookupDisease(name); ok {
			p.Info = &info
		}
	}
	return p
}

// unitBox tags b with its class and percent confidence, then normalizes it.
func unitBox(d iface.Detection, frame iface.Frame) iface.Box {
	b := d.BBox
	b.Class = d.ClassName
	b.Conf = percent(d.Confidence)
	n := normalize.Normalize(b, frame.Width, frame.Height)
	if n.Percent == nil && n.W != nil && n.H != nil {
		n.Percent = iface.Float(normalize.Round((*n.W)*(*n.H)*100, 2))
	}
	return n
}

func percent(conf float64) float64 {
	return normalize.Round(conf*100, 1)
}

func (s *Service) fallbackBackend(ctx context.Context) (iface.Backend, error) {
	s.fbMu.Lock()
	defer s.fbMu.Unlock()
	if s.fallback != nil {
		return s.fallback, nil
	}
	if s.opts.FallbackModel == "" {
		return nil, errors.New("no fallback model configured")
	}
	desc, ok := s.models.Get(s.opts.FallbackModel)
	if !ok {
		return nil, fmt.Errorf("fallback model %q: %w", s.opts.FallbackModel, registry.ErrNotFound)
	}
	b, err := s.factory(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("load fallback %s: %w", desc.ID, err)
	}
	logger.Log().Info("fallback classifier loaded", zap.String("model", desc.ID))
	s.fallback = b
	return b, nil
}

func (s *Service) DetectFrame(ctx context.Context, frame iface.Frame) (FrameResult, error) {
	boxes, err := s.frameBoxes(ctx, frame)
	if err != nil {
		return FrameResult{}, err
	}
	return FrameResult{Detections: boxes, Count: len(boxes), FrameSize: [2]int{frame.Height, frame.Width}}, nil
}

func (s *Service) frameBoxes(ctx context.Context, frame iface.Frame) ([]FrameBox, error) {
	backend, release, err := s.loader.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	dets, err := s.pool.Submit(ctx, backend, frame)
	if err != nil {
		return nil, err
	}
	monitor.PredictionsTotal.WithLabelValues(string(sourceOf(backend.Descriptor()))).Inc()
	boxes := make([]FrameBox, 0, len(dets))
	for _, d := range dets {
		n := unitBox(d, frame)
		if n.X == nil || n.Y == nil || n.W == nil || n.H == nil {
			logger.Log().Warn("dropping box without unit geometry", zap.String("class", d.ClassName))
			continue
		}
		x, y, w, h := *n.X, *n.Y, *n.W, *n.H
		boxes = append(boxes, FrameBox{
			Class: n.Class,
			Conf:  n.Conf,
			X1:    x,
			Y1:    y,
			X2:    normalize.Round(x+w, 4),
			Y2:    normalize.Round(y+h, 4),
			X:     x,
			Y:     y,
			W:     w,
			H:     h,
		})
	}
	return boxes, nil
}

// DetectVideo samples every VideoStride-th frame of the video at path and hands each
// result to emit as soon as it is ready.
func (s *Service) DetectVideo(ctx context.Context, path string, emit func(VideoFrame) error) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, path)
	}
	return s.frames(ctx, path, s.opts.VideoStride, func(idx int, frame iface.Frame) error {
		boxes, err := s.frameBoxes(ctx, frame)
		if err != nil {
			return err
		}
		return emit(VideoFrame{Frame: idx, Detections: boxes, FrameSize: [2]int{frame.Height, frame.Width}})
	})
}

// Close releases the fallback classifier. The loader and pool are owned by the caller.
func (s *Service) Close() error {
	s.fbMu.Lock()
	defer s.fbMu.Unlock()
	if s.fallback == nil {
		return nil
	}
	err := s.fallback.Close()
	s.fallback = nil
	return err
}
