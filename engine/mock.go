package engine

import (
	"context"
	"hash/fnv"
	"math/rand/v2"

	iface "CropDetServer/interface"
)

// Mock is a deterministic backend for development and tests. The same image bytes always
// produce the same detections. A PRIMARY descriptor yields 1-3 boxes; a SECONDARY one
// behaves as a whole-image classifier with a single fixed box.
type Mock struct {
	desc   iface.ModelDescriptor
	labels []string
	lc     lifecycle
}

func NewMock(desc iface.ModelDescriptor) (*Mock, error) {
	labels, err := labelsFor(desc)
	if err != nil {
		return nil, err
	}
	m := &Mock{desc: desc, labels: labels}
	m.lc.state = IDLE
	return m, nil
}

// State reports the lifecycle state (IDLE, BUSY or UNREGISTERED).
func (m *Mock) State() int { return m.lc.State() }

func (m *Mock) Descriptor() iface.ModelDescriptor { return m.desc }

func (m *Mock) Close() error {
	m.lc.unregister()
	return nil
}

func (m *Mock) Predict(ctx context.Context, frame iface.Frame) ([]iface.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.lc.acquire(); err != nil {
		return nil, err
	}
	defer m.lc.release()
	h := fnv.New64a()
	_, _ = h.Write(frame.Data)
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	pickClass := func() string { return m.labels[rng.IntN(len(m.labels))] }
	conf := func() float64 { return 0.70 + rng.Float64()*0.28 }

	if m.desc.Kind == iface.KindSecondary {
		return []iface.Detection{{
			ClassName:  pickClass(),
			Confidence: conf(),
			BBox:       iface.UnitBox(0.05, 0.15, 0.9, 0.7),
		}}, nil
	}

	n := 1 + rng.IntN(3)
	out := make([]iface.Detection, 0, n)
	for i := 0; i < n; i++ {
		x := 0.05 + rng.Float64()*0.55
		y := 0.05 + rng.Float64()*0.55
		w := 0.2 + rng.Float64()*(0.6-x)
		hh := 0.2 + rng.Float64()*(0.6-y)
		var box iface.Box
		if frame.Width > 0 && frame.Height > 0 {
			fw, fh := float64(frame.Width), float64(frame.Height)
			box = iface.PixelBox(int(x*fw), int(y*fh), int((x+w)*fw), int((y+hh)*fh))
		} else {
			box = iface.UnitBox(x, y, w, hh)
		}
		out = append(out, iface.Detection{ClassName: pickClass(), Confidence: conf(), BBox: box})
	}
	return out, nil
}
