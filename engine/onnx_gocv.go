//go:build gocv
// +build gocv

package engine

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	iface "CropDetServer/interface"
	"CropDetServer/logger"
)

// ONNX runs a YOLOv8-style detector through the OpenCV DNN module. The network is not
// safe for concurrent use, so Predict calls are serialized.
type ONNX struct {
	desc   iface.ModelDescriptor
	net    gocv.Net
	labels []string
	opts   Options
	lc     lifecycle
}

func NewONNX(desc iface.ModelDescriptor, opts Options) (iface.Backend, error) {
	labels, err := labelsFor(desc)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	d := &ONNX{desc: desc, labels: labels, opts: opts}
	d.lc.state = REGISTERED

	d.net = gocv.ReadNetFromONNX(desc.Path)
	if d.net.Empty() {
		return nil, fmt.Errorf("load onnx model %s: empty network", desc.Path)
	}
	if err := d.net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = d.net.Close()
		return nil, fmt.Errorf("set dnn backend: %w", err)
	}
	if err := d.net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		_ = d.net.Close()
		return nil, fmt.Errorf("set dnn target: %w", err)
	}

	// warm up so the first request does not pay for graph allocation
	warm := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	_, err = d.forward(warm)
	_ = warm.Close()
	if err != nil {
		_ = d.net.Close()
		return nil, fmt.Errorf("warm up %s: %w", desc.ID, err)
	}
	d.lc.state = IDLE
	logger.Log().Info("onnx model loaded",
		zap.String("model", desc.ID), zap.String("path", desc.Path), zap.Int("classes", len(labels)))
	return d, nil
}

func (d *ONNX) Descriptor() iface.ModelDescriptor { return d.desc }

func (d *ONNX) Close() error {
	if !d.lc.unregister() {
		return nil
	}
	return d.net.Close()
}

func (d *ONNX) Predict(ctx context.Context, frame iface.Frame) ([]iface.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.lc.acquire(); err != nil {
		return nil, err
	}
	defer d.lc.release()

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decoded image is empty or unsupported format")
	}
	return d.forward(img)
}

func (d *ONNX) forward(img gocv.Mat) ([]iface.Detection, error) {
	size := d.opts.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	// YOLOv8 head: [1, 4+classes, anchors]
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	rows, cols := dims[1], dims[2]
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	sx := float32(img.Cols()) / float32(size)
	sy := float32(img.Rows()) / float32(size)
	var (
		rects   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < cols; i++ {
		best, cls := float32(0), -1
		for c := 4; c < rows; c++ {
			if s := data[c*cols+i]; s > best {
				best, cls = s, c-4
			}
		}
		if best < d.opts.ConfThreshold {
			continue
		}
		cx, cy := data[i]*sx, data[cols+i]*sy
		w, h := data[2*cols+i]*sx, data[3*cols+i]*sy
		left, top := int(cx-w/2), int(cy-h/2)
		rects = append(rects, image.Rect(left, top, left+int(w), top+int(h)))
		scores = append(scores, best)
		classes = append(classes, cls)
	}
	if len(rects) == 0 {
		return []iface.Detection{}, nil
	}

	keep := gocv.NMSBoxes(rects, scores, d.opts.ConfThreshold, d.opts.IoU)
	out2 := make([]iface.Detection, 0, len(keep))
	for _, k := range keep {
		r := rects[k]
		out2 = append(out2, iface.Detection{
			ClassName:  className(d.labels, classes[k]),
			Confidence: float64(scores[k]),
			BBox:       iface.PixelBox(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y),
		})
	}
	return out2, nil
}
