package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	iface "CropDetServer/interface"
)

// detector lifecycle
const (
	UNREGISTERED = 0x0001
	REGISTERED   = 0x0002
	IDLE         = 0x0003
	BUSY         = 0x0004
)

var (
	ErrNotLoaded          = errors.New("detector not loaded")
	ErrUnsupportedRuntime = errors.New("unsupported runtime")
	ErrRuntimeUnavailable = errors.New("onnx runtime requires the gocv build tag")
)

// Options tunes every backend built by New.
type Options struct {
	ConfThreshold float32       `yaml:"confThreshold"`
	IoU           float32       `yaml:"iou"`
	InputSize     int           `yaml:"inputSize"`
	RemoteMaxSide int           `yaml:"remoteMaxSide"`
	RemoteTimeout time.Duration `yaml:"remoteTimeout"`
}

func (o Options) withDefaults() Options {
	if o.ConfThreshold <= 0 || o.ConfThreshold > 1 {
		o.ConfThreshold = 0.25
	}
	if o.IoU <= 0 || o.IoU > 1 {
		o.IoU = 0.45
	}
	if o.InputSize <= 0 {
		o.InputSize = 640
	}
	if o.RemoteMaxSide <= 0 {
		o.RemoteMaxSide = 1280
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 30 * time.Second
	}
	return o
}

// ReadLabels reads one class name per line, ignoring CRLF endings and blank lines.
func ReadLabels(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// labelsFor resolves the class names of desc, preferring the inline list.
func labelsFor(desc iface.ModelDescriptor) ([]string, error) {
	if len(desc.Labels) > 0 {
		return desc.Labels, nil
	}
	if desc.LabelsFile != "" {
		labels, err := ReadLabels(desc.LabelsFile)
		if err != nil {
			return nil, fmt.Errorf("read labels for %s: %w", desc.ID, err)
		}
		if len(labels) == 0 {
			return nil, fmt.Errorf("labels file %s for %s is empty", desc.LabelsFile, desc.ID)
		}
		return labels, nil
	}
	return DiseaseNames(), nil
}

func className(labels []string, idx int) string {
	if idx >= 0 && idx < len(labels) {
		return labels[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// lifecycle serializes use of a detector that cannot run concurrently.
type lifecycle struct {
	mu    sync.Mutex
	state int
}

func (l *lifecycle) acquire() error {
	l.mu.Lock()
	if l.state != IDLE {
		st := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w (state 0x%04x)", ErrNotLoaded, st)
	}
	l.state = BUSY
	return nil
}

func (l *lifecycle) release() {
	l.state = IDLE
	l.mu.Unlock()
}

// unregister marks the detector gone and reports whether it was live.
func (l *lifecycle) unregister() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := l.state != UNREGISTERED
	l.state = UNREGISTERED
	return live
}

func (l *lifecycle) State() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
