package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iface "CropDetServer/interface"
	"CropDetServer/logger"
)

// ErrWarmingUp is returned while no model is ready to serve. Callers may retry.
var ErrWarmingUp = errors.New("model is not ready")

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusLoading      Status = "loading"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// LoadStatus is the shared record consulted by prediction requests.
type LoadStatus struct {
	Status        Status    `json:"status"`
	Details       string    `json:"details"`
	ActiveModelID string    `json:"active_model_id"`
	Since         time.Time `json:"since"`
}

// Factory builds a backend for a descriptor. It may block for a long time.
type Factory func(ctx context.Context, desc iface.ModelDescriptor) (iface.Backend, error)

type handle struct {
	mu      sync.RWMutex
	backend iface.Backend
	retired bool
}

// close waits for in-flight users to release the handle.
func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return nil
	}
	h.retired = true
	return h.backend.Close()
}

// Loader loads the active model off the request path and publishes it through an
// atomically replaced handle.
type Loader struct {
	factory Factory
	started time.Time

	status *atomic.Pointer[LoadStatus]
	handle *atomic.Pointer[handle]
	gen    *atomic.Uint64

	// commit orders generation bumps, handle swaps and observer calls.
	commit    sync.Mutex
	observers []func(LoadStatus)
	retiring  sync.WaitGroup
}

func NewLoader(factory Factory) *Loader {
	now := time.Now()
	return &Loader{
		factory: factory,
		started: now,
		status: atomic.NewPointer(&LoadStatus{
			Status:  StatusInitializing,
			Details: "Starting model loader...",
			Since:   now,
		}),
		handle: atomic.NewPointer[handle](nil),
		gen:    atomic.NewUint64(0),
	}
}

// OnChange registers fn to be called on every status transition. fn must not call Load.
func (l *Loader) OnChange(fn func(LoadStatus)) {
	l.commit.Lock()
	defer l.commit.Unlock()
	l.observers = append(l.observers, fn)
	fn(*l.status.Load())
}

// Status returns a snapshot of the current load status.
func (l *Loader) Status() LoadStatus {
	return *l.status.Load()
}

// Uptime reports how long the loader has existed.
func (l *Loader) Uptime() time.Duration {
	return time.Since(l.started)
}

// Load starts loading desc in the background and returns at once. The current model is
// dropped immediately; requests see StatusLoading until the new one is ready. A later
// Load supersedes an earlier one still in flight. The returned channel closes when this
// load finishes, whatever its outcome.
func (l *Loader) Load(desc iface.ModelDescriptor) <-chan struct{} {
	l.commit.Lock()
	gen := l.gen.Inc()
	l.retire(l.handle.Swap(nil))
	l.publish(LoadStatus{Status: StatusLoading, Details: "Loading " + desc.Name, ActiveModelID: desc.ID})
	l.commit.Unlock()

	logger.Log().Info("loading active model in background",
		zap.String("id", desc.ID), zap.String("name", desc.Name),
		zap.String("runtime", string(desc.Runtime)), zap.String("path", desc.Path))

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.run(gen, desc)
	}()
	return done
}

func (l *Loader) run(gen uint64, desc iface.ModelDescriptor) {
	var (
		backend iface.Backend
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during model load: %v", r)
			}
		}()
		backend, err = l.factory(context.Background(), desc)
	}()

	l.commit.Lock()
	defer l.commit.Unlock()
	if gen != l.gen.Load() {
		logger.Log().Info("model load superseded", zap.String("id", desc.ID))
		if backend != nil {
			_ = backend.Close()
		}
		return
	}
	if err == nil && backend == nil {
		err = errors.New("factory returned no backend")
	}
	if err != nil {
		logger.Log().Error("model load failed", zap.String("id", desc.ID), zap.Error(err))
		l.publish(LoadStatus{Status: StatusError, Details: err.Error(), ActiveModelID: desc.ID})
		return
	}
	l.retire(l.handle.Swap(&handle{backend: backend}))
	l.publish(LoadStatus{Status: StatusReady, Details: "Loaded " + desc.Name, ActiveModelID: desc.ID})
	logger.Log().Info("model ready", zap.String("id", desc.ID), zap.String("name", desc.Name))
}

// publish stores st and notifies observers. Callers hold commit.
func (l *Loader) publish(st LoadStatus) {
	st.Since = time.Now()
	l.status.Store(&st)
	for _, fn := range l.observers {
		fn(st)
	}
}

func (l *Loader) retire(h *handle) {
	if h == nil {
		return
	}
	l.retiring.Add(1)
	go func() {
		defer l.retiring.Done()
		if err := h.close(); err != nil {
			logger.Log().Warn("failed to close retired model", zap.Error(err))
		}
	}()
}

// Acquire returns the ready backend and a release func that must be called once the
// caller is done with it. It fails fast with ErrWarmingUp when nothing is ready.
func (l *Loader) Acquire() (iface.Backend, func(), error) {
	st := l.status.Load()
	if st.Status != StatusReady {
		return nil, nil, fmt.Errorf("%w: %s", ErrWarmingUp, st.Details)
	}
	h := l.handle.Load()
	if h == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrWarmingUp, st.Details)
	}
	h.mu.RLock()
	if h.retired {
		h.mu.RUnlock()
		return nil, nil, fmt.Errorf("%w: model is being replaced", ErrWarmingUp)
	}
	return h.backend, h.mu.RUnlock, nil
}

// Close drops the current model and waits for retired ones to close.
func (l *Loader) Close() error {
	l.commit.Lock()
	l.gen.Inc()
	h := l.handle.Swap(nil)
	l.commit.Unlock()

	var err error
	if h != nil {
		err = multierr.Append(err, h.close())
	}
	l.retiring.Wait()
	return err
}
