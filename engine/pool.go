package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	iface "CropDetServer/interface"
	"CropDetServer/logger"
	"CropDetServer/monitor"
)

var ErrPoolClosed = errors.New("inference pool closed")

// restartDelay is how long a crashed worker waits before taking jobs again.
var restartDelay = time.Second

type jobPackage struct {
	ctx     context.Context
	backend iface.Backend
	frame   iface.Frame
	result  chan jobResult
}

type jobResult struct {
	detections []iface.Detection
	err        error
}

// Pool bounds the number of concurrent inferences. Each worker recovers from a backend
// panic, fails the job in flight and restarts itself.
type Pool struct {
	jobs    chan jobPackage
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs:    make(chan jobPackage, workers),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(workerID int) {
	logger.Log().Debug("worker created", zap.Int("worker", workerID))
	var current *jobPackage
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic, restarting",
				zap.Int("worker", workerID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			monitor.WorkerRestarts.Inc()
			if current != nil {
				current.result <- jobResult{err: fmt.Errorf("inference panicked: %v", r)}
			}
			select {
			case <-p.done:
				p.wg.Done()
			case <-time.After(restartDelay):
				go p.runWorker(workerID)
			}
			return
		}
		p.wg.Done()
	}()

	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			if err := job.ctx.Err(); err != nil {
				job.result <- jobResult{err: err}
				continue
			}
			current = &job
			start := time.Now()
			dets, err := job.backend.Predict(job.ctx, job.frame)
			monitor.ObserveInference(string(job.backend.Descriptor().Runtime), time.Since(start), err)
			job.result <- jobResult{detections: dets, err: err}
			current = nil
		}
	}
}

// Submit queues one inference and waits for its result. Once a worker holds the job,
// Submit returns only after the backend call is over.
func (p *Pool) Submit(ctx context.Context, backend iface.Backend, frame iface.Frame) ([]iface.Detection, error) {
	job := jobPackage{ctx: ctx, backend: backend, frame: frame, result: make(chan jobResult, 1)}
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.jobs <- job:
	}
	select {
	case res := <-job.result:
		return res.detections, res.err
	case <-p.stopped:
		// every worker is gone; a job still queued never ran
		select {
		case res := <-job.result:
			return res.detections, res.err
		default:
			return nil, ErrPoolClosed
		}
	}
}

// Close stops the workers after their current job and waits for them.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		close(p.stopped)
	})
}
