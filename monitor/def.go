package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"CropDetServer/logger"
)

var statuses = []string{"initializing", "loading", "ready", "error"}

var (
	registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	// GRPCTotal counts health checks served over gRPC.
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	PredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_total",
		Help: "Predictions served, by the backend that produced them",
	}, []string{"source"})
	ModelLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "model_loads_total",
		Help: "Model loads by outcome",
	}, []string{"result"})
	WorkerRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_worker_restarts_total",
		Help: "Inference workers restarted after a panic",
	})
	modelStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "model_status",
		Help: "1 for the current model loader status, 0 otherwise",
	}, []string{"status"})
	inferenceSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inference_duration_seconds",
		Help:    "Backend inference latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"runtime"})
	inferenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_errors_total",
		Help: "Backend inference failures",
	}, []string{"runtime"})
)

func init() {
	registry.MustRegister(memUsage, cpuUsage, GRPCTotal, PredictionsTotal, ModelLoadsTotal,
		WorkerRestarts, modelStatus, inferenceSeconds, inferenceErrors)
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// Handler serves the metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// ObserveInference records one backend call.
func ObserveInference(runtime string, d time.Duration, err error) {
	if runtime == "" {
		runtime = "unknown"
	}
	inferenceSeconds.WithLabelValues(runtime).Observe(d.Seconds())
	if err != nil {
		inferenceErrors.WithLabelValues(runtime).Inc()
	}
}

// SetModelStatus flips the model_status gauge to status.
func SetModelStatus(status string) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		modelStatus.WithLabelValues(s).Set(v)
	}
}

func checkProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpu, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpu*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process usage until ctx is done.
func StartMon(ctx context.Context, port int) error {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Log().Info("metrics server started", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case err := <-errCh:
			return fmt.Errorf("metrics server: %w", err)
		case <-ticker.C:
			checkProcessInfo(proc)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
