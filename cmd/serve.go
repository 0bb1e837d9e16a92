package cmd

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	adhoc "CropDetServer/Adhoc"
	"CropDetServer/config"
	"CropDetServer/engine"
	rpc "CropDetServer/gRPC"
	"CropDetServer/llm"
	"CropDetServer/logger"
	"CropDetServer/monitor"
	"CropDetServer/registry"
	"CropDetServer/server"
	"CropDetServer/service"
)

// app is the wired object graph behind serve.
type app struct {
	cfg    config.Config
	loader *registry.Loader
	pool   *engine.Pool
	svc    *service.Service
	llm    *llm.Service
	http   *server.Server
}

func newApp(cfg config.Config) (*app, error) {
	models, err := registry.New("model", cfg.Models, cfg.ModelStateFile)
	if err != nil {
		return nil, err
	}
	llms, err := registry.New("llm", cfg.LLMs, cfg.LLMStateFile)
	if err != nil {
		return nil, err
	}

	factory := engine.Factory(cfg.Engine)
	loader := registry.NewLoader(factory)
	loader.OnChange(func(st registry.LoadStatus) {
		monitor.SetModelStatus(string(st.Status))
		switch st.Status {
		case registry.StatusReady:
			monitor.ModelLoadsTotal.WithLabelValues("ok").Inc()
		case registry.StatusError:
			monitor.ModelLoadsTotal.WithLabelValues("error").Inc()
		}
	})
	pool := engine.NewPool(cfg.WorkersNum)
	svc := service.New(models, loader, pool, factory, service.Options{
		FallbackModel: cfg.FallbackModel,
		VideoStride:   cfg.VideoStride,
	})
	llmSvc := llm.NewService(llms, cfg.LLM)

	return &app{
		cfg:    cfg,
		loader: loader,
		pool:   pool,
		svc:    svc,
		llm:    llmSvc,
		http: server.New(svc, llmSvc, server.Options{
			UploadDir:   cfg.UploadDir,
			MaxUploadMB: cfg.MaxUploadMB,
		}),
	}, nil
}

func (a *app) close() error {
	err := multierr.Append(a.svc.Close(), a.loader.Close())
	a.pool.Close()
	return err
}

// run serves until ctx ends. Auxiliary servers are optional and never stop the HTTP API.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	a.svc.LoadActive()

	if a.cfg.AdhocPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.StartMon(ctx, a.cfg.AdhocPort); err != nil {
				logger.Log().Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	var grpcSrv *rpc.Server
	if a.cfg.RPCPort > 0 {
		s, err := rpc.StartGRPCServer(a.cfg.RPCPort, a.loader)
		if err != nil {
			logger.Log().Error("grpc health server not started", zap.Error(err))
		} else {
			grpcSrv = s
		}
	}

	if a.cfg.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			logger.Log().Warn("failed to get outbound IP, registering loopback", zap.Error(err))
			ip = "127.0.0.1"
		}
		hb := adhoc.NewHeartbeat(
			adhoc.RegServerConfig{Addr: a.cfg.RegServerHost, Port: a.cfg.RegServerPort},
			ip, a.cfg.HTTPPort,
			func() (string, string) {
				st := a.loader.Status()
				return st.ActiveModelID, string(st.Status)
			},
		)
		wg.Add(1)
		go hb.Run(ctx, &wg)
	} else {
		logger.Log().Info("UseRegServer is set to false, skipping registration")
	}

	err := a.http.Run(ctx, fmt.Sprintf(":%d", a.cfg.HTTPPort))
	cancel()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	wg.Wait()
	return multierr.Append(err, a.close())
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the detection HTTP API",
		Example: `  # Serve with config.yaml from the working directory
  cropdet serve

  # Override the HTTP port
  cropdet serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			logger.Log().Info("starting server",
				zap.Int("httpPort", cfg.HTTPPort),
				zap.Int("rpcPort", cfg.RPCPort),
				zap.Int("metricsPort", cfg.AdhocPort),
				zap.Int("workers", cfg.WorkersNum),
				zap.Int("cpus", runtime.NumCPU()))

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			if err := a.run(cmd.Context()); err != nil {
				return err
			}
			logger.Log().Info("safely exited")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 5000, "HTTP port, overrides httpPort")
	return cmd
}
