// Package server exposes the detection service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"CropDetServer/llm"
	"CropDetServer/logger"
	"CropDetServer/service"
)

const version = "2.0"

type Options struct {
	UploadDir   string
	MaxUploadMB int
}

type Server struct {
	svc    *service.Service
	llm    *llm.Service
	opts   Options
	router *gin.Engine
}

func New(svc *service.Service, llmSvc *llm.Service, opts Options) *Server {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 50
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	s := &Server{svc: svc, llm: llmSvc, opts: opts}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = int64(s.opts.MaxUploadMB) << 20
	r.Use(requestLogger(), recovery(), corsAllowAll())
	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Endpoint not found")
	})

	r.GET("/", s.index)
	r.GET("/health", s.health)

	models := r.Group("/models")
	models.GET("", s.listModels)
	models.GET("/active", s.activeModel)
	models.POST("/switch", s.switchModel)

	llms := r.Group("/llm")
	llms.GET("/models", s.listLLMs)
	llms.GET("/active", s.activeLLM)
	llms.POST("/switch", s.switchLLM)
	llms.POST("/generate_report", s.generateReport)

	uploads := r.Group("", limitBody(int64(s.opts.MaxUploadMB)<<20))
	uploads.POST("/predict", s.predict)
	uploads.POST("/upload", s.upload)
	uploads.POST("/stream/detect", s.streamDetect)

	r.POST("/analyze", s.analyze)
	r.GET("/api/rtsp-proxy", s.rtspProxy)
	return r
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Disease Detection API",
		"version": version,
		"endpoints": gin.H{
			"/health":              "GET - API status",
			"/predict":             "POST - Single image detection",
			"/stream/detect":       "POST - Video frame detection",
			"/analyze":             "POST - Analyze detection results",
			"/models":              "GET - Detection models",
			"/llm/models":          "GET - Report generation models",
			"/upload":              "POST - Store a file for later processing",
			"/models/switch":       "POST - Select the active detection model",
			"/llm/switch":          "POST - Select the active report model",
			"/llm/generate_report": "POST - Generate a treatment report",
			"/api/rtsp-proxy":      "GET - Check a stream url for browser playback",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	st := s.svc.Loader().Status()
	active := gin.H{"id": "unknown", "name": "unknown", "type": "unknown"}
	if desc, err := s.svc.Models().GetActive(); err == nil {
		active = gin.H{"id": desc.ID, "name": desc.Name, "type": desc.Kind}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"model_status":    st.Status,
		"active_model":    active,
		"loading_details": st.Details,
		"uptime_seconds":  int64(s.svc.Loader().Uptime().Round(time.Second) / time.Second),
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
