// Package rpc serves the standard gRPC health protocol for the detection service so
// orchestrators can tell when a model is ready.
package rpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"CropDetServer/logger"
	"CropDetServer/monitor"
	"CropDetServer/registry"
)

// ServiceName is reported alongside the server-wide ("") health entry.
const ServiceName = "cropdet.Detection"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func New() *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(countUnary),
			grpc.ChainStreamInterceptor(countStream),
		),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SetStatus(registry.StatusInitializing)
	return s
}

func countUnary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	monitor.GRPCTotal.Inc()
	return handler(ctx, req)
}

func countStream(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	monitor.GRPCTotal.Inc()
	return handler(srv, ss)
}

// SetStatus maps a loader status onto the health service: only a ready model serves.
func (s *Server) SetStatus(st registry.Status) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == registry.StatusReady {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
}

func (s *Server) Track(loader *registry.Loader) {
	loader.OnChange(func(st registry.LoadStatus) {
		s.SetStatus(st.Status)
	})
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, loader *registry.Loader) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("grpc listen on %d: %w", port, err)
	}
	s := New()
	s.Track(loader)
	go func() {
		logger.Log().Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("grpc server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
