package grpcsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "recuploader.Uploader"

// Server exposes the standard gRPC health service. The uploader service
// reports SERVING between MarkServing and shutdown.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	srv             *grpc.Server
	health          *health.Server
}

func New(addr string, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			UnaryLoggingInterceptor(logger),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		srv:             srv,
		health:          hs,
	}
}

func (s *Server) MarkServing() {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) MarkNotServing() {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve blocks until ctx is done or the listener fails, then stops the
// server gracefully, forcing it after the shutdown timeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC health service listening", slog.String("addr", lis.Addr().String()))
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped")
	case <-time.After(s.shutdownTimeout):
		slog.Warn("graceful stop timed out, forcing stop")
		s.srv.Stop()
	}
	return nil
}
