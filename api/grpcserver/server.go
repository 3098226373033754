// Package grpcserver runs the internal gRPC listener. It currently exposes the
// standard health service, reporting the billing service as serving once its
// dependencies are connected.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// BillingServiceName is the health check service name of the billing API.
const BillingServiceName = "sitterhub.billing.v1.BillingService"

// Server wraps a grpc.Server with its health registry.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

func New(logger *slog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	hs.SetServingStatus(BillingServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{grpc: gs, health: hs, log: logger}
}

// SetServing flips the billing service health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(BillingServiceName, status)
}

// Serve listens on addr until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is done.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
