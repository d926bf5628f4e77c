// Package grpcapi exposes the daemon's health over the standard gRPC
// health checking protocol. Every open MRD socket gets its own service
// name, "mrdisc/<interface>/<family>", reporting whether its last
// announcement went out.
package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/psaab/mrdisc/pkg/inet"
)

// ServiceName is the overall daemon health service.
const ServiceName = "mrdisc"

// Server is the gRPC health server.
type Server struct {
	addr   string
	health *health.Server
	srv    *grpc.Server
}

// NewServer creates a gRPC server listening on addr once Run is called.
func NewServer(addr string) *Server {
	s := &Server{
		addr:   addr,
		health: health.NewServer(),
		srv:    grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// HandleName returns the health service name of one socket.
func HandleName(c inet.Conn) string {
	return fmt.Sprintf("%s/%s/%s", ServiceName, c.Name(), c.Family())
}

// Update publishes the health of every socket. A socket whose most
// recent send failed is NOT_SERVING. The daemon is SERVING while at least
// one socket is open.
func (s *Server) Update(conns []inet.Conn) {
	for _, c := range conns {
		st := healthpb.HealthCheckResponse_SERVING
		if c.Stats().LastSendFailed {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(HandleName(c), st)
	}
	if len(conns) > 0 {
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Run listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then reports NOT_SERVING
// to watchers and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("grpcapi: gRPC server listening", "addr", lis.Addr().String())
		if err := s.srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}
