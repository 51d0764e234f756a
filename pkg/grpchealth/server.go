// Package grpchealth publishes the health checker over the standard gRPC
// health protocol, for orchestrators that probe with grpc_health_probe.
package grpchealth

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/magicyang-1/chatshare-sub001/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthSource reports overall system health
type HealthSource interface {
	IsSystemHealthy() bool
}

// Server mirrors a HealthSource into a grpc health server
type Server struct {
	service  string
	source   HealthSource
	health   *health.Server
	grpc     *grpc.Server
	interval time.Duration
	log      *logger.Logger
}

func New(service string, source HealthSource, interval time.Duration, log *logger.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		service:  service,
		source:   source,
		health:   hs,
		grpc:     gs,
		interval: interval,
		log:      log,
	}
}

// Sync copies the current health into the serving status of both the
// overall ("") and the named service
func (s *Server) Sync() {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.source.IsSystemHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

// Health exposes the underlying health server, mostly for tests
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Serve listens on addr and blocks until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for grpc health: %w", err)
	}

	s.Sync()
	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync()
		}
	}
}
