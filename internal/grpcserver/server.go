// Package grpcserver serves the standard gRPC health protocol for the
// listing pipeline so orchestrators can probe readiness over gRPC.
//
// Readiness follows the backing stores: the service reports SERVING only
// while every registered probe succeeds.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "listing-pipeline"

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wraps a grpc.Server exposing health.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	probes   []Probe
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a Server. Probes run every interval once Watch is started.
func New(probes []Probe, interval time.Duration, logger *slog.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, probes: probes, interval: interval, logger: logger}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Watch runs the probes immediately and then on every tick until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	s.CheckNow(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		}
	}
}

// CheckNow runs every probe once and updates the reported status.
func (s *Server) CheckNow(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	for _, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			s.logger.Warn("health probe failed", "probe", p.Name, "err", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(st)
}

// Stop marks the service as shutting down and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
