// Package admin serves the operational gRPC endpoint: grpc.health.v1 and
// server reflection for grpcurl.
package admin

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service reported alongside the overall ("") status.
const ServiceName = "storefront"

// Check tests one dependency, e.g. a database ping.
type Check func(ctx context.Context) error

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	checks map[string]Check
	log    *zap.Logger

	mu       sync.Mutex
	stopping bool
}

func NewServer(checks map[string]Check, log *zap.Logger) *Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: s, health: hs, checks: checks, log: log}
}

// Serve blocks until Shutdown is called or the listener fails.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("admin grpc listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Watch runs every check immediately and then once per interval, reporting
// ServiceName as SERVING only while all of them pass.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.CheckNow(ctx)

	ticker := time.NewTicker(interval)
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

// CheckNow runs the checks once and updates the serving status.
func (s *Server) CheckNow(ctx context.Context) bool {
	healthy := true
	for name, check := range s.checks {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(pctx)
		cancel()
		if err != nil {
			healthy = false
			s.log.Warn("dependency check failed", zap.String("dependency", name), zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	return healthy
}

// Shutdown flips every service to NOT_SERVING so load balancers drain the
// instance, then stops the server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.health.Shutdown()
	s.mu.Unlock()

	s.grpc.GracefulStop()
}
