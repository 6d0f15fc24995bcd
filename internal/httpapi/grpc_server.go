package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health/grpc_health_v1"

	"goldilocks.org/internal/obs"
)

const serviceName = "goldilocks-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer exposes the standard gRPC health service backed by the same
// readiness probe as /readyz.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	return &GRPCServer{
		readiness: r,
		version:   version,
	}
}

func (s *GRPCServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(true)
	return grpc_health_v1.HealthCheckResponse_SERVING
}

// Check evaluates readiness once.
func (s *GRPCServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: s.status(ctx)}, nil
}

// Watch streams the serving status, re-evaluating on an interval until the
// client goes away.
func (s *GRPCServer) Watch(_ *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	ctx := stream.Context()
	last := s.status(ctx)
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: last}); err != nil {
		return err
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur := s.status(ctx)
			if cur == last {
				continue
			}
			last = cur
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: cur}); err != nil {
				return err
			}
		}
	}
}
