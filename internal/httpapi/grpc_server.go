package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"loyaltydesk.org/internal/obs"
)

// HealthServer answers grpc.health.v1 probes from the same readiness check
// that backs /readyz.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	probe ReadyChecker
}

// NewHealthServer wraps probe. A nil probe always reports serving.
func NewHealthServer(probe ReadyChecker) *HealthServer {
	if probe == nil {
		probe = PingFunc(nil)
	}
	return &HealthServer{probe: probe}
}

// Check reports SERVING for the empty service name and serviceName, and
// NOT_SERVING when the backing stores are unreachable.
func (s *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer builds a gRPC server exposing the health service.
func NewGRPCServer(probe ReadyChecker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, NewHealthServer(probe))
	return srv
}
