package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCChecker probes a gRPC endpoint via the standard health service.
// etcd exposes it on its client port, so the same issued client certs the
// API server uses also drive the readiness probe.
type GRPCChecker struct {
	// Target is the gRPC dial target (e.g., "127.0.0.1:2379")
	Target string

	// Service is the health service name to query; empty checks the
	// server as a whole
	Service string

	// TLSConfig enables transport security when set
	TLSConfig *tls.Config
}

// NewGRPCChecker creates a gRPC health probe
func NewGRPCChecker(target string, tlsConfig *tls.Config) *GRPCChecker {
	return &GRPCChecker{
		Target:    target,
		TLSConfig: tlsConfig,
	}
}

// Check performs the gRPC health probe
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	creds := insecure.NewCredentials()
	if g.TLSConfig != nil {
		creds = credentials.NewTLS(g.TLSConfig)
	}

	conn, err := grpc.NewClient(g.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("dial failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: g.Service,
	})
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("health check failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("serving status %s", resp.GetStatus()),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("gRPC health SERVING from %s", g.Target),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}
