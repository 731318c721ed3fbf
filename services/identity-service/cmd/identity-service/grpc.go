package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/grpcx"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// startHealthServer exposes the gRPC health service the gateway probes. The
// serving status follows the same checks as /readyz.
func startHealthServer(ctx context.Context, logger *slog.Logger, checks []runtime.ReadyCheck) error {
	port, err := config.Port("GRPC_PORT", "9081")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv, hs := grpcx.NewHealthServer(logger)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(config.Duration("HEALTH_PROBE_EVERY", 5*time.Second))
		defer ticker.Stop()
		for {
			hs.SetServingStatus("", probe(ctx, checks))
			select {
			case <-ctx.Done():
				hs.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func probe(ctx context.Context, checks []runtime.ReadyCheck) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
