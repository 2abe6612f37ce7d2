package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/eleven-am/stt-gateway/internal/health"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	grpcHealthService  = "stt.Gateway"
	grpcHealthInterval = 15 * time.Second
)

func NewGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

func ProvideGRPCHealthServer() *grpchealth.Server {
	return grpchealth.NewServer()
}

func RegisterHealthService(server *grpc.Server, hs *grpchealth.Server) {
	healthpb.RegisterHealthServer(server, hs)
}

func servingStatus(s health.Status) healthpb.HealthCheckResponse_ServingStatus {
	if s == health.StatusUnhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// syncHealth mirrors the HTTP readiness verdict into the gRPC health service
// until ctx ends.
func syncHealth(ctx context.Context, hs *grpchealth.Server, h *health.Handler, logger *slog.Logger) {
	ticker := time.NewTicker(grpcHealthInterval)
	defer ticker.Stop()

	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		status := servingStatus(h.Status(checkCtx))
		hs.SetServingStatus(grpcHealthService, status)
		hs.SetServingStatus("", status)
		logger.Debug("grpc health updated", "status", status.String())
	}

	update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func StartGRPCServer(lc fx.Lifecycle, server *grpc.Server, hs *grpchealth.Server, h *health.Handler, cfg *Config, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				cancel()
				return err
			}
			go syncHealth(ctx, hs, h, logger)
			go func() {
				logger.Info("gRPC server starting", "addr", cfg.GRPCAddr)
				if err := server.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hs.Shutdown()
			server.GracefulStop()
			return nil
		},
	})
}

var GRPCModule = fx.Options(
	fx.Provide(NewGRPCServer, ProvideGRPCHealthServer),
	fx.Invoke(RegisterHealthService),
	fx.Invoke(StartGRPCServer),
)
