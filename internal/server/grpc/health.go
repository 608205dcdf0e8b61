// Package grpcserver runs the gRPC health endpoint used by infrastructure probes.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "authcore"

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthServer builds a gRPC server exposing grpc.health.v1 with logging and
// recovery interceptors. Reflection is registered in dev mode only.
func NewHealthServer(log *zap.Logger, dev bool) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	return s, hs
}

// Watch pings db every interval and publishes the result as the serving status
// of both the overall server and ServiceName until ctx is done, then reports
// NOT_SERVING for good.
func Watch(ctx context.Context, hs *health.Server, db Pinger, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		st := healthpb.HealthCheckResponse_SERVING
		if err := db.Ping(pctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			if last != st {
				log.Warn("database unreachable", zap.Error(err))
			}
		}
		if st != last {
			hs.SetServingStatus("", st)
			hs.SetServingStatus(ServiceName, st)
			last = st
		}
	}

	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			check()
		}
	}
}
