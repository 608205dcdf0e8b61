package grpcserver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type flakyDB struct{ down atomic.Bool }

func (d *flakyDB) Ping(context.Context) error {
	if d.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func servingStatus(t *testing.T, hs interface {
	Check(context.Context, *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error)
}, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatch_TracksDatabase(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	srv, hs := NewHealthServer(log, false)
	defer srv.Stop()

	if got := servingStatus(t, hs, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before first check: %v", got)
	}

	db := &flakyDB{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, hs, db, 10*time.Millisecond, log)
		close(done)
	}()

	waitFor(t, func() bool { return servingStatus(t, hs, ServiceName) == healthpb.HealthCheckResponse_SERVING })
	if got := servingStatus(t, hs, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall status: %v", got)
	}

	db.down.Store(true)
	waitFor(t, func() bool { return servingStatus(t, hs, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING })

	db.down.Store(false)
	waitFor(t, func() bool { return servingStatus(t, hs, "") == healthpb.HealthCheckResponse_SERVING })

	cancel()
	<-done
	if got := servingStatus(t, hs, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after shutdown: %v", got)
	}
}
