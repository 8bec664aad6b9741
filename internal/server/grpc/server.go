// Package grpcserver runs the admin gRPC endpoint reporting relay health.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check reports whether one component is usable.
type Check func() bool

// Admin serves grpc.health.v1 with one entry per component plus the overall "" service.
type Admin struct {
	srv      *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	log      *zap.Logger
}

// NewAdmin constructs the admin server. checks are polled every interval.
func NewAdmin(checks map[string]Check, interval time.Duration, log *zap.Logger) *Admin {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	a := &Admin{srv: srv, health: hs, checks: checks, interval: interval, log: log}
	a.Refresh()
	return a
}

// Refresh re-evaluates every check and publishes the statuses.
func (a *Admin) Refresh() {
	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		st := healthpb.HealthCheckResponse_SERVING
		if !a.checks[name]() {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		a.health.SetServingStatus(name, st)
	}
	a.health.SetServingStatus("", overall)
}

// Serve runs until ctx is done, then stops gracefully.
func (a *Admin) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		t := time.NewTicker(a.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				a.health.Shutdown()
				a.srv.GracefulStop()
				return
			case <-t.C:
				a.Refresh()
			}
		}
	}()

	a.log.Info("admin grpc listening", zap.String("addr", lis.Addr().String()))
	if err := a.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
