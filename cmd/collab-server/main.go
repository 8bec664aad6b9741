// Command collab-server runs one relay instance: WebSocket clients, cross-instance fanout
// and the admin health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tacohub/collab-relay/internal/authority"
	"github.com/tacohub/collab-relay/internal/bootstrap"
	"github.com/tacohub/collab-relay/internal/broker"
	"github.com/tacohub/collab-relay/internal/config"
	"github.com/tacohub/collab-relay/internal/fanout"
	"github.com/tacohub/collab-relay/internal/limiter"
	"github.com/tacohub/collab-relay/internal/presence"
	"github.com/tacohub/collab-relay/internal/router"
	grpcserver "github.com/tacohub/collab-relay/internal/server/grpc"
	"github.com/tacohub/collab-relay/internal/service"
	"github.com/tacohub/collab-relay/internal/session"
	"github.com/tacohub/collab-relay/internal/transport/ws"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load("collab-server", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	logger, err := bootstrap.Logger(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("serverId", cfg.ServerID),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, closeAudit, err := bootstrap.Audit(ctx, cfg, logger)
	defer closeAudit()
	if err != nil {
		logger.Fatal("audit", zap.Error(err))
	}

	var (
		lim         limiter.Limiter = limiter.Nop{}
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		rl, client, err := limiter.NewRedis(ctx, cfg.RedisURL, cfg.LimitWindow, cfg.LimitMaxFails, cfg.LimitBlockFor)
		if err != nil {
			logger.Fatal("redis limiter", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		lim, redisClient = rl, client
	}

	roles := authority.NewClient(cfg.AuthorityURL, cfg.AuthorityTimeout, nil)
	gate := service.NewGate([]byte(cfg.JWTKey), roles, lim, cfg.RoleTTL, logger.Named("gate"))

	conn := broker.NewConn(cfg.BrokerURL, broker.DialAMQP, broker.Topology{ServerID: cfg.ServerID}.Declare, logger.Named("broker"))
	defer func() { _ = conn.Close() }()
	if _, err := conn.Channel(ctx); err != nil {
		logger.Fatal("broker connect", zap.Error(err))
	}

	reg := presence.New()
	hub := ws.NewHub(ws.Settings{
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
		PingInterval: cfg.PingInterval,
	}, logger.Named("ws"))
	pub := fanout.NewPublisher(conn, cfg.ServerID, cfg.PublishBuffer, logger.Named("publisher"))
	rt := router.New(reg, hub, gate, pub, logger.Named("router"))
	relay := fanout.NewRelay(conn, cfg.ServerID, cfg.Prefetch, rt, hub, gate, logger.Named("relay"))

	mgr := session.NewManager(session.Deps{
		Gate:      gate,
		Presence:  reg,
		Transport: hub,
		Router:    rt,
		Notify:    pub,
		Audit:     recorder,
		Log:       logger.Named("session"),
	})
	hub.SetHandler(mgr)

	health := func() (any, error) {
		stats := map[string]any{
			"connections": hub.Count(),
			"sessions":    mgr.Count(),
			"presence":    reg.Stats(),
		}
		if !conn.Healthy() {
			return stats, errors.New("broker unavailable")
		}
		return stats, nil
	}
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ws.NewRouter(hub, cfg.ServerID, health),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { pub.Run(gctx); return nil })
	g.Go(func() error { relay.Run(gctx); return nil })

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		hub.Shutdown()
		return httpSrv.Shutdown(sctx)
	})

	if cfg.AdminAddr != "" {
		checks := map[string]grpcserver.Check{"broker": conn.Healthy}
		if redisClient != nil {
			checks["redis"] = func() bool {
				pctx, cancel := context.WithTimeout(gctx, time.Second)
				defer cancel()
				return redisClient.Ping(pctx).Err() == nil
			}
		}
		admin := grpcserver.NewAdmin(checks, 5*time.Second, logger.Named("admin"))
		lis, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			logger.Fatal("listen admin", zap.Error(err))
		}
		g.Go(func() error { return admin.Serve(gctx, lis) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
