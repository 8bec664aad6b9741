// Command collab-consumer drains the shared API queue: every edit published by a relay
// instance is handled by exactly one consumer, failures go to the dead-letter queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/bootstrap"
	"github.com/tacohub/collab-relay/internal/broker"
	"github.com/tacohub/collab-relay/internal/config"
	"github.com/tacohub/collab-relay/internal/fanout"
)

func main() {
	cfg, err := config.Load("collab-consumer", os.Args[1:])
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

	if cfg.BrokerURL == "" {
		logger.Fatal("missing broker url (--broker-url or RABBITMQ_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, closeAudit, err := bootstrap.Audit(ctx, cfg, logger)
	defer closeAudit()
	if err != nil {
		logger.Fatal("audit", zap.Error(err))
	}

	// no instance queue on the API tier
	conn := broker.NewConn(cfg.BrokerURL, broker.DialAMQP, broker.Topology{}.Declare, logger.Named("broker"))
	defer func() { _ = conn.Close() }()
	if _, err := conn.Channel(ctx); err != nil {
		logger.Fatal("broker connect", zap.Error(err))
	}

	consumer := fanout.NewWorkConsumer(conn, "collab-consumer-"+cfg.ServerID, cfg.Prefetch, newDispatch(recorder, logger), logger)
	logger.Info("consuming", zap.String("queue", broker.APIQueue))
	consumer.Run(ctx)
	logger.Info("shutdown complete")
}
