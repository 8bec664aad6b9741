// Package bootstrap builds the process-wide pieces shared by the relay commands.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/audit"
	"github.com/tacohub/collab-relay/internal/config"
	"github.com/tacohub/collab-relay/internal/migrate"
	"github.com/tacohub/collab-relay/internal/repository/postgres"
)

// Logger returns a production logger, or a development one when dev is set.
func Logger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Audit opens every configured audit sink. With none configured records are discarded.
// The returned func releases what was opened.
func Audit(ctx context.Context, cfg *config.Config, log *zap.Logger) (*audit.Recorder, func(), error) {
	var (
		sinks   audit.Multi
		closers []func()
	)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.AuditDSN != "" {
		version, err := migrate.Up(ctx, cfg.AuditDSN, log)
		if err != nil {
			return nil, release, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, release, fmt.Errorf("audit db: %w", err)
		}
		closers = append(closers, db.Close)
		sinks = append(sinks, audit.RepoSink{Repo: postgres.NewAuditRepo(db)})
		log.Info("audit to postgres", zap.Int64("schemaVersion", version))
	}
	if cfg.AuditDir != "" {
		sinks = append(sinks, audit.FileSink{Dir: cfg.AuditDir})
		log.Info("audit to files", zap.String("dir", cfg.AuditDir))
	}
	if cfg.AuditBucket != "" {
		s3sink, err := audit.NewS3SinkFromEnv(ctx, cfg.AuditBucket)
		if err != nil {
			return nil, release, err
		}
		sinks = append(sinks, s3sink)
		log.Info("audit to s3", zap.String("bucket", cfg.AuditBucket))
	}

	var sink audit.Sink = sinks
	switch len(sinks) {
	case 0:
		sink = audit.Discard{}
	case 1:
		sink = sinks[0]
	}
	return audit.NewRecorder(sink, log.Named("audit")), release, nil
}
