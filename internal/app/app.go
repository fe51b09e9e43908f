// Package app assembles the tool service from a loaded config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"go.uber.org/zap"

	"lakeplane/internal/catalog"
	"lakeplane/internal/config"
	"lakeplane/internal/db"
	"lakeplane/internal/lineage"
	"lakeplane/internal/query"
	"lakeplane/internal/replay"
	"lakeplane/internal/repo"
	"lakeplane/internal/resolver"
	"lakeplane/internal/tools"
)

// Platform holds the clients for the managed catalog and query services.
type Platform struct {
	Catalog tools.Catalog
	Runner  query.Runner
}

// App is the wired tool service plus whatever must be released on shutdown.
type App struct {
	Config *config.Config
	Tools  *tools.Service
	closer func() error
}

func (a *App) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer()
}

// Build wires the service against AWS, or against the local SQLite store for
// monitoring queries when the sqlite backend is configured.
func Build(ctx context.Context, cfg *config.Config, workspace string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	platform := Platform{Catalog: catalog.New(glue.NewFromConfig(awsCfg), logger.Named("catalog"))}

	var conn *sql.DB
	switch cfg.Query.Backend {
	case config.BackendSQLite:
		conn, err = db.OpenReadOnly(db.Resolve(workspace, cfg.Query.SQLitePath))
		if err != nil {
			return nil, err
		}
		platform.Runner = query.SQLRunner{DB: conn, Timeout: cfg.Query.Timeout, Logger: logger.Named("query")}
	default:
		platform.Runner = athenaRunner(awsCfg, cfg, logger)
	}

	a := WithPlatform(cfg, platform, logger)
	if conn != nil {
		a.closer = conn.Close
	}
	logger.Info("service ready",
		zap.String("backend", cfg.Query.Backend),
		zap.String("region", cfg.AWS.Region),
		zap.Strings("layers", cfg.LayerNames()))
	return a, nil
}

func athenaRunner(awsCfg aws.Config, cfg *config.Config, logger *zap.Logger) query.Runner {
	return query.NewAthenaRunner(athena.NewFromConfig(awsCfg), query.AthenaConfig{
		Workgroup:      cfg.AWS.Athena.Workgroup,
		OutputLocation: cfg.AWS.Athena.OutputLocation,
		PollInterval:   cfg.Query.PollInterval,
		Timeout:        cfg.Query.Timeout,
	}, logger.Named("query"))
}

// WithPlatform wires the service over caller-supplied clients.
func WithPlatform(cfg *config.Config, p Platform, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := lineage.New(cfg)
	svc := tools.New(tools.Deps{
		Resolver: resolver.New(cfg),
		Catalog:  p.Catalog,
		Monitor: repo.Monitoring{
			Runner:       p.Runner,
			Database:     cfg.Monitoring.Database,
			JobRunsTable: cfg.Monitoring.JobRunsTable,
			StatusTable:  cfg.Monitoring.StatusTable,
		},
		Lineage: registry,
		Replay:  replay.New(cfg, registry),
		Logger:  logger.Named("tools"),
	})
	return &App{Config: cfg, Tools: svc}
}
