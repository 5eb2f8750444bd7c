package main

import (
	"context"
	"fmt"
	"time"

	"github.com/natserract/sfclean/pkg/audit"
	"github.com/natserract/sfclean/pkg/cache"
	"github.com/natserract/sfclean/pkg/config"
	"github.com/natserract/sfclean/pkg/dependency"
	"github.com/natserract/sfclean/pkg/folders"
	httpclient "github.com/natserract/sfclean/pkg/http"
	"github.com/natserract/sfclean/pkg/metrics"
	"github.com/natserract/sfclean/pkg/notify"
	"github.com/natserract/sfclean/pkg/protection"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"github.com/natserract/sfclean/pkg/storage/postgres"
	"go.uber.org/zap"
)

// cacheLockWait bounds how long a second process waits for the bbolt lock.
const cacheLockWait = 5 * time.Second

// app holds the collaborators shared by every command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	client     *sfmce.Salesforce
	disk       *cache.Persistent
	resolver   *folders.Resolver
	engine     *dependency.Engine
	protection *protection.Rules
	metrics    *metrics.Metrics

	db    *postgres.DB
	store audit.Store
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	rules, err := protection.Load(cfg.ProtectionFile)
	if err != nil {
		return nil, &config.FatalConfigError{Err: err}
	}

	disk, err := cache.OpenPersistent(cfg.CachePath(), cacheLockWait, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	client := sfmce.NewSalesforceWithLogger(&cfg.MCE, logger)
	return &app{
		cfg:    cfg,
		logger: logger,
		client: client,
		disk:   disk,
		resolver: folders.NewResolver(client, folders.Options{
			Disk:    disk,
			TTL:     cfg.CacheTTL,
			Filter:  sfmce.FolderFilter{ContentTypes: []string{"dataextension"}},
			Metrics: m,
			Logger:  logger,
		}),
		engine: dependency.NewEngine(client, dependency.Options{
			Concurrency:    cfg.Concurrency,
			StaleAfterDays: cfg.StaleAfterDays,
			Metrics:        m,
			Logger:         logger,
		}),
		protection: rules,
		metrics:    m,
	}, nil
}

// openStore connects the audit store: Postgres when DATABASE_URL is set,
// otherwise JSON files under the state directory.
func (a *app) openStore(ctx context.Context) (audit.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.DatabaseURL == "" {
		fs, err := audit.NewFileStore(a.cfg.StateDir, a.logger)
		if err != nil {
			return nil, err
		}
		a.store = fs
		return fs, nil
	}

	db, err := postgres.New(ctx, postgres.NewConfig(a.cfg.DatabaseURL), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx, audit.PostgresSchema...); err != nil {
		db.Close()
		return nil, err
	}
	a.db = db
	a.store = audit.NewPostgresStore(db.Pool(), a.logger)
	return a.store, nil
}

func (a *app) webhook() *notify.Webhook {
	return notify.NewWebhook(a.cfg.WebhookURL, httpclient.NewClientWithLogger(a.logger), a.logger)
}

func (a *app) Close() {
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn("Failed to write metrics textfile", zap.String("path", a.cfg.MetricsFile), zap.Error(err))
	}
	if a.db != nil {
		a.db.Close()
	}
	if err := a.disk.Close(); err != nil {
		a.logger.Warn("Failed to close folder cache", zap.Error(err))
	}
}
