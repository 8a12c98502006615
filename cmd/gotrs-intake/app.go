package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/attachments"
	"github.com/gotrs-io/gotrs-intake/internal/auth"
	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/database"
	"github.com/gotrs-io/gotrs-intake/internal/dedup"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-intake/internal/forms"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/metrics"
	"github.com/gotrs-io/gotrs-intake/internal/repository"
	"github.com/gotrs-io/gotrs-intake/internal/storage"
	"github.com/gotrs-io/gotrs-intake/internal/ticketnumber"
	"github.com/gotrs-io/gotrs-intake/internal/webhook"
)

// app holds the wired intake pipeline shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	db    *sqlx.DB
	rdb   *redis.Client
	store repository.Store

	service    *intake.Service
	postmaster postmaster.Service
	keys       *auth.KeyRing
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log, metrics: metrics.New()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	if err := a.openStore(ctx); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		rdb, err := dedup.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.rdb = rdb
	}
	// A nil *redis.Client must not reach the interfaces below as a non-nil value.
	var redisCounter ticketnumber.RedisClient
	var seen dedup.Index = dedup.NewMemoryIndex(cfg.Redis.SeenTTL)
	if a.rdb != nil {
		redisCounter = a.rdb
		seen = dedup.NewRedisIndex(a.rdb, cfg.Redis.Prefix+"seen:", cfg.Redis.SeenTTL)
	}

	backend, err := storage.New(cfg.Storage, a.db)
	if err != nil {
		return fmt.Errorf("attachment storage: %w", err)
	}

	registry := forms.Default()
	if cfg.FormsFile != "" {
		if registry, err = forms.LoadFile(cfg.FormsFile); err != nil {
			return err
		}
	}

	gen, err := ticketnumber.Resolve(cfg.Ticket.NumberGenerator, cfg.App.SystemID)
	if err != nil {
		return err
	}
	counters, err := ticketnumber.NewCounterStore(cfg.Ticket.CounterStore, a.db, redisCounter, cfg.Redis.Prefix+"counter:")
	if err != nil {
		return err
	}

	ingestor := attachments.NewIngestor(attachments.NewStorageUploader(backend),
		attachments.WithMetrics(a.metrics),
		attachments.WithLogger(a.logger.Named("attachments")))
	normalizer := intake.NewNormalizer(registry, ingestor,
		intake.WithStrict(cfg.Intake.Strict),
		intake.WithHTMLSanitizer(cfg.Intake.SanitizeHTML),
		intake.WithNormalizerLogger(a.logger.Named("normalizer")))
	creatorOpts := []intake.CreatorOption{
		intake.WithBanList(cfg.Intake.BannedEmails),
		intake.WithPriorities(cfg.PriorityList(), cfg.Ticket.DefaultPriority),
		intake.WithOrganizations(cfg.Organizations),
		intake.WithGracePeriod(cfg.Ticket.GracePeriod),
		intake.WithCreatorLogger(a.logger.Named("creator")),
	}
	if len(cfg.Webhooks) > 0 {
		creatorOpts = append(creatorOpts, intake.WithNotifier(webhook.NewNotifier(cfg.Webhooks,
			webhook.WithNext(intake.LogNotifier{Logger: a.logger.Named("creator")}),
			webhook.WithLogger(a.logger.Named("webhook")))))
	}
	creator := intake.NewCreator(a.store, registry, gen, counters, creatorOpts...)
	a.service = intake.NewService(normalizer, creator, a.store, a.logger.Named("intake"))

	processor := postmaster.NewEmailProcessor(a.service, a.store,
		postmaster.WithParser(postmaster.NewParser(
			postmaster.WithBodyLimit(cfg.Intake.MaxBodyBytes),
			postmaster.WithParserLogger(a.logger.Named("parser")))),
		postmaster.WithSeenIndex(seen),
		postmaster.WithFallbackOnPostFailure(cfg.Intake.FallbackOnPostFailure),
		postmaster.WithProcessorMetrics(a.metrics),
		postmaster.WithProcessorLogger(a.logger.Named("postmaster")))
	a.postmaster = postmaster.Service{
		FilterChain: filters.NewChain(
			filters.NewTrustedHeadersFilter(a.logger.Named("filters")),
			filters.NewDispatchFilter(filters.RulesFromConfig(cfg.Mailboxes), a.logger.Named("filters")),
		),
		Handler: processor,
		Logger:  a.logger.Named("postmaster"),
	}
	a.keys = auth.NewKeyRing(cfg.API.Keys, a.logger.Named("auth"))
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	if strings.EqualFold(cfg.Database.Driver, "memory") {
		a.store = repository.NewMemoryStore()
	} else {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		if cfg.Database.AutoMigrate {
			n, err := database.Migrate(ctx, db)
			if err != nil {
				return err
			}
			a.logger.Info("schema migrated", zap.Int("statements", n))
		}
		a.store = repository.NewSQLStore(db)
	}
	return a.store.Seed(ctx, repository.Lookups{
		Statuses:      repository.DefaultStatuses(),
		Priorities:    cfg.PriorityList(),
		Organizations: cfg.Organizations,
	})
}

// Close releases the database and redis connections.
func (a *app) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	} else if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
