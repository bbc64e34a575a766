package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/audit"
	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/cache"
	"loyaltydesk.org/internal/config"
	"loyaltydesk.org/internal/courses"
	"loyaltydesk.org/internal/httpapi"
	"loyaltydesk.org/internal/imports"
	"loyaltydesk.org/internal/ledger"
	"loyaltydesk.org/internal/notify"
	"loyaltydesk.org/internal/orgs"
	"loyaltydesk.org/internal/redemptions"
	"loyaltydesk.org/internal/rewards"
	"loyaltydesk.org/internal/seed"
	"loyaltydesk.org/internal/store/pg"
	"loyaltydesk.org/internal/stream"
)

type userStore interface {
	auth.Store
	auth.RoleSource
}

type catalogStore interface {
	rewards.Catalog
	rewards.CatalogWriter
	rewards.PerkStore
}

type orgStore interface {
	orgs.Store
	orgs.Writer
}

// stores groups the persistence backends selected by LOYALTYDESK_STORAGE.
type stores struct {
	users       userStore
	ledger      ledger.Service
	audit       audit.Store
	rewards     catalogStore
	imports     imports.Store
	orgs        orgStore
	redemptions redemptions.Store
	courses     courses.Store
	deliveries  notify.DeliveryLog
	probe       httpapi.ReadyChecker
	close       func() error
}

func openStores(cfg config.Config, log *logrus.Entry) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		book := ledger.NewInMemory()
		catalog := rewards.NewInMemory()
		return &stores{
			users:       auth.NewInMemoryStore(),
			ledger:      book,
			audit:       audit.NewInMemory(),
			rewards:     catalog,
			imports:     imports.NewInMemory(),
			orgs:        orgs.NewInMemory(book),
			redemptions: redemptions.NewInMemory(),
			courses:     courses.NewInMemory(),
			deliveries:  &notify.MemoryLog{},
			probe:       httpapi.PingFunc(nil),
			close:       func() error { return nil },
		}, nil
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("LOYALTYDESK_PG_DSN is required for postgres storage")
	}
	db, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &stores{
		users:       db.Profiles(),
		ledger:      db.Ledger(),
		audit:       db.Audit(),
		rewards:     db.Rewards(),
		imports:     db.Imports(),
		orgs:        db.Organizations(),
		redemptions: db.Redemptions(),
		courses:     db.Courses(),
		deliveries:  db.Deliveries(),
		probe:       httpapi.PingFunc(db.Ping),
		close:       db.Close,
	}, nil
}

// app is the fully wired service graph.
type app struct {
	deps   httpapi.Deps
	seeder *seed.Seeder
	close  func()
}

func buildApp(ctx context.Context, cfg config.Config, log *logrus.Entry) (*app, error) {
	st, err := openStores(cfg, log)
	if err != nil {
		return nil, err
	}
	closers := []func() error{st.close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.WithError(err).Warn("shutdown close failed")
			}
		}
	}

	hub := stream.New()
	recorder := audit.NewRecorder(st.audit, log.WithField("component", "audit"))
	book := ledger.WithEvents(st.ledger, hub)

	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("auth tokens: %w", err)
	}
	sessionOpts := []auth.SessionsOption{
		auth.WithAuditor(recorder),
		auth.WithHub(hub),
		auth.WithLogger(log.WithField("component", "auth")),
	}

	var catalog rewards.Catalog = st.rewards
	var invalidator seed.Invalidator
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, config.GetEnv("LOYALTYDESK_REDIS_PASSWORD", ""))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, client.Close)
		cached := rewards.NewCachedCatalog(st.rewards, cache.NewRedis(client, "loyaltydesk"), cfg.CacheTTL, log.WithField("component", "catalog_cache"))
		catalog = cached
		invalidator = cached
		sessionOpts = append(sessionOpts, auth.WithRevocations(auth.NewRedisRevocations(client)))
	} else {
		log.Info("redis not configured; catalog cache and shared token revocation disabled")
	}

	sessions, err := auth.NewSessions(st.users, tokens, nil, sessionOpts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	authn := auth.NewAuthenticator(sessions, sessions.Resolver(), cfg.SessionTimeout, log.WithField("component", "gate"))

	var mailer *notify.Mailer
	if cfg.EmailAPIURL != "" {
		client := notify.NewClient(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailWorkspace)
		mailer = notify.NewMailer(client, st.deliveries, log.WithField("component", "mailer"))
	} else {
		log.Info("email api not configured; decision notices disabled")
	}

	orgSvc := orgs.NewService(st.orgs, recorder, log.WithField("component", "orgs"))
	seeder, err := seed.New(st.rewards, book, invalidator, log.WithField("component", "seed"))
	if err != nil {
		cleanup()
		return nil, err
	}

	deps := httpapi.Deps{
		Probe:      st.probe,
		Version:    version,
		Sessions:   sessions,
		Auth:       authn,
		Ledger:     book,
		Aggregator: rewards.NewAggregator(book, catalog, st.rewards, hub, rewards.WithAggregatorLogger(log.WithField("component", "aggregator"))),
		Rewards:    rewards.NewService(book, catalog, st.rewards, hub, recorder, log.WithField("component", "rewards")),
		Imports: imports.NewPipeline(st.imports, st.orgs,
			imports.WithBatchSize(cfg.ImportBatch),
			imports.WithCallTimeout(cfg.DataTimeout),
			imports.WithAuditor(recorder),
			imports.WithLogger(log.WithField("component", "imports")),
		),
		Orgs: orgSvc,
		Redemptions: redemptions.NewService(st.redemptions, orgSvc, redemptions.Deps{
			Mailer:     mailer,
			Recipients: auth.Directory{Store: st.users},
			Audit:      recorder,
			Hub:        hub,
			Log:        log.WithField("component", "redemptions"),
		}),
		Courses: courses.NewService(st.courses, book, recorder, log.WithField("component", "courses")),
		Audit:   recorder,
		Hub:     hub,
		Log:     log,
	}
	return &app{deps: deps, seeder: seeder, close: cleanup}, nil
}
