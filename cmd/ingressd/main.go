// Command ingressd is the telemetry ingestion daemon: it listens for game
// server log traffic over UDP, authenticates sources via token beacons,
// parses log lines into typed events, and publishes them downstream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hlstatsnext/ingress/internal/actions"
	"github.com/hlstatsnext/ingress/internal/archive"
	"github.com/hlstatsnext/ingress/internal/auth"
	"github.com/hlstatsnext/ingress/internal/config"
	"github.com/hlstatsnext/ingress/internal/events"
	"github.com/hlstatsnext/ingress/internal/handlers"
	"github.com/hlstatsnext/ingress/internal/ingress"
	"github.com/hlstatsnext/ingress/internal/models"
	"github.com/hlstatsnext/ingress/internal/parser"
	"github.com/hlstatsnext/ingress/internal/queue"
	"github.com/hlstatsnext/ingress/internal/ratelimit"
	"github.com/hlstatsnext/ingress/internal/state"
	"github.com/hlstatsnext/ingress/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores and transports.
	pg, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	chOpts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
	if err != nil {
		return fmt.Errorf("parse clickhouse url: %w", err)
	}
	ch, err := clickhouse.Open(chOpts)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer ch.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// Pipeline components, leaves first.
	ids := events.NewIDService()
	states := state.NewManager()
	games := ingress.NewPgGameResolver(pg)

	publisher := queue.NewPublisher(rdb, cfg.QueueStream, cfg.QueueMaxLen, logger)

	archiveWriter := archive.NewWriter(archive.Config{
		ClickHouse:    ch,
		Logger:        logger,
		BatchSize:     cfg.ArchiveBatchSize,
		FlushInterval: cfg.ArchiveFlushInterval,
	})

	players := actions.NewPgPlayerService(pg)
	roster := actions.NewRoster(players, games, logger)
	processor := actions.New(actions.Config{
		Catalog:     actions.NewPgCatalog(pg, cfg.TokenCacheTTL),
		Players:     players,
		Matches:     roster,
		Servers:     games,
		Store:       actions.NewPgStore(pg),
		Maps:        actions.NewMapResolver(nil, states),
		Logger:      logger,
		LogCooldown: cfg.LogCooldown,
	})

	// Every event goes to the queue and the archive; team, disconnect and
	// map-change events additionally drive the roster, and action events the
	// reward processor.
	fanout := events.Multi(
		publisher,
		events.PublisherFunc(func(_ context.Context, ev *models.ParsedEvent) error {
			archiveWriter.Enqueue(ev)
			return nil
		}),
		events.PublisherFunc(roster.ObserveEvent),
		events.PublisherFunc(processor.ProcessEvent),
	)

	repo := token.NewRepository(pg, cfg.LastUsedDebounce, logger)
	authenticator := auth.New(auth.Config{
		Repo:           repo,
		Registry:       auth.NewPgRegistry(pg),
		Limiter:        ratelimit.New(cfg.RateLimitMaxAttempts, cfg.RateLimitWindow, cfg.RateLimitBlock),
		Publisher:      fanout,
		IDs:            ids,
		Logger:         logger,
		TokenCacheTTL:  cfg.TokenCacheTTL,
		SourceCacheTTL: cfg.SourceCacheTTL,
		RepoTimeout:    cfg.RepoTimeout,
		LogCooldown:    cfg.LogCooldown,
	})

	orchestrator := ingress.NewOrchestrator(ingress.Config{
		Authenticator: authenticator,
		Factory:       &parser.Factory{States: states, IDs: ids, Logger: logger},
		Games:         games,
		Publisher:     fanout,
		Logger:        logger,
		WorkerCount:   cfg.WorkerCount,
		ShutdownGrace: cfg.ShutdownGrace,
	})

	receiver, err := ingress.NewReceiver(cfg.IngressHost, cfg.IngressPort, logger)
	if err != nil {
		return err
	}

	admin := handlers.New(handlers.Config{
		Postgres:   pg,
		ClickHouse: ch,
		Redis:      handlers.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		Sessions:   authenticator,
		States:     states,
		Archive:    archiveWriter,
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: admin.Router(),
	}

	archiveWriter.Start(ctx)
	orchestrator.Start(ctx)

	sugar.Infow("Ingress daemon starting",
		"udp", fmt.Sprintf("%s:%d", cfg.IngressHost, cfg.IngressPort),
		"http", httpServer.Addr,
		"stream", cfg.QueueStream,
		"workers", cfg.WorkerCount,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return receiver.Run(gctx, orchestrator.Dispatch)
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// The receiver has stopped; drain the in-flight pipeline before closing
	// the stores.
	orchestrator.Stop()
	archiveWriter.Stop()
	sugar.Info("Ingress daemon stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
