package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	dbembed "github.com/memohai/rolodex/db"
	"github.com/memohai/rolodex/internal/accounts"
	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/boot"
	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/credentials"
	"github.com/memohai/rolodex/internal/db"
	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/directory"
	"github.com/memohai/rolodex/internal/handlers"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/metrics"
	"github.com/memohai/rolodex/internal/orchestrator"
	"github.com/memohai/rolodex/internal/people"
	"github.com/memohai/rolodex/internal/review"
	"github.com/memohai/rolodex/internal/runlock"
	"github.com/memohai/rolodex/internal/schedule"
	"github.com/memohai/rolodex/internal/server"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store"
	"github.com/memohai/rolodex/internal/store/postgres"
	"github.com/memohai/rolodex/internal/version"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	runtimeConfig, err := boot.ProvideRuntimeConfig(cfg)
	if err != nil {
		return config.Config{}, err
	}
	return runtimeConfig.Apply(cfg), nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.InitWithFile(cfg.Log.Level, cfg.Log.Format, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	return logger.L
}

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,

			// infrastructure
			provideDBConn,
			provideStore,
			provideQueries,
			provideRedisClient,
			provideLocker,
			metrics.New,

			// engine
			audit.New,
			provideDetector,
			archive.NewService,
			review.NewService,
			settings.NewService,
			provideDedupService,
			provideCredentials,
			provideConnector,
			provideOrchestrator,
			provideScheduleService,
			provideAccountCredentials,
			accounts.NewService,
			people.NewService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(handlers.NewSettingsHandler),
			provideServerHandler(handlers.NewAuditHandler),
			provideServerHandler(handlers.NewReviewHandler),
			provideServerHandler(handlers.NewArchiveHandler),
			provideServerHandler(handlers.NewAccountHandler),
			provideServerHandler(handlers.NewSyncHandler),
			provideServerHandler(handlers.NewDedupHandler),
			provideServerHandler(handlers.NewPeopleHandler),

			provideServer,
		),
		fx.Invoke(
			runMigrations,
			wireReviewMerger,
			startScheduleService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

func provideStore(conn *sql.DB) store.Store {
	return postgres.New(conn)
}

func provideQueries(st store.Store) store.Queries {
	return st
}

// provideRedisClient returns nil unless the redis lock backend is selected.
func provideRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if cfg.Lock.Backend != "redis" {
		return nil
	}
	client := runlock.NewRedisClient(cfg.Redis)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func provideLocker(cfg config.Config, conn *sql.DB, rdb *redis.Client) (runlock.Locker, error) {
	return runlock.New(cfg.Lock, conn, rdb)
}

func provideDetector(cfg config.Config) *detect.Detector {
	return detect.New(nil, cfg.Sync.NameThreshold)
}

func provideDedupService(log *slog.Logger, st store.Store, arch *archive.Service, queue *review.Service, auditLog *audit.Log, locker runlock.Locker, m *metrics.Metrics, cfg config.Config) *dedup.Service {
	return dedup.NewService(log, st, arch, queue, auditLog, locker, m, dedup.Options{
		Weights: dedup.Weights{
			Field:      cfg.Dedup.FieldWeight,
			RemoteLink: cfg.Dedup.RemoteLinkWeight,
			Image:      cfg.Dedup.ImageWeight,
		},
		AutoMerge: cfg.Dedup.AutoMerge,
	})
}

func provideCredentials(log *slog.Logger, queries store.Queries, cfg config.Config) *credentials.Store {
	return credentials.New(log, queries, cfg.OAuth)
}

func provideAccountCredentials(c *credentials.Store) accounts.Credentials {
	return c
}

func provideConnector(log *slog.Logger, cfg config.Config, m *metrics.Metrics, creds *credentials.Store) orchestrator.Connector {
	return directory.NewConnector(directory.New(log, cfg.Directory, m), creds)
}

type orchestratorParams struct {
	fx.In

	Logger    *slog.Logger
	Store     store.Store
	Connector orchestrator.Connector
	Detector  *detect.Detector
	Archive   *archive.Service
	Reviews   *review.Service
	Audit     *audit.Log
	Settings  *settings.Service
	Locker    runlock.Locker
	Metrics   *metrics.Metrics
	Config    config.Config
}

func provideOrchestrator(p orchestratorParams) *orchestrator.Service {
	return orchestrator.NewService(p.Logger, p.Store, p.Connector, p.Detector, p.Archive, p.Reviews,
		p.Audit, p.Settings, p.Locker, p.Metrics, p.Config.Sync)
}

func provideScheduleService(log *slog.Logger, queries store.Queries, settingsService *settings.Service, orch *orchestrator.Service, arch *archive.Service, dd *dedup.Service, m *metrics.Metrics, cfg config.Config) *schedule.Service {
	return schedule.NewService(log, queries, settingsService, orch, arch, dd, m, cfg)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, cfg.Auth)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	Metrics        *metrics.Metrics
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Metrics, params.ServerHandlers...)
}

func runMigrations(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.RunMigrate(log, cfg.Postgres, dbembed.MigrationsFS, db.MigrateUp, nil)
		},
	})
}

// wireReviewMerger closes the review -> dedup -> review cycle after both services exist.
func wireReviewMerger(queue *review.Service, dd *dedup.Service) {
	queue.SetMerger(dd)
}

func startScheduleService(lc fx.Lifecycle, scheduleService *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduleService.Bootstrap(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduleService.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting rolodex %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
