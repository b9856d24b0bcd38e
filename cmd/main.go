package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillcms/quillgate/internal/access"
	"github.com/quillcms/quillgate/internal/cachereq"
	"github.com/quillcms/quillgate/internal/config"
	"github.com/quillcms/quillgate/internal/httpmw"
	"github.com/quillcms/quillgate/internal/kv"
	"github.com/quillcms/quillgate/internal/logging"
	"github.com/quillcms/quillgate/internal/metrics"
	"github.com/quillcms/quillgate/internal/objstore"
	"github.com/quillcms/quillgate/internal/server"
	"github.com/quillcms/quillgate/internal/session"
	"github.com/quillcms/quillgate/internal/templates"
	"github.com/quillcms/quillgate/internal/upload"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml configuration file")
	envPrefix := flag.String("env-prefix", "QUILLGATE", "prefix for configuration environment variables")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *envPrefix); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, envPrefix string) error {
	var files []string
	if configPath != "" {
		files = append(files, configPath)
	}
	loader := config.NewLoader(envPrefix, files...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	for _, skip := range cfg.SkippedPolicies {
		logger.Warn("policy skipped",
			slog.String("table", skip.Table),
			slog.String("reason", skip.Reason),
			slog.Any("sources", skip.Sources))
	}

	recorder := metrics.NewRecorder(nil)

	cacheStore := buildCacheStore(cfg.Server.Cache, logger)
	defer cacheStore.Close(context.Background())

	sessionStore := buildSessionStore(cfg.Server, logger)
	defer sessionStore.Close(context.Background())

	evaluator, err := access.NewEvaluator(logger, cfg.Policies)
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}

	if cfg.Server.Policies.PoliciesFile != "" || cfg.Server.Policies.PoliciesFolder != "" {
		watcher, err := loader.WatchPolicies(ctx, cfg,
			func(bundle config.PolicyBundle) {
				if err := evaluator.Reload(bundle.Policies); err != nil {
					logger.Error("policy reload failed", slog.Any("error", err))
					return
				}
				logger.Info("policies reloaded",
					slog.Int("tables", len(bundle.Policies)),
					slog.Int("skipped", len(bundle.Skipped)))
			},
			func(err error) {
				logger.Error("policy watch error", slog.Any("error", err))
			})
		if err != nil {
			return fmt.Errorf("watch policies: %w", err)
		}
		defer watcher.Stop()
	}

	store, err := buildObjectStore(ctx, cfg.Server.Storage)
	if err != nil {
		return fmt.Errorf("configure storage: %w", err)
	}
	uploads := upload.NewService(store, logger, recorder, cfg.Server.Upload.KeyPrefix)

	renderer, err := templates.New(cfg.Server.Admin.TemplatesFolder)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	missRecorder := cachereq.NewRecorder(cacheStore, logger, recorder, cfg.Server.Cache.QueueSize)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		missRecorder.Close(closeCtx)
	}()

	router := server.NewRouter(
		cfg.Server,
		logger,
		uploads,
		renderer,
		evaluator,
		recorder,
		httpmw.NewCacheMiddleware(cfg.Server.Cache, cacheStore, missRecorder, logger, recorder),
		httpmw.NewAPIKeyMiddleware(cfg.Server.Auth),
		httpmw.NewAuthMiddleware(cfg.Server.Auth, sessionStore, logger, recorder),
	)

	listen := fmt.Sprintf("%s:%d", cfg.Server.Listen.Address, cfg.Server.Listen.Port)
	srv := server.New(listen, router.Handler(), logger)

	logger.Info("starting",
		slog.String("listen", listen),
		slog.String("cache", cfg.Server.Cache.Backend),
		slog.String("storage", cfg.Server.Storage.Backend),
		slog.Int("policies", len(cfg.Policies)))

	return srv.Run(ctx)
}

// buildCacheStore prefers the configured backend but falls back to the
// in-memory store when Redis is unreachable, so a cache outage cannot stop
// the gateway from starting.
func buildCacheStore(cfg config.CacheConfig, logger *slog.Logger) kv.Store {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if cfg.Backend != "redis" {
		return kv.NewMemory(ttl)
	}
	store, err := kv.NewRedis(kv.RedisConfig{
		Address:  cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS: kv.RedisTLSConfig{
			Enabled: cfg.Redis.TLS.Enabled,
			CAFile:  cfg.Redis.TLS.CAFile,
		},
	})
	if err != nil {
		logger.Warn("redis cache unavailable, using in-memory store",
			slog.Any("error", err))
		return kv.NewMemory(ttl)
	}
	logger.Info("redis cache connected", slog.String("address", cfg.Redis.Address))
	return store
}

func buildSessionStore(cfg config.ServerConfig, logger *slog.Logger) session.Store {
	if cfg.Auth.SessionStore != "redis" {
		return session.NewMemory()
	}
	store, err := session.NewRedis(session.RedisConfig{
		Address:  cfg.Cache.Redis.Address,
		Username: cfg.Cache.Redis.Username,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	if err != nil {
		logger.Warn("redis session store unavailable, using in-memory store",
			slog.Any("error", err))
		return session.NewMemory()
	}
	logger.Info("redis session store connected",
		slog.String("address", cfg.Cache.Redis.Address))
	return store
}

func buildObjectStore(ctx context.Context, cfg config.StorageConfig) (objstore.Store, error) {
	switch cfg.Backend {
	case "s3":
		return objstore.NewS3(ctx, cfg.S3)
	default:
		return objstore.NewFilesystem(cfg.Filesystem)
	}
}
