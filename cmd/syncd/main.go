package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindsync/internal/api"
	"mindsync/internal/config"
	"mindsync/internal/database"
	"mindsync/internal/domain"
	"mindsync/internal/events"
	"mindsync/internal/logging"
	"mindsync/internal/metrics"
	"mindsync/internal/network"
	"mindsync/internal/repository"
	"mindsync/internal/transport"
	"mindsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const deadLetterLimit = 1000

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	remote, err := transport.NewHTTPTransport(cfg.Remote, nil)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.EventSyncFailed, func(ev *events.Event) error {
		var p events.SyncFailedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		logger.Warn().Str("error", p.Error).Msg("sync cycle failed")
		return nil
	})

	var deadLetter domain.DeadLetterSink
	if redisClient != nil {
		deadLetter = repository.NewRedisDeadLetter(redisClient, cfg.Sync.DeadLetterKey, deadLetterLimit)
	}

	engine, err := worker.NewEngine(worker.Options{
		Store:            db,
		Transport:        remote,
		Bus:              bus,
		DeadLetter:       deadLetter,
		Policy:           worker.PolicyFromConfig(cfg.Sync),
		ConcurrencyLimit: cfg.Sync.ConcurrencyLimit,
		TransportTimeout: cfg.Sync.TransportTimeout,
		SyncInterval:     cfg.Sync.SyncInterval,
		Retention:        cfg.Sync.Retention,
		Logger:           &logger,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	monitor := network.NewMonitor(network.Options{
		Checks:        probes(cfg),
		ProbeInterval: cfg.Network.ProbeInterval,
		ProbeTimeout:  cfg.Network.ProbeTimeout,
		Debounce:      cfg.Sync.ReconnectDebounce,
		AutoSync:      cfg.Sync.AutoSyncEnabled(),
		OnReconnect: func(ctx context.Context) {
			if _, err := engine.SyncAll(ctx); err != nil {
				logger.Error().Err(err).Msg("reconnect sync failed")
			}
		},
		OnChange: engine.NoteConnectivity,
		Logger:   &logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, engine, &logger)
	} else {
		logger.Warn().Msg("host API is disabled in config")
	}

	return startServices(ctx, cfg, db, engine, monitor, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without dead letter list")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func probes(cfg *config.Config) map[string]network.Check {
	checks := make(map[string]network.Check)
	if cfg.Network.ProbeURL != "" {
		checks["remote"] = network.HTTPCheck(&http.Client{Timeout: cfg.Network.ProbeTimeout}, cfg.Network.ProbeURL)
	}
	return checks
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServices(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	engine *worker.Engine,
	monitor *network.Monitor,
	httpServer *api.HTTPServer,
	logger *zerolog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, logger)
		g.Go(func() error {
			backups.Start(gctx)
			return nil
		})
	}

	if httpServer != nil {
		g.Go(httpServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info().Bool("api", httpServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("sync daemon started")

	<-gctx.Done()
	logger.Info().Msg("shutdown signal received")
	engine.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("sync daemon stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
