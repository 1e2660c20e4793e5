package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"metrics-relay/internal/config"
	"metrics-relay/internal/domain"
	"metrics-relay/internal/endpoints"
	"metrics-relay/internal/gateway"
	"metrics-relay/internal/relay"
	"metrics-relay/internal/repository"
	"metrics-relay/internal/router"
	"metrics-relay/internal/util"
)

func main() {
	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to YAML config file")
	listen := flagSet.String("listen", "", "listen address (overrides config)")
	backend := flagSet.String("store", "", "store backend: redis or sqlite (overrides config)")
	host := flagSet.String("host", "", "host whose metrics are relayed (overrides config)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *host != "" {
		cfg.Host = *host
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid config:", err)
		os.Exit(1)
	}

	logger, err := LoggerInitialize(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error while initializing the logger..", err)
		os.Exit(1)
	}
	defer logger.DeInit()

	if err := run(cfg, logger); err != nil {
		logger.LogEvent(util.LOG_LEVEL_ERROR, "Relay exited with error:", err)
		logger.DeInit()
		os.Exit(1)
	}
}

func LoggerInitialize(cfg config.LogConfig) (*util.RelayLogger, error) {
	relayLogger := &util.RelayLogger{}

	level, err := util.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if err := relayLogger.Init(util.LogOptions{
		Dir:        cfg.Dir,
		File:       cfg.File,
		Level:      level,
		Stderr:     cfg.Stderr,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}); err != nil {
		return nil, err
	}

	relayLogger.LogEvent(util.LOG_LEVEL_INFO, "Service started")
	fmt.Fprintf(os.Stderr, "\n%s: Metrics relay started \n", time.Now().Format(time.RFC3339))

	return relayLogger, nil
}

func openStore(cfg *config.Config, logger *util.RelayLogger) (domain.MetricStore, error) {
	var metricStore domain.MetricStore

	switch cfg.Store.Backend {
	case config.BackendRedis:
		metricStore = repository.NewRedisStore(repository.RedisOptions{
			Addr:        cfg.Store.Redis.Addr,
			Password:    cfg.Store.Redis.Password,
			DB:          cfg.Store.Redis.DB,
			DialTimeout: cfg.Store.Redis.DialTimeout,
		})
	case config.BackendSQLite:
		metricStore = repository.NewSQLiteStore(cfg.Store.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Store.Backend)
	}

	if err := metricStore.Init(); err != nil {
		// Redis reconnects on demand, so an unreachable server only means
		// null metrics until it comes back.
		if cfg.Store.Backend == config.BackendRedis && errors.Is(err, domain.ErrStoreUnavailable) {
			logger.LogEvent(util.LOG_LEVEL_WARN, "Store not reachable yet:", err)
			return metricStore, nil
		}
		metricStore.Close()
		return nil, fmt.Errorf("initialize metric store: %w", err)
	}
	return metricStore, nil
}

func run(cfg *config.Config, logger *util.RelayLogger) error {
	metricStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer metricStore.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := gateway.NewHub(cfg.SubscriberBuffer, logger)
	relayLoop := relay.New(relay.Config{
		Host:         cfg.Host,
		LogQueue:     cfg.LogQueue,
		Interval:     cfg.PollInterval,
		StoreTimeout: cfg.StoreTimeout,
	}, metricStore, hub, logger)
	gw := gateway.New(ctx, hub, relayLoop, logger)

	server := router.NewServer(cfg.Listen, router.NewRouter(gw, endpoints.StreamOptions{
		PingInterval: cfg.Stream.PingInterval,
		PongWait:     cfg.Stream.PongWait,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Serve(gctx, server, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		gw.Close()

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return relayLoop.Stop(stopCtx)
	})

	return g.Wait()
}
