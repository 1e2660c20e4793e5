package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"metrics-relay/internal/config"
	"metrics-relay/internal/domain"
	"metrics-relay/internal/repository"
)

// feedLog has the shape the dashboard parses out of log_update payloads.
type feedLog struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Severity  string `json:"severity"`
}

var messages = []string{
	"request served",
	"cache miss",
	"worker restarted",
	"slow query detected",
	"connection pool exhausted",
}

var severities = []string{"info", "info", "info", "warning", "error"}

func main() {
	flagSet := pflag.NewFlagSet("feed", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to YAML config file")
	duration := flagSet.Duration("duration", 5*time.Minute, "how long to produce samples")
	interval := flagSet.Duration("interval", time.Second, "time between samples")
	logsPerTick := flagSet.Int("logs", 1, "log lines pushed per tick")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store domain.ReadWriteStore
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		store = repository.NewSQLiteStore(cfg.Store.SQLite.Path)
	default:
		store = repository.NewRedisStore(repository.RedisOptions{
			Addr:        cfg.Store.Redis.Addr,
			Password:    cfg.Store.Redis.Password,
			DB:          cfg.Store.Redis.DB,
			DialTimeout: cfg.Store.Redis.DialTimeout,
		})
	}
	if err := store.Init(); err != nil {
		log.Fatalf("Failed to initialize store for feeding: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	log.Printf("Feeding %s metrics and %s every %s for %s...", cfg.Host, cfg.LogQueue, *interval, *duration)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feedMetrics(gctx, store, cfg.Host, *interval) })
	g.Go(func() error { return feedLogs(gctx, store, cfg.LogQueue, *interval, *logsPerTick) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		log.Fatalf("Feed stopped: %v", err)
	}
	log.Println("Feed complete.")
}

func feedMetrics(ctx context.Context, w domain.MetricWriter, host string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cpu := rand.Float64() * 100.0
		memory := 20.0 + rand.Float64()*60.0

		if err := w.Set(ctx, domain.CPUKey(host), fmt.Sprintf("%.2f", cpu)); err != nil {
			return err
		}
		if err := w.Set(ctx, domain.MemoryKey(host), fmt.Sprintf("%.2f", memory)); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func feedLogs(ctx context.Context, w domain.MetricWriter, queue string, interval time.Duration, perTick int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for i := 0; i < perTick; i++ {
			n := rand.Intn(len(messages))
			line, err := json.Marshal(feedLog{
				Message:   messages[n],
				Timestamp: time.Now().Format(time.RFC3339Nano),
				Severity:  severities[n],
			})
			if err != nil {
				return err
			}
			if err := w.PushBack(ctx, queue, line); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
