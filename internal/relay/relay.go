package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"metrics-relay/internal/domain"
	"metrics-relay/internal/util"
)

var ErrParse = errors.New("metric value is not a number")

// Broadcaster delivers an event to every current subscriber.
type Broadcaster interface {
	Broadcast(evt domain.Event)
}

// Config holds relay configuration.
type Config struct {
	Host         string        // Metric keys are "<Host>-cpu-metrics" and "<Host>-memory-metrics"
	LogQueue     string        // FIFO queue of log lines (default: apps-logs)
	Interval     time.Duration // Wait between cycles (default: 1s)
	StoreTimeout time.Duration // Per store call (default: 500ms)
}

// DefaultConfig returns sensible defaults for everything except Host.
func DefaultConfig() Config {
	return Config{
		LogQueue:     domain.DefaultLogQueue,
		Interval:     time.Second,
		StoreTimeout: 500 * time.Millisecond,
	}
}

// CycleResult describes what one cycle read and broadcast.
type CycleResult struct {
	CPU    domain.MetricSample
	Memory domain.MetricSample
	Log    *domain.LogLine
}

// Relay polls the store and broadcasts what it finds. A Relay runs at most
// once: Start after the first call is a no-op, including after Stop.
type Relay struct {
	cfg    Config
	store  domain.MetricStore
	out    Broadcaster
	logger *util.RelayLogger

	mu      sync.Mutex
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	cycles  atomic.Uint64
}

// New creates a new Relay.
func New(cfg Config, store domain.MetricStore, out Broadcaster, logger *util.RelayLogger) *Relay {
	if logger == nil {
		logger = &util.RelayLogger{}
	}
	if cfg.LogQueue == "" {
		cfg.LogQueue = domain.DefaultLogQueue
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 500 * time.Millisecond
	}
	return &Relay{
		cfg:    cfg,
		store:  store,
		out:    out,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the loop in the background. Only the first call starts
// anything; concurrent and repeated calls return nil.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.run(runCtx)

	r.logger.LogEvent(util.LOG_LEVEL_INFO, "relay started host:", r.cfg.Host,
		"queue:", r.cfg.LogQueue, "interval:", r.cfg.Interval)
	return nil
}

// Running reports whether Start has been called.
func (r *Relay) Running() bool {
	return r.started.Load()
}

// Cycles returns the number of completed cycles.
func (r *Relay) Cycles() uint64 {
	return r.cycles.Load()
}

// Stop cancels the loop and waits for the current cycle to finish.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-r.done:
		r.logger.LogEvent(util.LOG_LEVEL_INFO, "relay stopped after", r.cycles.Load(), "cycles")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	r.DiscoverHosts(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		res := r.RunCycle(ctx)
		r.logger.LogEvent(util.LOG_LEVEL_DEBUG, "cycle", r.cycles.Load(),
			"cpu:", formatSample(res.CPU), "memory:", formatSample(res.Memory),
			"log:", res.Log != nil)

		if !sleep(ctx, r.cfg.Interval) {
			return
		}
	}
}

// RunCycle performs one poll and its broadcasts. The metrics update is sent
// before the log update.
func (r *Relay) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{
		CPU:    r.readMetric(ctx, "cpu", domain.CPUKey(r.cfg.Host)),
		Memory: r.readMetric(ctx, "memory", domain.MemoryKey(r.cfg.Host)),
		Log:    r.popLog(ctx),
	}

	r.out.Broadcast(domain.NewMetricsUpdate(res.CPU, res.Memory))
	if res.Log != nil {
		r.out.Broadcast(domain.NewLogUpdate(*res.Log))
	}

	r.cycles.Add(1)
	return res
}

func (r *Relay) readMetric(ctx context.Context, name, key string) domain.MetricSample {
	sample := domain.MetricSample{Name: name}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	raw, ok, err := r.store.Get(callCtx, key)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.LogEvent(util.LOG_LEVEL_WARN, "read", name, "failed:", err)
		}
		return sample
	}
	if !ok {
		return sample
	}

	value, err := ParseMetric(raw)
	if err != nil {
		r.logger.LogEvent(util.LOG_LEVEL_WARN, "key", key, err)
		return sample
	}
	sample.Value = &value
	return sample
}

func (r *Relay) popLog(ctx context.Context) *domain.LogLine {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	raw, ok, err := r.store.PopFront(callCtx, r.cfg.LogQueue)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.LogEvent(util.LOG_LEVEL_WARN, "pop", r.cfg.LogQueue, "failed:", err)
		}
		return nil
	}
	if !ok {
		return nil
	}
	return &domain.LogLine{Raw: raw}
}

// DiscoverHosts lists the hosts currently publishing cpu metrics. It only
// logs; the relay always reads the configured host.
func (r *Relay) DiscoverHosts(ctx context.Context) []string {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	keys, err := r.store.KeysMatching(callCtx, domain.CPUKeyPattern())
	if err != nil {
		r.logger.LogEvent(util.LOG_LEVEL_WARN, "host discovery failed:", err)
		return nil
	}

	var hosts []string
	found := false
	for _, key := range keys {
		host, ok := domain.HostFromCPUKey(key)
		if !ok {
			continue
		}
		hosts = append(hosts, host)
		if host == r.cfg.Host {
			found = true
		}
	}

	r.logger.LogEvent(util.LOG_LEVEL_INFO, "hosts publishing metrics:", hosts)
	if !found {
		r.logger.LogEvent(util.LOG_LEVEL_WARN, "no metrics published yet for host", r.cfg.Host)
	}
	return hosts
}

// ParseMetric parses a stored metric value. NaN and infinities are rejected
// since they cannot be sent as JSON numbers.
func ParseMetric(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q", ErrParse, raw)
	}
	return value, nil
}

func formatSample(s domain.MetricSample) string {
	if s.Value == nil {
		return "null"
	}
	return strconv.FormatFloat(*s.Value, 'f', -1, 64)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
