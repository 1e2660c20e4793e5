package config

import (
	"errors"
	"fmt"

	"metrics-relay/internal/util"
)

var (
	ErrMissingHost     = errors.New("host is required")
	ErrInvalidBackend  = errors.New("store.backend must be redis or sqlite")
	ErrInvalidInterval = errors.New("poll_interval must be positive")
	ErrInvalidTimeout  = errors.New("timeouts must be positive")
	ErrInvalidBuffer   = errors.New("subscriber_buffer must be positive")
)

// Validate checks the configuration once defaults have been applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, ErrMissingHost)
	}
	if c.PollInterval <= 0 {
		errs = append(errs, ErrInvalidInterval)
	}
	if c.StoreTimeout <= 0 || c.Stream.WriteTimeout <= 0 || c.Stream.PingInterval <= 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	if c.Stream.PongWait <= c.Stream.PingInterval {
		errs = append(errs, fmt.Errorf("%w: stream.pong_wait must exceed stream.ping_interval", ErrInvalidTimeout))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, ErrInvalidBuffer)
	}

	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidBackend, c.Store.Backend))
	}

	if _, err := util.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}
