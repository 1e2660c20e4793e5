package config

import (
	"os"
	"time"
)

const (
	DefaultListen           = ":4999"
	DefaultLogQueue         = "apps-logs"
	DefaultPollInterval     = 1 * time.Second
	DefaultStoreTimeout     = 500 * time.Millisecond
	DefaultSubscriberBuffer = 16
	DefaultBackend          = BackendRedis
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisDialTimeout = 2 * time.Second
	DefaultSQLitePath       = "../db/relay.db"
	DefaultPingInterval     = 30 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultLogDir           = "../log"
	DefaultLogFile          = "relay.log"
	DefaultLogLevel         = "info"
	DefaultLogMaxSizeMB     = 50
	DefaultLogMaxBackups    = 3
)

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// hostname is swapped in tests.
var hostname = os.Hostname

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		if h, err := hostname(); err == nil {
			c.Host = h
		}
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogQueue == "" {
		c.LogQueue = DefaultLogQueue
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultBackend
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = DefaultRedisAddr
	}
	if c.Store.Redis.DialTimeout == 0 {
		c.Store.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = DefaultSQLitePath
	}

	// Stream defaults
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PongWait == 0 {
		c.Stream.PongWait = DefaultPongWait
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}

	// Log defaults
	if c.Log.Dir == "" {
		c.Log.Dir = DefaultLogDir
	}
	if c.Log.File == "" {
		c.Log.File = DefaultLogFile
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}
