package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const LOG_BUFFER_SIZE = 1000

var ErrLogNotInitialized = errors.New("log object is not initialized yet")

const (
	LOG_LEVEL_ERROR = iota + 1
	LOG_LEVEL_WARN
	LOG_LEVEL_INFO
	LOG_LEVEL_DEBUG
)

// LogOptions controls where and how verbosely the relay logs.
type LogOptions struct {
	Dir        string
	File       string
	Level      int
	Stderr     bool
	MaxSizeMB  int
	MaxBackups int
}

// RelayLogger is a leveled logger that hands entries to a single writer
// goroutine so that callers on the hot path only pay for a channel send.
type RelayLogger struct {
	mu          sync.RWMutex
	initialized bool
	logBuffer   chan leveledEntry
	wg          sync.WaitGroup
	sink        *lumberjack.Logger
	zapLogger   *zap.Logger
}

type leveledEntry struct {
	level  int
	logMsg string
}

// Init opens the rotating log file described by opts and starts the writer.
func (m *RelayLogger) Init(opts LogOptions) error {
	if opts.File == "" {
		opts.File = "relay.log"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}

	CheckAndCreateLogFolder(opts.Dir)

	m.sink = &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, opts.File),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	level := ZapLevel(opts.Level)
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(m.sink), level)}
	if opts.Stderr {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	return m.InitWithCore(zapcore.NewTee(cores...))
}

// InitWithCore starts the writer on top of an existing zap core.
func (m *RelayLogger) InitWithCore(core zapcore.Core) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	m.zapLogger = zap.New(core)
	m.logBuffer = make(chan leveledEntry, LOG_BUFFER_SIZE)

	m.wg.Add(1)
	go m.logWriter()

	m.initialized = true
	return nil
}

// ZapLevel maps a LOG_LEVEL_* constant to the zap level. Unknown values
// fall back to info.
func ZapLevel(level int) zapcore.Level {
	switch level {
	case LOG_LEVEL_ERROR:
		return zapcore.ErrorLevel
	case LOG_LEVEL_WARN:
		return zapcore.WarnLevel
	case LOG_LEVEL_DEBUG:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a config level name to a LOG_LEVEL_* constant.
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return LOG_LEVEL_ERROR, nil
	case "warn", "warning":
		return LOG_LEVEL_WARN, nil
	case "info", "":
		return LOG_LEVEL_INFO, nil
	case "debug":
		return LOG_LEVEL_DEBUG, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

func (m *RelayLogger) logWriter() {
	defer m.wg.Done()

	for entry := range m.logBuffer {
		switch entry.level {
		case LOG_LEVEL_ERROR:
			m.zapLogger.Error(entry.logMsg)
		case LOG_LEVEL_WARN:
			m.zapLogger.Warn(entry.logMsg)
		case LOG_LEVEL_DEBUG:
			m.zapLogger.Debug(entry.logMsg)
		default:
			m.zapLogger.Info(entry.logMsg)
		}
	}
	m.zapLogger.Sync()
}

// LogEvent queues a log line. The first argument may be a LOG_LEVEL_*
// constant; otherwise the line is logged at info. Remaining arguments are
// joined with spaces.
func (m *RelayLogger) LogEvent(v ...interface{}) error {
	if len(v) == 0 {
		return nil
	}

	level := LOG_LEVEL_INFO
	args := v
	if lvl, ok := v[0].(int); ok && len(v) > 1 && lvl >= LOG_LEVEL_ERROR && lvl <= LOG_LEVEL_DEBUG {
		level = lvl
		args = v[1:]
	}

	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return ErrLogNotInitialized
	}
	m.logBuffer <- leveledEntry{level: level, logMsg: strings.Join(parts, " ")}
	return nil
}

// DeInit drains pending entries and closes the log file.
func (m *RelayLogger) DeInit() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	close(m.logBuffer)
	m.mu.Unlock()

	m.wg.Wait()

	if m.sink != nil {
		m.sink.Close()
	}
}

func CheckAndCreateLogFolder(FolderNameWithPath string) {
	if FolderNameWithPath == "" {
		return
	}
	_, err := os.Stat(FolderNameWithPath)

	if os.IsNotExist(err) {
		err := os.MkdirAll(FolderNameWithPath, 0755)
		if err != nil {
			fmt.Println("Failed to create the log folder and Mkdir err :: ", err)
		}
	}
}
