package domain

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps any failure talking to the backing store.
var ErrStoreUnavailable = errors.New("store unavailable")

const (
	EventMetricsUpdate = "metrics_update"
	EventLogUpdate     = "log_update"
)

// MetricSample is the latest value read for a named metric. Value is nil
// when the key is missing or its contents are not a number.
type MetricSample struct {
	Name  string
	Value *float64
}

// LogLine is one entry popped from the log queue.
type LogLine struct {
	Raw []byte
}

func (l LogLine) Text() string {
	return string(l.Raw)
}

type MetricsPayload struct {
	CPUUsage    *float64 `json:"cpu_usage"`
	MemoryUsage *float64 `json:"memory_usage"`
}

// Event is what gets pushed to subscribers. Data is a MetricsPayload for
// metrics_update and a string for log_update.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

func NewMetricsUpdate(cpu, memory MetricSample) Event {
	return Event{
		Name: EventMetricsUpdate,
		Data: MetricsPayload{CPUUsage: cpu.Value, MemoryUsage: memory.Value},
	}
}

func NewLogUpdate(line LogLine) Event {
	return Event{Name: EventLogUpdate, Data: line.Text()}
}

// MetricStore is the read side of the shared key-value store.
type MetricStore interface {
	Init() error
	// Get returns the current value of key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// PopFront removes and returns the oldest entry of a FIFO queue; ok is
	// false when the queue is empty.
	PopFront(ctx context.Context, queueKey string) (value []byte, ok bool, err error)
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// MetricWriter is the producer side, used by the development feed.
type MetricWriter interface {
	Set(ctx context.Context, key, value string) error
	PushBack(ctx context.Context, queueKey string, value []byte) error
}

// ReadWriteStore is implemented by every repository adapter.
type ReadWriteStore interface {
	MetricStore
	MetricWriter
}
