package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metrics-relay/internal/domain"
)

// mockStore is an in-memory store with switchable failure.
type mockStore struct {
	mu        sync.Mutex
	values    map[string]string
	queue     [][]byte
	err       error
	keysCalls atomic.Int32
}

func newMockStore() *mockStore {
	return &mockStore{values: make(map[string]string)}
}

func (m *mockStore) Init() error  { return nil }
func (m *mockStore) Close() error { return nil }

func (m *mockStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockStore) PopFront(ctx context.Context, queueKey string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if len(m.queue) == 0 {
		return nil, false, nil
	}
	line := m.queue[0]
	m.queue = m.queue[1:]
	return line, true, nil
}

func (m *mockStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	m.keysCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var keys []string
	for k := range m.values {
		if _, ok := domain.HostFromCPUKey(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *mockStore) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// recorder collects broadcast events in order.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Broadcast(evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "vivobook"
	cfg.Interval = 10 * time.Millisecond
	return cfg
}

func metricsPayload(t *testing.T, evt domain.Event) domain.MetricsPayload {
	t.Helper()
	require.Equal(t, domain.EventMetricsUpdate, evt.Name)
	payload, ok := evt.Data.(domain.MetricsPayload)
	require.True(t, ok, "metrics_update should carry a MetricsPayload")
	return payload
}

func TestRunCycle_CPUOnlyEmptyQueue(t *testing.T) {
	store := newMockStore()
	store.values["vivobook-cpu-metrics"] = "42.5"
	out := &recorder{}

	r := New(testConfig(), store, out, nil)
	res := r.RunCycle(context.Background())

	events := out.snapshot()
	require.Len(t, events, 1, "empty queue must not produce a log_update")

	payload := metricsPayload(t, events[0])
	require.NotNil(t, payload.CPUUsage)
	assert.Equal(t, 42.5, *payload.CPUUsage)
	assert.Nil(t, payload.MemoryUsage)
	assert.Nil(t, res.Log)
	assert.Equal(t, uint64(1), r.Cycles())
}

func TestRunCycle_UnparsableValue(t *testing.T) {
	store := newMockStore()
	store.values["vivobook-cpu-metrics"] = "N/A"
	store.values["vivobook-memory-metrics"] = " 61.25\n"
	out := &recorder{}

	New(testConfig(), store, out, nil).RunCycle(context.Background())

	events := out.snapshot()
	require.Len(t, events, 1)
	payload := metricsPayload(t, events[0])
	assert.Nil(t, payload.CPUUsage)
	require.NotNil(t, payload.MemoryUsage)
	assert.Equal(t, 61.25, *payload.MemoryUsage)
}

func TestRunCycle_DrainsQueueOnePerCycle(t *testing.T) {
	store := newMockStore()
	store.queue = [][]byte{[]byte("line1"), []byte("line2")}
	out := &recorder{}
	r := New(testConfig(), store, out, nil)

	ctx := context.Background()
	r.RunCycle(ctx)
	r.RunCycle(ctx)
	r.RunCycle(ctx)

	events := out.snapshot()
	require.Len(t, events, 5)

	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	assert.Equal(t, []string{
		domain.EventMetricsUpdate, domain.EventLogUpdate,
		domain.EventMetricsUpdate, domain.EventLogUpdate,
		domain.EventMetricsUpdate,
	}, names, "metrics must precede the log of the same cycle")

	assert.Equal(t, "line1", events[1].Data)
	assert.Equal(t, "line2", events[3].Data)
	assert.Empty(t, store.queue)
}

func TestRunCycle_StoreUnavailable(t *testing.T) {
	store := newMockStore()
	store.values["vivobook-cpu-metrics"] = "10"
	store.queue = [][]byte{[]byte("kept")}
	store.setErr(errors.New("dial tcp: connection refused"))
	out := &recorder{}
	r := New(testConfig(), store, out, nil)

	res := r.RunCycle(context.Background())

	events := out.snapshot()
	require.Len(t, events, 1, "metrics are still broadcast when the store is down")
	payload := metricsPayload(t, events[0])
	assert.Nil(t, payload.CPUUsage)
	assert.Nil(t, payload.MemoryUsage)
	assert.Nil(t, res.Log)

	// Recovery on the next cycle.
	store.setErr(nil)
	r.RunCycle(context.Background())
	events = out.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "kept", events[2].Data)
}

func TestParseMetric(t *testing.T) {
	for _, raw := range []string{"0", "42.5", "-1", "1e2", " 7 "} {
		_, err := ParseMetric(raw)
		assert.NoError(t, err, raw)
	}
	for _, raw := range []string{"", "N/A", "NaN", "Inf", "-Inf", "1e500", "12%"} {
		_, err := ParseMetric(raw)
		assert.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestDiscoverHosts(t *testing.T) {
	store := newMockStore()
	store.values["vivobook-cpu-metrics"] = "1"
	store.values["node-2-cpu-metrics"] = "2"
	store.values["node-2-memory-metrics"] = "3"

	hosts := New(testConfig(), store, &recorder{}, nil).DiscoverHosts(context.Background())
	assert.ElementsMatch(t, []string{"vivobook", "node-2"}, hosts)

	store.setErr(errors.New("timeout"))
	hosts = New(testConfig(), store, &recorder{}, nil).DiscoverHosts(context.Background())
	assert.Empty(t, hosts)
}

func TestRelay_StartStop(t *testing.T) {
	store := newMockStore()
	store.values["vivobook-cpu-metrics"] = "5"
	out := &recorder{}
	r := New(testConfig(), store, out, nil)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Running())

	assert.Eventually(t, func() bool {
		return out.count(domain.EventMetricsUpdate) >= 3
	}, 2*time.Second, 5*time.Millisecond, "relay should keep broadcasting every interval")

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))

	stoppedAt := out.count(domain.EventMetricsUpdate)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stoppedAt, out.count(domain.EventMetricsUpdate), "no broadcasts after Stop")

	// A stopped relay is not restarted.
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stoppedAt, out.count(domain.EventMetricsUpdate))
}

func TestRelay_StartIsIdempotent(t *testing.T) {
	store := newMockStore()
	out := &recorder{}
	cfg := testConfig()
	cfg.Interval = time.Hour
	r := New(cfg, store, out, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Start(context.Background()))
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return out.count(domain.EventMetricsUpdate) >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), store.keysCalls.Load(), "exactly one loop should have started")
	assert.Equal(t, 1, out.count(domain.EventMetricsUpdate))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))
}

func TestRelay_StopWithoutStart(t *testing.T) {
	r := New(testConfig(), newMockStore(), &recorder{}, nil)
	assert.NoError(t, r.Stop(context.Background()))
	assert.False(t, r.Running())
}

func TestRelay_ParentContextCancels(t *testing.T) {
	out := &recorder{}
	r := New(testConfig(), newMockStore(), out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	assert.Eventually(t, func() bool { return r.Cycles() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, r.Stop(stopCtx))
}
