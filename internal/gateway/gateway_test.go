package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metrics-relay/internal/domain"
	"metrics-relay/internal/relay"
)

// gatedStore blocks the relay's first store call until release is closed.
type gatedStore struct {
	release chan struct{}
	mu      sync.Mutex
	values  map[string]string
	queue   [][]byte
}

func newGatedStore() *gatedStore {
	return &gatedStore{release: make(chan struct{}), values: make(map[string]string)}
}

func (s *gatedStore) Init() error  { return nil }
func (s *gatedStore) Close() error { return nil }

func (s *gatedStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	<-s.release
	return nil, nil
}

func (s *gatedStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *gatedStore) PopFront(ctx context.Context, queueKey string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false, nil
	}
	line := s.queue[0]
	s.queue = s.queue[1:]
	return line, true, nil
}

type countingStarter struct {
	calls atomic.Int32
	err   error
}

func (c *countingStarter) Start(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func receive(t *testing.T, sub *Subscriber) map[string]interface{} {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscriber channel closed unexpectedly")
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &decoded))
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestGateway_SubscribersShareFirstBroadcast(t *testing.T) {
	store := newGatedStore()
	store.values["vivobook-cpu-metrics"] = "42.5"
	store.queue = [][]byte{[]byte("line1")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(8, nil)
	cfg := relay.DefaultConfig()
	cfg.Host = "vivobook"
	cfg.Interval = time.Hour
	r := relay.New(cfg, store, hub, nil)
	gw := New(ctx, hub, r, nil)

	sub1, err := gw.Connect("10.0.0.1:5000")
	require.NoError(t, err)
	sub2, err := gw.Connect("10.0.0.2:5000")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.Subscribers())
	assert.NotEqual(t, sub1.ID, sub2.ID)

	close(store.release)

	for _, sub := range []*Subscriber{sub1, sub2} {
		first := receive(t, sub)
		assert.Equal(t, "metrics_update", first["event"])
		data := first["data"].(map[string]interface{})
		assert.Equal(t, 42.5, data["cpu_usage"])
		assert.Nil(t, data["memory_usage"])

		second := receive(t, sub)
		assert.Equal(t, "log_update", second["event"])
		assert.Equal(t, "line1", second["data"])
	}

	assert.Eventually(t, func() bool { return r.Cycles() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(1), r.Cycles(), "only one relay loop should be polling")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, r.Stop(stopCtx))
}

func TestGateway_ConnectStartsRelayEveryTime(t *testing.T) {
	starter := &countingStarter{}
	gw := New(context.Background(), NewHub(0, nil), starter, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.Connect("client")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Idempotency is the relay's job; the gateway asks on every connect.
	assert.Equal(t, int32(10), starter.calls.Load())
	assert.Equal(t, 10, gw.Subscribers())
}

func TestGateway_ConnectFailsWhenRelayCannotStart(t *testing.T) {
	starter := &countingStarter{err: errors.New("no store")}
	gw := New(context.Background(), NewHub(0, nil), starter, nil)

	sub, err := gw.Connect("client")
	assert.Error(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, 0, gw.Subscribers())
}

func TestGateway_Disconnect(t *testing.T) {
	gw := New(context.Background(), NewHub(0, nil), &countingStarter{}, nil)

	sub, err := gw.Connect("client")
	require.NoError(t, err)

	gw.Disconnect(sub)
	gw.Disconnect(sub)
	assert.Equal(t, 0, gw.Subscribers())

	// Broadcasting with nobody connected is a no-op.
	gw.Broadcast(domain.Event{Name: domain.EventLogUpdate, Data: "x"})

	_, ok := <-sub.Messages()
	assert.False(t, ok, "messages channel should be closed after disconnect")
}

func TestHub_OrderingAcrossSubscribers(t *testing.T) {
	hub := NewHub(32, nil)
	subs := []*Subscriber{hub.Subscribe("a"), hub.Subscribe("b"), hub.Subscribe("c")}

	for i := 0; i < 10; i++ {
		hub.Broadcast(domain.Event{Name: domain.EventLogUpdate, Data: string(rune('0' + i))})
	}

	for _, sub := range subs {
		for i := 0; i < 10; i++ {
			msg := receive(t, sub)
			assert.Equal(t, string(rune('0'+i)), msg["data"])
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(2, nil)
	slow := hub.Subscribe("slow")
	fast := hub.Subscribe("fast")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			hub.Broadcast(domain.Event{Name: domain.EventLogUpdate, Data: "x"})
			<-fast.Messages()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}

	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Len(t, slow.Messages(), 2)
}

func TestHub_UnsubscribeTwice(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("a")

	assert.NoError(t, hub.Unsubscribe(sub))
	assert.ErrorIs(t, hub.Unsubscribe(sub), ErrSubscriberGone)
	assert.Equal(t, 0, hub.Count())
}

func TestHub_UnencodableEventIsSkipped(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("a")

	hub.Broadcast(domain.Event{Name: "bad", Data: make(chan int)})
	assert.Len(t, sub.Messages(), 0)
}

func TestGateway_CloseDisconnectsEveryone(t *testing.T) {
	gw := New(context.Background(), NewHub(0, nil), &countingStarter{}, nil)

	sub1, err := gw.Connect("a")
	require.NoError(t, err)
	sub2, err := gw.Connect("b")
	require.NoError(t, err)

	gw.Close()
	assert.Equal(t, 0, gw.Subscribers())

	for _, sub := range []*Subscriber{sub1, sub2} {
		_, ok := <-sub.Messages()
		assert.False(t, ok)
		gw.Disconnect(sub)
	}
}
