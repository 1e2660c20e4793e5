package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"metrics-relay/internal/domain"
	"metrics-relay/internal/util"
)

var (
	ErrSlowSubscriber = errors.New("subscriber queue full")
	ErrSubscriberGone = errors.New("subscriber already disconnected")
)

const DefaultSubscriberBuffer = 16

// Subscriber is one connected client. Encoded events arrive on Messages in
// broadcast order; the channel is closed when the subscriber is removed.
type Subscriber struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	send    chan []byte
	dropped atomic.Uint64
}

func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Dropped counts events skipped because the subscriber's queue was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) deliver(msg []byte) error {
	select {
	case s.send <- msg:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSlowSubscriber
	}
}

// Hub owns the set of connected subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	buffer int
	logger *util.RelayLogger
}

func NewHub(buffer int, logger *util.RelayLogger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = &util.RelayLogger{}
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Subscribe(remoteAddr string) *Subscriber {
	sub := &Subscriber{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its message channel.
func (h *Hub) Unsubscribe(sub *Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return ErrSubscriberGone
	}
	delete(h.subs, sub.ID)
	close(sub.send)
	return nil
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast encodes evt once and queues it for every subscriber without
// blocking. Broadcasts are serialized, so all subscribers see one order.
func (h *Hub) Broadcast(evt domain.Event) {
	msg, err := json.Marshal(evt)
	if err != nil {
		h.logger.LogEvent(util.LOG_LEVEL_ERROR, "encode", evt.Name, "failed:", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if err := sub.deliver(msg); err != nil {
			h.logger.LogEvent(util.LOG_LEVEL_DEBUG, "dropped", evt.Name, "for", sub.ID, err)
		}
	}
}

// CloseAll removes every subscriber, closing their message channels.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.subs)
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.send)
	}
	return n
}
