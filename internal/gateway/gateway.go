package gateway

import (
	"context"
	"fmt"

	"metrics-relay/internal/domain"
	"metrics-relay/internal/util"
)

// RelayStarter is satisfied by *relay.Relay. Start must be idempotent.
type RelayStarter interface {
	Start(ctx context.Context) error
}

// Gateway admits subscribers and makes sure the relay is running once the
// first one arrives.
type Gateway struct {
	ctx    context.Context
	hub    *Hub
	relay  RelayStarter
	logger *util.RelayLogger
}

// New creates a Gateway. ctx bounds the lifetime of the relay it starts and
// should be the process context, not a request context.
func New(ctx context.Context, hub *Hub, relay RelayStarter, logger *util.RelayLogger) *Gateway {
	if logger == nil {
		logger = &util.RelayLogger{}
	}
	return &Gateway{
		ctx:    ctx,
		hub:    hub,
		relay:  relay,
		logger: logger,
	}
}

// Connect registers a subscriber and ensures the relay is running. The
// subscriber receives events from the next completed cycle on.
func (g *Gateway) Connect(remoteAddr string) (*Subscriber, error) {
	sub := g.hub.Subscribe(remoteAddr)

	if err := g.relay.Start(g.ctx); err != nil {
		g.hub.Unsubscribe(sub)
		return nil, fmt.Errorf("start relay: %w", err)
	}

	g.logger.LogEvent(util.LOG_LEVEL_INFO, "subscriber", sub.ID, "connected from", remoteAddr,
		"total:", g.hub.Count())
	return sub, nil
}

// Disconnect removes a subscriber. Calling it twice is harmless.
func (g *Gateway) Disconnect(sub *Subscriber) {
	if err := g.hub.Unsubscribe(sub); err != nil {
		return
	}
	g.logger.LogEvent(util.LOG_LEVEL_INFO, "subscriber", sub.ID, "disconnected, dropped",
		sub.Dropped(), "events, total:", g.hub.Count())
}

func (g *Gateway) Broadcast(evt domain.Event) {
	g.hub.Broadcast(evt)
}

func (g *Gateway) Subscribers() int {
	return g.hub.Count()
}

// Close disconnects every subscriber, used during shutdown.
func (g *Gateway) Close() {
	n := g.hub.CloseAll()
	g.logger.LogEvent(util.LOG_LEVEL_INFO, "closed", n, "subscribers")
}
