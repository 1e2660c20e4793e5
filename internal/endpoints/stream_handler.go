package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"metrics-relay/internal/gateway"
	"metrics-relay/internal/util"
)

// Connector is the part of the gateway the stream endpoint needs.
type Connector interface {
	Connect(remoteAddr string) (*gateway.Subscriber, error)
	Disconnect(sub *gateway.Subscriber)
}

type StreamOptions struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Stream bridges a websocket connection to a gateway subscriber. Events
// flow one way, server to client; inbound frames are read and discarded.
type Stream struct {
	Response APIResponse
	logger   *util.RelayLogger
	gateway  Connector
	opts     StreamOptions
	upgrader websocket.Upgrader
}

func (s *Stream) Init(gw Connector, webSlogger *util.RelayLogger, opts StreamOptions) {
	s.gateway = gw
	s.logger = webSlogger
	s.opts = opts
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		// Any dashboard origin may subscribe; the stream is read-only.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

func (s *Stream) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.logger.LogEvent(util.LOG_LEVEL_WARN, "Rejected non-websocket request from", r.RemoteAddr)
		s.Response.WriteErrorResponseWithStatusCode(w, ErrUpgradeRequired, http.StatusUpgradeRequired)
		return
	}

	sub, err := s.gateway.Connect(r.RemoteAddr)
	if err != nil {
		s.logger.LogEvent(util.LOG_LEVEL_ERROR, "While connecting subscriber. Err -", err)
		s.Response.WriteErrorResponseWithStatusCode(w, fmt.Errorf("%w: %v", ErrRelayUnavailable, err), http.StatusServiceUnavailable)
		return
	}
	defer s.gateway.Disconnect(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.LogEvent(util.LOG_LEVEL_WARN, "Websocket upgrade failed. Err -", err)
		return
	}
	defer conn.Close()

	readerDone := make(chan struct{})
	go s.readLoop(conn, readerDone)

	s.writeLoop(conn, sub, readerDone)
}

// readLoop keeps the read side moving so pongs and close frames are
// processed. It returns when the client goes away.
func (s *Stream) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writeLoop(conn *websocket.Conn, sub *gateway.Subscriber, readerDone <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.LogEvent(util.LOG_LEVEL_DEBUG, "write to", sub.ID, "failed:", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}
