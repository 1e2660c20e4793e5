package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"metrics-relay/internal/endpoints"
	"metrics-relay/internal/util"
)

const shutdownTimeout = 25 * time.Second

func NewRouter(gw endpoints.Connector, opts endpoints.StreamOptions, webSlogger *util.RelayLogger) *mux.Router {
	r := mux.NewRouter()

	addRoutes(r, gw, opts, webSlogger)

	r.Use(loggingMiddleware(webSlogger))

	return r
}

func addRoutes(r *mux.Router, gw endpoints.Connector, opts endpoints.StreamOptions, webSlogger *util.RelayLogger) {
	streamHandler := &endpoints.Stream{}
	streamHandler.Init(gw, webSlogger, opts)

	r.HandleFunc("/ws", streamHandler.StreamHandler).Methods("GET")
	r.HandleFunc("/socket", streamHandler.StreamHandler).Methods("GET")
}

// NewServer builds the HTTP server. There is no write timeout since
// websocket connections are long-lived; the stream sets its own deadlines.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Serve runs server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, server *http.Server, webSlogger *util.RelayLogger) error {
	errCh := make(chan error, 1)
	go func() {
		webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Listening on", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	case <-ctx.Done():
	}

	webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Shutting down server...")
	if err := gracefulShutdown(server, shutdownTimeout); err != nil {
		webSlogger.LogEvent(util.LOG_LEVEL_ERROR, "Server stopped with error:", err)
		return err
	}
	webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Server stopped gracefully.")
	return nil
}

func gracefulShutdown(server *http.Server, maximumTime time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), maximumTime)
	defer cancel()

	return server.Shutdown(ctx)
}

func loggingMiddleware(logger *util.RelayLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogEvent(util.LOG_LEVEL_INFO, fmt.Sprintf("Request: %s %s from %s", r.Method, r.RequestURI, r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}
}
