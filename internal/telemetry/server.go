package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Routes of the telemetry server
const (
	WebsocketPath = "/ws/telemetry"
	HealthPath    = "/healthz"
)

// Server exposes the hub over HTTP
type Server struct {
	hub    *Hub
	tokens *TokenManager
	log    logrus.FieldLogger
}

// NewServer creates a server for hub. A nil token manager leaves the
// websocket open to anyone who can reach the address.
func NewServer(hub *Hub, tokens *TokenManager, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{hub: hub, tokens: tokens, log: logger}
}

// Handler returns the telemetry routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WebsocketPath, RequireToken(s.tokens)(NewHandler(s.hub)))
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"clients": s.hub.ClientCount(),
		})
	})
	return mux
}

// Serve runs the server on l until ctx is cancelled, then disconnects the
// clients
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	s.log.Infof("[Telemetry] Websocket telemetry at ws://%s%s", l.Addr(), WebsocketPath)

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
