// Package server wires the relay's HTTP surface: health, metrics, and the
// /live websocket endpoint that spawns one bridge per connection.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlingua/voxlingua/pkg/relay/bridge"
	"github.com/voxlingua/voxlingua/pkg/relay/config"
	"github.com/voxlingua/voxlingua/pkg/relay/metrics"
	"github.com/voxlingua/voxlingua/pkg/relay/mw"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	metrics *metrics.Metrics

	registry *prometheus.Registry
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		metrics:  metrics.New(registry),
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins during practice
			// sessions; auth happens at the upstream key boundary.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/live", s.handleLive)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := s.logger.With("request_id", reqID)

	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client.SetReadLimit(s.cfg.MaxMessageBytes)

	dial := func(ctx context.Context) (bridge.Conn, error) {
		up, _, derr := s.dialer.DialContext(ctx, s.cfg.DialURL(), nil)
		if derr != nil {
			return nil, derr
		}
		up.SetReadLimit(s.cfg.MaxMessageBytes)
		return up, nil
	}

	b := bridge.New(client, dial, s.cfg.WriteTimeout, logger, s.metrics)
	if err := b.Run(r.Context()); err != nil {
		logger.Warn("bridge ended with error", "error", err)
	}
}
