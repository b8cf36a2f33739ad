// Package gateway exposes the notification bus to UI clients over a
// local websocket endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/deskclaw/deskclaw/pkg/cron"
)

const writeTimeout = 10 * time.Second

// Message is the envelope written to websocket clients.
type Message struct {
	Type      string             `json:"type"`
	Data      *cron.Notification `json:"data,omitempty"`
	Missed    int                `json:"missed,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	Bus    *cron.NotificationBus
	Logger zerolog.Logger
}

// Server is the websocket gateway
type Server struct {
	addr     string
	bus      *cron.NotificationBus
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("notification bus is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	return &Server{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		bus:    cfg.Bus,
		logger: cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local desktop clients only; the listener binds loopback.
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP handler serving the gateway endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/notifications", s.handleNotifications)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.logger.Info().Str("addr", s.addr).Msg("Gateway listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleNotifications upgrades the connection and forwards every bus
// notification to the client until either side goes away.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader exists only to observe the close handshake.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Notification subscriber connected")

	for {
		n, missed, err := sub.Recv(ctx)
		if err != nil {
			return
		}

		if missed > 0 {
			if err := s.writeMessage(conn, Message{Type: "lagged", Missed: missed}); err != nil {
				return
			}
		}
		if err := s.writeMessage(conn, Message{Type: "cron_notification", Data: &n}); err != nil {
			s.logger.Debug().Err(err).Msg("Client write failed, dropping subscriber")
			return
		}
	}
}

func (s *Server) writeMessage(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
