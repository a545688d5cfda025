// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package websocket serves the hub over WebSocket connections.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/hub"
	"github.com/grinbot/grinbot/pkg/logger"
)

// Server accepts WebSocket clients and hands each one to the hub.
type Server struct {
	cfg      config.ServerConfig
	hub      *hub.Hub
	upgrader websocket.Upgrader
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewServer(cfg config.ServerConfig, h *hub.Hub) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	s := &Server{cfg: cfg, hub: h}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// checkOrigin allows requests without an Origin header, same-host origins
// and anything listed in allow_origins ("*" allows all).
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Handler returns the HTTP routes: the socket endpoint and a status page.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	mux.HandleFunc("/", s.handleStatus)
	return mux
}

// Start listens on the configured address. It returns once the listener
// is up or failed.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	addr := s.cfg.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	logger.InfoCF("websocket", "WebSocket server starting", map[string]any{
		"address": addr,
		"path":    s.cfg.Path,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	case <-time.After(100 * time.Millisecond):
		logger.InfoCF("websocket", "WebSocket server started", map[string]any{"address": addr})
		return nil
	}
}

// Stop cancels live connections and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	logger.InfoC("websocket", "Stopping WebSocket server")
	s.cancel()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown websocket server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("websocket", "Failed to upgrade connection", map[string]any{
			"error":  err.Error(),
			"remote": r.RemoteAddr,
		})
		return
	}

	conn := NewConn(ws)
	logger.DebugCF("websocket", "Upgraded connection", map[string]any{
		"conn":   conn.ID(),
		"remote": r.RemoteAddr,
	})
	if err := s.hub.Serve(s.ctx, conn); err != nil {
		logger.WarnCF("websocket", "Connection ended with error", map[string]any{
			"conn":  conn.ID(),
			"error": err.Error(),
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.Len(),
	})
}
