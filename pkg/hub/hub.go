// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

// Package hub tracks live client connections, runs each inbound message
// through the pipeline on a bounded worker pool and fans results and queued
// notifications out to the clients.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grinbot/grinbot/pkg/bus"
	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/ratelimit"
)

// Conn is one client connection. Receive blocks until a frame arrives and
// is only called from one goroutine. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Responder produces the reply to one inbound message.
type Responder func(ctx context.Context, msg memory.UserMessage) (hooks.Message, error)

// Options tune a Hub. Zero values get defaults.
type Options struct {
	PollInterval time.Duration
	Workers      int
	QueueSize    int
	RateLimit    ratelimit.Config
}

const (
	DefaultPollInterval = time.Second
	DefaultWorkers      = 4

	// SenderUser marks the echo of a human turn.
	SenderUser = "user"
)

type Hub struct {
	queue   *bus.Queue
	respond Responder
	opts    Options
	limiter *ratelimit.Limiter
	pool    *Pool

	mu    sync.RWMutex
	conns map[string]Conn
	order []string
}

func New(queue *bus.Queue, respond Responder, opts Options) *Hub {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Hub{
		queue:   queue,
		respond: respond,
		opts:    opts,
		limiter: ratelimit.NewLimiter(opts.RateLimit),
		pool:    NewPool(opts.Workers, opts.QueueSize),
		conns:   make(map[string]Conn),
	}
}

// Start runs the worker pool under root. Pipeline runs use root, not the
// connection's context, so a disconnect never cancels an episode in flight.
func (h *Hub) Start(root context.Context) {
	h.pool.Start(root)
}

// Shutdown stops accepting work and waits for in-flight runs.
func (h *Hub) Shutdown() {
	h.pool.Stop()
}

func (h *Hub) Connect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; !ok {
		h.order = append(h.order, conn.ID())
	}
	h.conns[conn.ID()] = conn
	logger.InfoCF("hub", "Client connected", map[string]any{"conn": conn.ID(), "clients": len(h.conns)})
}

// Disconnect removes conn. It is safe to call more than once.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	cur, ok := h.conns[conn.ID()]
	if ok && cur == conn {
		delete(h.conns, conn.ID())
		for i, id := range h.order {
			if id == conn.ID() {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.limiter.Forget(conn.ID())
		logger.InfoCF("hub", "Client disconnected", map[string]any{"conn": conn.ID(), "clients": n})
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) snapshot(except Conn) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(h.conns))
	for _, id := range h.order {
		c := h.conns[id]
		if except != nil && c == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Broadcast sends msg to every connection. Connections that fail are
// dropped and the broadcast continues.
func (h *Hub) Broadcast(ctx context.Context, msg any) error {
	return h.BroadcastExcept(ctx, msg, nil)
}

// BroadcastExcept sends msg to every connection but excluded.
func (h *Hub) BroadcastExcept(ctx context.Context, msg any, excluded Conn) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	for _, c := range h.snapshot(excluded) {
		_ = h.sendRaw(ctx, data, c)
	}
	return nil
}

// Send delivers msg to conn only. A failed write drops conn.
func (h *Hub) Send(ctx context.Context, msg any, conn Conn) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return h.sendRaw(ctx, data, conn)
}

func (h *Hub) sendRaw(ctx context.Context, data []byte, conn Conn) error {
	if err := conn.Send(ctx, data); err != nil {
		logger.WarnCF("hub", "Failed to send to client, removing connection",
			map[string]any{"conn": conn.ID(), "error": err.Error()})
		h.Disconnect(conn)
		_ = conn.Close()
		return failure.New(failure.Connection, "send", err)
	}
	return nil
}

// encode turns a message into a JSON frame. Plain strings become
// notification messages.
func encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	case string:
		msg = hooks.Message{Type: hooks.TypeNotification, Content: hooks.Content{Text: m, Sender: "AI"}}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode outbound message: %w", err)
	}
	return data, nil
}
