// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/grinbot/grinbot/pkg/logger"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var errConnClosed = errors.New("websocket connection closed")

// Conn adapts a gorilla connection to hub.Conn. Writes, including pings,
// are serialized by writeMu.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps ws and starts its keepalive pinger.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		done: make(chan struct{}),
	}

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.pingLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

// Receive returns the next text frame. Cancelling ctx unblocks a pending
// read.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("websocket", "WebSocket error", map[string]any{
					"conn":  c.id,
					"error": err.Error(),
				})
			}
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Send writes one text frame.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.WarnCF("websocket", "Failed to send ping", map[string]any{
					"conn":  c.id,
					"error": err.Error(),
				})
				_ = c.Close()
				return
			}
		}
	}
}
