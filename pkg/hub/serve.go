package hub

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
)

// errClosed ends the task group when the client goes away cleanly.
var errClosed = errors.New("connection closed")

// Serve registers conn and runs its receive loop and notification poll
// loop until either ends or ctx is done. It always disconnects and closes
// conn before returning.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	h.Connect(conn)
	defer func() {
		h.Disconnect(conn)
		_ = conn.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.receiveLoop(gctx, conn) })
	g.Go(func() error { return h.pollLoop(gctx, conn) })

	err := g.Wait()
	if errors.Is(err, errClosed) || errors.Is(err, context.Canceled) || failure.KindOf(err) == failure.Connection {
		return nil
	}
	return err
}

func (h *Hub) receiveLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.DebugCF("hub", "Receive ended", map[string]any{"conn": conn.ID(), "error": err.Error()})
			return errClosed
		}
		if err := h.handleInbound(ctx, conn, data); err != nil {
			return err
		}
	}
}

// handleInbound validates one frame, echoes the human turn to the other
// clients and queues the pipeline run. Only errors that end the
// connection are returned.
func (h *Hub) handleInbound(ctx context.Context, conn Conn, data []byte) error {
	msg, err := memory.ParseUserMessage(data)
	if err != nil {
		logger.WarnCF("hub", "Invalid inbound message", map[string]any{"conn": conn.ID(), "error": err.Error()})
		return h.Send(ctx, hooks.ErrorMessage(string(failure.InvalidMessage), err.Error()), conn)
	}

	if !h.limiter.Allow(conn.ID()) {
		logger.WarnCF("hub", "Inbound message rate limited", map[string]any{"conn": conn.ID()})
		return h.Send(ctx, hooks.ErrorMessage(string(failure.RateLimited),
			"Too many messages, slow down."), conn)
	}

	if err := h.BroadcastExcept(ctx, hooks.ChatMessage(msg.Text, SenderUser), conn); err != nil {
		return err
	}

	submitted := h.pool.Submit(ctx, func(root context.Context) {
		h.run(root, conn, msg)
	})
	if !submitted {
		return ctx.Err()
	}
	return nil
}

func (h *Hub) run(ctx context.Context, conn Conn, msg memory.UserMessage) {
	reply, err := h.respond(ctx, msg)
	if err != nil {
		kind := failure.KindOf(err)
		logger.ErrorCF("hub", "Message processing failed",
			map[string]any{"conn": conn.ID(), "kind": string(kind), "error": err.Error()})
		if h.connected(conn) {
			_ = h.Send(ctx, hooks.ErrorMessage(string(kind), failure.Description(err)), conn)
		}
		return
	}
	_ = h.Broadcast(ctx, reply)
}

func (h *Hub) connected(conn Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[conn.ID()] == conn
}

// pollLoop forwards queued notifications to conn only, in FIFO order.
func (h *Hub) pollLoop(ctx context.Context, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.queue.Done():
			<-ctx.Done()
			return ctx.Err()
		default:
		}
		n, ok := h.queue.Pop(ctx, h.opts.PollInterval)
		if !ok {
			continue
		}
		logger.DebugCF("hub", "Delivering notification", map[string]any{"conn": conn.ID(), "id": n.ID})
		if err := h.Send(ctx, n.Payload, conn); err != nil {
			return err
		}
	}
}
