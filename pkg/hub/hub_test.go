package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinbot/grinbot/pkg/bus"
	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/ratelimit"
)

type fakeConn struct {
	id       string
	inbound  chan []byte
	sent     chan []byte
	closed   chan struct{}
	once     sync.Once
	failSend bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:      id,
		inbound: make(chan []byte, 16),
		sent:    make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.sent <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type frame struct {
	Error   bool           `json:"error"`
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
}

func (c *fakeConn) next(t *testing.T) frame {
	t.Helper()
	select {
	case data := <-c.sent:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no frame received", c.id)
		return frame{}
	}
}

func (c *fakeConn) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.sent:
		t.Fatalf("%s: unexpected frame %s", c.id, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func echoResponder(_ context.Context, msg memory.UserMessage) (hooks.Message, error) {
	return hooks.ChatMessage("reply to "+msg.Text, "AI"), nil
}

func startHub(t *testing.T, respond Responder, opts Options) (*Hub, *bus.Queue, context.Context) {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := bus.NewQueue()
	h := New(q, respond, opts)
	h.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.Shutdown()
		q.Close()
	})
	return h, q, ctx
}

func serve(t *testing.T, ctx context.Context, h *Hub, conns ...*fakeConn) {
	t.Helper()
	for _, c := range conns {
		go func(c *fakeConn) { _ = h.Serve(ctx, c) }(c)
	}
	require.Eventually(t, func() bool { return h.Len() == len(conns) }, time.Second, 5*time.Millisecond)
}

func TestHub_EchoThenReply(t *testing.T) {
	h, _, ctx := startHub(t, echoResponder, Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	serve(t, ctx, h, a, b)

	a.inbound <- []byte(`{"text":"hi"}`)

	echo := b.next(t)
	assert.Equal(t, hooks.TypeChat, echo.Type)
	assert.Equal(t, "hi", echo.Content["text"])
	assert.Equal(t, SenderUser, echo.Content["sender"])

	reply := b.next(t)
	assert.Equal(t, "reply to hi", reply.Content["text"])
	assert.Equal(t, "AI", reply.Content["sender"])

	got := a.next(t)
	assert.Equal(t, "reply to hi", got.Content["text"])
	a.assertQuiet(t)
}

func TestHub_NotificationsInOrder(t *testing.T) {
	h, q, ctx := startHub(t, echoResponder, Options{})
	c := newFakeConn("c")
	serve(t, ctx, h, c)

	q.Push("N1")
	q.Push("N2")

	first, second := c.next(t), c.next(t)
	assert.Equal(t, hooks.TypeNotification, first.Type)
	assert.Equal(t, "N1", first.Content["text"])
	assert.Equal(t, "N2", second.Content["text"])
	assert.Equal(t, "AI", second.Content["sender"])
}

func TestHub_StructuredNotification(t *testing.T) {
	h, q, ctx := startHub(t, echoResponder, Options{})
	c := newFakeConn("c")
	serve(t, ctx, h, c)

	q.Push(map[string]any{"type": "reminder", "id": "r1"})

	select {
	case data := <-c.sent:
		assert.JSONEq(t, `{"type":"reminder","id":"r1"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

func TestHub_SendFailureDropsConnection(t *testing.T) {
	h, _, _ := startHub(t, echoResponder, Options{})
	good, bad := newFakeConn("good"), newFakeConn("bad")
	bad.failSend = true
	h.Connect(good)
	h.Connect(bad)

	require.NoError(t, h.Broadcast(context.Background(), hooks.ChatMessage("x", "AI")))
	assert.Equal(t, "x", good.next(t).Content["text"])
	assert.Equal(t, 1, h.Len())

	err := h.Send(context.Background(), "again", bad)
	assert.True(t, errors.Is(err, failure.Connection))
}

func TestHub_InvalidMessageKeepsConnection(t *testing.T) {
	h, _, ctx := startHub(t, echoResponder, Options{})
	c := newFakeConn("c")
	serve(t, ctx, h, c)

	c.inbound <- []byte(`not json`)
	f := c.next(t)
	assert.True(t, f.Error)
	assert.Equal(t, string(failure.InvalidMessage), f.Content["name"])

	c.inbound <- []byte(`{"text":"still here"}`)
	assert.Equal(t, "reply to still here", c.next(t).Content["text"])
	assert.Equal(t, 1, h.Len())
}

func TestHub_RateLimited(t *testing.T) {
	h, _, ctx := startHub(t, echoResponder, Options{
		RateLimit: ratelimit.Config{Enabled: true, MessagesPerMinute: 1, Burst: 1},
	})
	c := newFakeConn("c")
	serve(t, ctx, h, c)

	c.inbound <- []byte(`{"text":"one"}`)
	assert.Equal(t, "reply to one", c.next(t).Content["text"])

	c.inbound <- []byte(`{"text":"two"}`)
	f := c.next(t)
	assert.True(t, f.Error)
	assert.Equal(t, string(failure.RateLimited), f.Content["name"])
}

func TestHub_ResponderErrorGoesToSenderOnly(t *testing.T) {
	respond := func(context.Context, memory.UserMessage) (hooks.Message, error) {
		return hooks.Message{}, failure.Errorf(failure.LLM, "complete", "model unavailable")
	}
	h, _, ctx := startHub(t, respond, Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	serve(t, ctx, h, a, b)

	a.inbound <- []byte(`{"text":"hi"}`)

	f := a.next(t)
	assert.True(t, f.Error)
	assert.Equal(t, string(failure.LLM), f.Content["name"])
	assert.Equal(t, "model unavailable", f.Content["description"])

	assert.Equal(t, "hi", b.next(t).Content["text"])
	b.assertQuiet(t)
}

func TestHub_DisconnectDoesNotCancelRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	respond := func(ctx context.Context, msg memory.UserMessage) (hooks.Message, error) {
		close(started)
		<-release
		finished.Store(ctx.Err() == nil)
		return hooks.ChatMessage("done", "AI"), nil
	}
	h, _, ctx := startHub(t, respond, Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	serve(t, ctx, h, a, b)

	a.inbound <- []byte(`{"text":"slow"}`)
	<-started
	_ = a.Close()
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)
	close(release)

	assert.Equal(t, "slow", b.next(t).Content["text"])
	assert.Equal(t, "done", b.next(t).Content["text"])
	assert.True(t, finished.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, 8)
	p.Start(context.Background())
	defer p.Stop()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.True(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1)
	p.Start(context.Background())
	p.Stop()
	assert.False(t, p.Submit(context.Background(), func(context.Context) {}))
}
