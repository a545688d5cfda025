package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	q.Push("N1")
	q.Push("N2")
	assert.Equal(t, 2, q.Len())

	first, ok := q.Pop(context.Background(), time.Second)
	require.True(t, ok)
	second, ok := q.Pop(context.Background(), time.Second)
	require.True(t, ok)

	assert.Equal(t, "N1", first.Payload)
	assert.Equal(t, "N2", second.Payload)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.EnqueuedAt.After(second.EnqueuedAt))
	assert.Zero(t, q.Len())
}

func TestQueue_PopTimesOut(t *testing.T) {
	q := NewQueue()
	start := time.Now()
	_, ok := q.Pop(context.Background(), 30*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("late")
	}()
	n, ok := q.Pop(context.Background(), 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", n.Payload)
}

func TestQueue_PopCancelled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Pop(ctx, time.Minute)
	assert.False(t, ok)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.Pop(context.Background(), time.Minute)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Close")
	}

	q.Push("dropped")
	assert.Zero(t, q.Len())
}

func TestQueue_EachEntryDeliveredOnce(t *testing.T) {
	q := NewQueue()
	const n = 200

	var (
		mu   sync.Mutex
		seen = make(map[any]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.Pop(context.Background(), 100*time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[item.Payload]++
				mu.Unlock()
			}
		}()
	}
	for i := range n {
		q.Push(i)
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for k, c := range seen {
		assert.Equal(t, 1, c, "payload %v", k)
	}
}
