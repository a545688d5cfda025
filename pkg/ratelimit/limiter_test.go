package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, MessagesPerMinute: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Errorf("Expected message %d to be allowed", i)
		}
	}
	if l.Allow("a") {
		t.Error("Should not allow more than the burst")
	}
	// other keys are independent
	if !l.Allow("b") {
		t.Error("Expected a fresh bucket for another key")
	}
}

func TestLimiter_Refill(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, MessagesPerMinute: 600, Burst: 1}) // 10/sec

	if !l.Allow("a") {
		t.Fatal("first message should pass")
	}
	if l.Allow("a") {
		t.Fatal("second message should be limited")
	}

	time.Sleep(200 * time.Millisecond)

	if !l.Allow("a") {
		t.Error("Should have refilled at least 1 token")
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, MessagesPerMinute: 60, Burst: 1})
	l.Allow("a")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Wait(ctx, "a"); err != nil {
		t.Errorf("Wait should succeed after refill: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if err := l.Wait(short, "a"); err == nil {
		t.Error("Wait should fail when the deadline comes before a token")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	for _, cfg := range []Config{{Enabled: false, MessagesPerMinute: 1}, {Enabled: true}} {
		l := NewLimiter(cfg)
		for i := 0; i < 100; i++ {
			if !l.Allow("a") {
				t.Fatalf("disabled limiter denied message %d (%+v)", i, cfg)
			}
		}
		if l.Len() != 0 {
			t.Fatalf("disabled limiter kept buckets")
		}
	}
}

func TestLimiter_Forget(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, MessagesPerMinute: 1, Burst: 1})
	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("expected limit")
	}
	l.Forget("a")
	if !l.Allow("a") {
		t.Error("Forget should reset the bucket")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, MessagesPerMinute: 1, Burst: 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}
