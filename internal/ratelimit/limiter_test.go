package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAllowWithinWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !l.Allow("caller", 3, time.Minute) {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if l.Allow("caller", 3, time.Minute) {
		t.Fatal("fourth hit should be denied")
	}
}

func TestWindowResets(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	l := NewWithClock(clock)

	if !l.Allow("caller", 1, time.Minute) {
		t.Fatal("first hit should be allowed")
	}
	if l.Allow("caller", 1, time.Minute) {
		t.Fatal("second hit in the same window should be denied")
	}

	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()

	if !l.Allow("caller", 1, time.Minute) {
		t.Fatal("hit after the window elapsed should start a fresh window")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	if !l.Allow("a", 1, time.Minute) {
		t.Fatal("a should be allowed")
	}
	if !l.Allow("b", 1, time.Minute) {
		t.Fatal("b must not share a's window")
	}
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	l := NewWithClock(time.Now)
	if l.Allow("caller", 0, time.Minute) {
		t.Fatal("a zero limit should deny all hits")
	}
}

func TestConcurrentAllow(t *testing.T) {
	l := NewWithClock(time.Now)

	const workers = 50
	var wg sync.WaitGroup
	allowed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared", 10, time.Minute)
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 10 {
		t.Fatalf("expected exactly 10 allowed, got %d", count)
	}
}

func TestJanitorEvictsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	l := NewWithClock(clock)
	l.Allow("stale", 5, time.Second)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	// Run one janitor sweep by hand.
	l.mu.Lock()
	for key, w := range l.entries {
		if !clock().Before(w.resetAt) {
			delete(l.entries, key)
		}
	}
	remaining := len(l.entries)
	l.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("expected expired entries evicted, %d remain", remaining)
	}
}
