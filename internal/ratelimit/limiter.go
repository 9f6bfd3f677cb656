// Package ratelimit provides a process-local fixed-window request counter.
//
// The window is approximate: a burst can straddle a boundary and briefly
// exceed the limit. That is acceptable for abuse deterrence, which is the
// only job this limiter has; it is not a quota accounting mechanism.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts hits per identifier within fixed windows. Identifiers are
// arbitrary strings, typically "ip|endpoint" or "userId|action".
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*window
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New constructs a Limiter and starts a janitor that evicts expired windows
// so the map does not grow without bound. Close stops the janitor.
func New() *Limiter {
	l := &Limiter{
		entries: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.janitor(time.Minute)
	return l
}

// NewWithClock constructs a Limiter without a janitor, using the supplied
// time source. Intended for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		entries: make(map[string]*window),
		now:     now,
		done:    make(chan struct{}),
	}
}

// Allow records a hit for the identifier and reports whether it is within
// the limit. The first hit of a window always passes; once count reaches
// maxRequests further hits are denied until the window resets.
func (l *Limiter) Allow(identifier string, maxRequests int, windowSize time.Duration) bool {
	if maxRequests <= 0 {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries[identifier]
	if !ok || !now.Before(w.resetAt) {
		l.entries[identifier] = &window{count: 1, resetAt: now.Add(windowSize)}
		return true
	}
	if w.count >= maxRequests {
		w.count++
		return false
	}
	w.count++
	return true
}

// Close stops the background janitor. Safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := l.now()
			l.mu.Lock()
			for key, w := range l.entries {
				if !now.Before(w.resetAt) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
