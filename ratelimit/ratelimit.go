// Package ratelimit provides a per-key sliding-window rate limiter used for
// admin logins and analytics collection.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most max events per key within window.
type Limiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Limiter and starts its background sweeper. Call Stop to
// release the goroutine.
func New(max int, window time.Duration) *Limiter {
	l := &Limiter{
		hits:   make(map[string][]time.Time),
		max:    max,
		window: window,
		stop:   make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether key is under the limit and, if so, records the event.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key, now)
	if len(kept) >= l.max {
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// Check reports whether key is under the limit without recording anything.
// Pair it with Record when only failures should count (login attempts).
func (l *Limiter) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key, time.Now())) < l.max
}

// Record registers one event for key.
func (l *Limiter) Record(key string) {
	l.mu.Lock()
	l.hits[key] = append(l.hits[key], time.Now())
	l.mu.Unlock()
}

// Stop ends the background sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// prune drops hits older than the window for key. Caller holds l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	hits := l.hits[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.hits[key] = kept
	return kept
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key := range l.hits {
				if len(l.prune(key, now)) == 0 {
					delete(l.hits, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
