package server

import (
	"sync"
	"time"
)

// rateLimiter counts hits per key in a fixed window. It only tracks keys that
// have been hit, and forgets a key once its window has passed.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &rateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string]*rateWindow),
	}
}

// Allow records a hit for key and reports whether key is still within the limit.
func (l *rateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.Hit(key)
	return !l.Exceeded(key)
}

func (l *rateLimiter) Hit(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	w := l.hits[key]
	if w == nil {
		w = &rateWindow{start: now}
		l.hits[key] = w
	}
	w.count++
}

// Exceeded reports whether key has used up its window without recording a hit.
func (l *rateLimiter) Exceeded(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.hits[key]
	if w == nil {
		return false
	}
	if l.now().Sub(w.start) >= l.window {
		delete(l.hits, key)
		return false
	}
	return w.count >= l.limit
}

func (l *rateLimiter) sweep(now time.Time) {
	for key, w := range l.hits {
		if now.Sub(w.start) >= l.window {
			delete(l.hits, key)
		}
	}
}
