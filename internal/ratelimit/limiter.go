// Package ratelimit implements an in-memory sliding-window request limiter.
// The window is measured from the last seen request, so a client that keeps
// hammering a denied key never gets its counter reset.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// UnknownClient is the placeholder key for requests whose client address could
// not be determined. They share one counter instead of bypassing the limiter.
const UnknownClient = "unknown"

type Options struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type record struct {
	count    int
	lastSeen time.Time
}

// Limiter counts requests per key. Instances are independent: the global
// limiter and any per-route limiters each get their own.
type Limiter struct {
	opts Options

	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

func New(opts Options) *Limiter {
	return &Limiter{
		opts:    opts,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Check records one request for key and reports whether it is allowed.
// Lookup, reset and increment happen under one lock so concurrent requests
// from the same key cannot both slip past the limit.
func (l *Limiter) Check(key string) Result {
	if key == "" {
		key = UnknownClient
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || now.Sub(rec.lastSeen) > l.opts.Window {
		l.records[key] = &record{count: 1, lastSeen: now}
		return Result{Allowed: true}
	}

	rec.count++
	rec.lastSeen = now
	if rec.count > l.opts.Limit {
		return Result{Allowed: false, RetryAfter: l.opts.Window}
	}
	return Result{Allowed: true}
}

// ComposeKey scopes a client key to a single route so per-route limiters do
// not share counters with the global one.
func ComposeKey(route, client string) string {
	if client == "" {
		client = UnknownClient
	}
	return route + ":" + client
}

// Run sweeps expired records every interval until ctx is cancelled, keeping
// the store from growing for the process lifetime.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, rec := range l.records {
		if now.Sub(rec.lastSeen) > l.opts.Window {
			delete(l.records, key)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
