// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles WebSocket upgrade attempts per remote host.
package ratelimit

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when rate limit is exceeded.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	defaultMaxClients = 10000
	cleanupInterval   = 5 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages per-client token buckets.
type Limiter struct {
	mu         sync.Mutex
	clients    map[string]*client
	limit      rate.Limit
	burst      int
	maxClients int
	idle       time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewLimiter creates a limiter allowing perSecond attempts per client with
// the given burst. A perSecond of zero or less disables limiting and Allow
// always succeeds.
func NewLimiter(perSecond float64, burst, maxClients int) *Limiter {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		clients:    make(map[string]*client),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxClients: maxClients,
		idle:       cleanupInterval,
		stop:       make(chan struct{}),
	}
	if l.Enabled() {
		go l.cleanupLoop()
	}
	return l
}

// Enabled reports whether the limiter throttles anything.
func (l *Limiter) Enabled() bool {
	return l.limit > 0
}

// Allow reports whether an attempt from clientID may proceed.
func (l *Limiter) Allow(clientID string) bool {
	if !l.Enabled() {
		return true
	}

	now := time.Now()
	l.mu.Lock()
	c, ok := l.clients[clientID]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Remove removes a client's rate limiter.
func (l *Limiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

// Stats returns the number of tracked clients.
func (l *Limiter) Stats() (clients int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.cleanup(now)
		}
	}
}

// cleanup forgets clients idle for longer than the idle window.
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, id)
		}
	}
}

// ClientID returns the host part of a request's remote address.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware answers 429 Too Many Requests to throttled clients before next
// runs. onLimited, when set, is called for every refused request.
func Middleware(l *Limiter, next http.Handler, onLimited func(r *http.Request)) http.Handler {
	if l == nil || !l.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientID(r)) {
			if onLimited != nil {
				onLimited(r)
			}
			http.Error(w, ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
