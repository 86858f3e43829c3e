// Package session keeps short-lived per-user conversation state, such as a
// wizard that is halfway through collecting a new schedule.
package session

import (
	"sync"
	"time"
)

type Key struct {
	ChatID int64
	UserID int64
}

type entry[S any] struct {
	state S
	exp   time.Time
}

// Manager is an in-memory TTL map. Every Put or Update restarts the TTL.
type Manager[S any] struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	now func() time.Time

	// An O(n) sweep of expired entries runs at most once per sweepEvery.
	sweepEvery time.Duration
	nextSweep  time.Time

	m map[Key]entry[S]
}

// New creates a Manager. Defaults: ttl=10m, max=1000.
func New[S any](ttl time.Duration, max int) *Manager[S] {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 1000
	}
	return &Manager[S]{
		ttl:        ttl,
		max:        max,
		now:        time.Now,
		sweepEvery: time.Minute,
		m:          map[Key]entry[S]{},
	}
}

// WithClock replaces the time source; used by tests.
func (m *Manager[S]) WithClock(now func() time.Time) *Manager[S] {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *Manager[S]) Get(k Key) (S, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.maybeSweepLocked(now)
	e, ok := m.m[k]
	if !ok || now.After(e.exp) {
		delete(m.m, k)
		var zero S
		return zero, false
	}
	return e.state, true
}

func (m *Manager[S]) Put(k Key, s S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.maybeSweepLocked(now)
	if _, exists := m.m[k]; !exists && len(m.m) >= m.max {
		m.evictOldestLocked()
	}
	m.m[k] = entry[S]{state: s, exp: now.Add(m.ttl)}
}

// Update applies fn to a live session and stores the result. It reports
// false, without calling fn, when there is no live session.
func (m *Manager[S]) Update(k Key, fn func(S) S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.m[k]
	if !ok || now.After(e.exp) {
		delete(m.m, k)
		return false
	}
	m.m[k] = entry[S]{state: fn(e.state), exp: now.Add(m.ttl)}
	return true
}

// Delete removes a session and reports whether a live one existed.
func (m *Manager[S]) Delete(k Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.m[k]
	delete(m.m, k)
	return ok && !m.now().After(e.exp)
}

// Len counts live sessions.
func (m *Manager[S]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	return len(m.m)
}

func (m *Manager[S]) maybeSweepLocked(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	m.sweepLocked(now)
	m.nextSweep = now.Add(m.sweepEvery)
}

func (m *Manager[S]) sweepLocked(now time.Time) {
	for k, e := range m.m {
		if now.After(e.exp) {
			delete(m.m, k)
		}
	}
}

func (m *Manager[S]) evictOldestLocked() {
	var (
		oldest Key
		exp    time.Time
		found  bool
	)
	for k, e := range m.m {
		if !found || e.exp.Before(exp) {
			oldest, exp, found = k, e.exp, true
		}
	}
	if found {
		delete(m.m, oldest)
	}
}
