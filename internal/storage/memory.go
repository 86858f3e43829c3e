package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"broadcastbot/internal/schedule"
)

// Memory keeps everything in maps. The file driver uses it as its live view.
type Memory struct {
	mu     sync.RWMutex
	jobs   map[string]schedule.Job
	groups map[int64]Group
	users  map[int64]time.Time
	audit  []AuditEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		jobs:   map[string]schedule.Job{},
		groups: map[int64]Group{},
		users:  map[int64]time.Time{},
	}
}

func (m *Memory) PutJob(_ context.Context, j schedule.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) ListJobs(_ context.Context) ([]schedule.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := slices.Collect(maps.Values(m.jobs))
	sortJobs(out)
	return out, nil
}

func (m *Memory) ClearJobs(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	clear(m.jobs)
	return nil
}

func (m *Memory) AddGroup(_ context.Context, chatID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.addGroupLocked(chatID, title, time.Now())
	return nil
}

// addGroupLocked reports whether anything changed.
func (m *Memory) addGroupLocked(chatID int64, title string, now time.Time) bool {
	title = strings.TrimSpace(title)
	g, ok := m.groups[chatID]
	if ok && (title == "" || title == g.Title) {
		return false
	}
	if !ok {
		g = Group{ChatID: chatID, AddedAt: now.UTC()}
	}
	if title != "" {
		g.Title = title
	}
	m.groups[chatID] = g
	return true
}

func (m *Memory) RemoveGroup(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.groups, chatID)
	return nil
}

func (m *Memory) ListGroups(_ context.Context) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := slices.Collect(maps.Values(m.groups))
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (m *Memory) GroupIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Sorted(maps.Keys(m.groups)), nil
}

func (m *Memory) AddUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = time.Now().UTC()
	}
	return nil
}

func (m *Memory) CountUsers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.users), nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	const keep = 1000
	if len(m.audit) >= keep {
		m.audit = slices.Delete(m.audit, 0, len(m.audit)-keep+1)
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the retained audit entries, oldest first.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audit)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortJobs(js []schedule.Job) {
	sort.Slice(js, func(i, j int) bool {
		if !js[i].FireAt.Equal(js[j].FireAt) {
			return js[i].FireAt.Before(js[j].FireAt)
		}
		return js[i].ID < js[j].ID
	})
}
