package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// GoroutineStats aggregates runs of goroutines sharing one name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	Active     int64            `json:"active"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type statsTable struct {
	mu sync.Mutex
	m  map[string]*GoroutineStats
}

func (t *statsTable) get(name string) *GoroutineStats {
	if t.m == nil {
		t.m = map[string]*GoroutineStats{}
	}
	st := t.m[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		t.m[name] = st
	}
	return st
}

func (t *statsTable) start(name string, restart bool) time.Time {
	now := time.Now()
	t.mu.Lock()
	st := t.get(name)
	st.Started++
	st.Active++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = now
	t.mu.Unlock()
	return now
}

func (t *statsTable) stop(name string, _ time.Time, err error) {
	t.mu.Lock()
	st := t.get(name)
	if st.Active > 0 {
		st.Active--
	}
	if err != nil {
		st.LastErr = err.Error()
	}
	t.mu.Unlock()
}

func (t *statsTable) recordPanic(name string, p any) {
	t.mu.Lock()
	st := t.get(name)
	st.Panics++
	st.LastPanic = fmt.Sprint(p)
	t.mu.Unlock()
}

// Snapshot returns per-name stats, active first.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.stats.mu.Lock()
	for _, st := range s.stats.m {
		snap.Active += st.Active
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.stats.mu.Unlock()

	sort.Slice(snap.Goroutines, func(i, j int) bool {
		a, b := snap.Goroutines[i], snap.Goroutines[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		return a.Name < b.Name
	})
	return snap
}
