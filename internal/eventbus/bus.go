// Package eventbus is a small in-memory fanout used to decouple the scheduler
// from the components that react to job lifecycle changes.
//
// Publish never blocks: subscribers own buffered channels and a slow
// subscriber loses events instead of stalling the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Memory is the in-process Bus implementation.
type Memory struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
	onDrop  atomic.Pointer[func(Event)]
}

func New() *Memory {
	return &Memory{subs: map[uint64]chan Event{}}
}

func (b *Memory) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			if fn := b.onDrop.Load(); fn != nil {
				(*fn)(e)
			}
		}
	}
}

// Subscribe registers a buffered channel; unsubscribe closes it.
func (b *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// SetDropHandler registers fn to be called, on the publishing goroutine,
// for every delivery skipped because a subscriber was full. nil removes it.
func (b *Memory) SetDropHandler(fn func(Event)) {
	if fn == nil {
		b.onDrop.Store(nil)
		return
	}
	b.onDrop.Store(&fn)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Memory) Dropped() uint64 { return b.dropped.Load() }
