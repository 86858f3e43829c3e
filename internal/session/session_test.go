package session

import (
	"testing"
	"time"
)

type wizard struct {
	Step int
	Text string
}

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func TestManagerExpiresAfterTTL(t *testing.T) {
	clk := &fakeNow{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := New[wizard](time.Minute, 10).WithClock(clk.now)
	k := Key{ChatID: 1, UserID: 1}

	m.Put(k, wizard{Step: 1})
	clk.t = clk.t.Add(50 * time.Second)
	if got, ok := m.Get(k); !ok || got.Step != 1 {
		t.Fatalf("Get = %+v, %v; want step 1", got, ok)
	}

	// Update refreshes the TTL.
	if !m.Update(k, func(w wizard) wizard { w.Step++; return w }) {
		t.Fatal("Update on live session returned false")
	}
	clk.t = clk.t.Add(50 * time.Second)
	if got, ok := m.Get(k); !ok || got.Step != 2 {
		t.Fatalf("Get after update = %+v, %v; want step 2", got, ok)
	}

	clk.t = clk.t.Add(2 * time.Minute)
	if _, ok := m.Get(k); ok {
		t.Fatal("expected session to expire")
	}
	if m.Update(k, func(w wizard) wizard { t.Fatal("fn called on expired session"); return w }) {
		t.Fatal("Update on expired session returned true")
	}
}

func TestManagerDeleteAndLen(t *testing.T) {
	m := New[wizard](time.Minute, 10)
	a, b := Key{ChatID: 1, UserID: 1}, Key{ChatID: 1, UserID: 2}
	m.Put(a, wizard{})
	m.Put(b, wizard{})
	if n := m.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
	if !m.Delete(a) {
		t.Fatal("Delete of live session returned false")
	}
	if m.Delete(a) {
		t.Fatal("second Delete returned true")
	}
	if n := m.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestManagerEvictsOldestWhenFull(t *testing.T) {
	clk := &fakeNow{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := New[wizard](time.Hour, 2).WithClock(clk.now)

	m.Put(Key{UserID: 1}, wizard{Text: "first"})
	clk.t = clk.t.Add(time.Second)
	m.Put(Key{UserID: 2}, wizard{Text: "second"})
	clk.t = clk.t.Add(time.Second)
	m.Put(Key{UserID: 3}, wizard{Text: "third"})

	if _, ok := m.Get(Key{UserID: 1}); ok {
		t.Fatal("oldest session should have been evicted")
	}
	for _, id := range []int64{2, 3} {
		if _, ok := m.Get(Key{UserID: id}); !ok {
			t.Fatalf("session %d missing", id)
		}
	}
}
