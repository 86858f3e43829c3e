package broadcast

import "sync"

// history is a bounded ring of recent reports.
type history struct {
	mu   sync.Mutex
	buf  []Report
	next int
	full bool
}

func (h *history) resize(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == len(h.buf) {
		return
	}
	old := h.recentLocked(len(h.buf))
	h.buf = make([]Report, n)
	h.next, h.full = 0, false
	for i := min(len(old), n) - 1; i >= 0; i-- {
		h.addLocked(old[i])
	}
}

func (h *history) add(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(r)
}

func (h *history) addLocked(r Report) {
	if len(h.buf) == 0 {
		return
	}
	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) recent(n int) []Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recentLocked(n)
}

func (h *history) recentLocked(n int) []Report {
	size := h.next
	if h.full {
		size = len(h.buf)
	}
	n = min(n, size)
	out := make([]Report, 0, max(n, 0))
	for i := 1; i <= n; i++ {
		out = append(out, h.buf[(h.next-i+len(h.buf))%len(h.buf)])
	}
	return out
}
