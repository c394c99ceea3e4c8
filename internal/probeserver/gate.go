package probeserver

import "sync"

// streamGate bounds the number of concurrent download and upload streams
// across all clients. A limit of zero or below admits everything.
type streamGate struct {
	mu     sync.Mutex
	limit  int
	active int
}

func newStreamGate(limit int) *streamGate {
	return &streamGate{limit: limit}
}

func (g *streamGate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limit > 0 && g.active >= g.limit {
		return false
	}
	g.active++
	return true
}

func (g *streamGate) Release() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	g.mu.Unlock()
}

// SetLimit takes effect for new streams; running streams are not evicted.
func (g *streamGate) SetLimit(limit int) {
	g.mu.Lock()
	g.limit = limit
	g.mu.Unlock()
}

func (g *streamGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
