package scheduler

import (
	"sync"
	"time"
)

// Gate holds scheduled tasks back while the vendor is in maintenance.
type Gate struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{now: now}
}

// Pause closes the gate for d. A shorter pause never cuts an existing one.
func (g *Gate) Pause(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.now().Add(d)
	if until.After(g.until) {
		g.until = until
	}
}

func (g *Gate) Paused(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.until)
}

func (g *Gate) Until() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until
}
