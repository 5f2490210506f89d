package scheduler

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Gates serializes work per save. A gate held for a backup keeps restores
// waiting and further backups rejected; a gate held for a restore does the
// reverse. Different slots never contend.
type Gates struct {
	m *xsync.Map[string, *sync.Mutex]
}

func NewGates() *Gates {
	return &Gates{m: xsync.NewMap[string, *sync.Mutex]()}
}

func (g *Gates) gate(slotID string) *sync.Mutex {
	mu, _ := g.m.LoadOrStore(slotID, &sync.Mutex{})
	return mu
}

// TryAcquire takes the slot's gate without blocking. Backup admission uses
// this: a slot that is already running is busy, never queued.
func (g *Gates) TryAcquire(slotID string) bool {
	return g.gate(slotID).TryLock()
}

// Acquire blocks until the slot's gate is free. Restores use this so a
// restore issued during a backup runs after it instead of racing it.
func (g *Gates) Acquire(slotID string) {
	g.gate(slotID).Lock()
}

func (g *Gates) Release(slotID string) {
	g.gate(slotID).Unlock()
}
