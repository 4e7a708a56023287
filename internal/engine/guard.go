package engine

import (
	"fmt"
	"sync"

	"github.com/jmartens/lifesync/internal/syncerr"
)

// Guard prevents two passes for the same entity from overlapping inside
// one process. Overlapping passes would race on cursor updates and could
// double-apply creates.
type Guard struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]bool)}
}

// Acquire marks an entity's pass as running. Returns ErrPassInProgress if
// one is already running; callers surface that without starting work.
func (g *Guard) Acquire(entity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[entity] {
		return fmt.Errorf("pass for %s: %w", entity, syncerr.ErrPassInProgress)
	}
	g.active[entity] = true
	return nil
}

// Release marks an entity's pass as finished. Safe to call for an entity
// that was never acquired.
func (g *Guard) Release(entity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, entity)
}
