package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinydl/engine/internal/dispatch"
)

// poolKey identifies one (queue kind, device) pool.
type poolKey struct {
	kind   dispatch.PoolKind
	device int
}

// Manager owns every pool in the engine and implements dispatch.Enqueuer by
// routing a ready operator to the pool for its (kind, device) pair.
type Manager struct {
	mu    sync.RWMutex
	pools map[poolKey]*Pool
}

// NewManager returns an empty manager; pools are added with Register before
// Start is called.
func NewManager() *Manager {
	return &Manager{pools: make(map[poolKey]*Pool)}
}

// Register adds a pool for the given (kind, device) pair. Must be called
// before Start.
func (m *Manager) Register(kind dispatch.PoolKind, device int, p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[poolKey{kind, device}] = p
}

// Enqueue implements dispatch.Enqueuer.
func (m *Manager) Enqueue(kind dispatch.PoolKind, device int, op *dispatch.Opr) {
	m.mu.RLock()
	p, ok := m.pools[poolKey{kind, device}]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("pool: no pool registered for kind=%s device=%d", kind, device))
	}
	p.Submit(op)
}

// distinct returns each registered *Pool once, regardless of how many
// (kind, device) keys it is registered under. KindPooled registers the
// same shared pool under every key, so iterating m.pools directly would
// Start/Stop it once per key instead of once overall.
func (m *Manager) distinct() []*Pool {
	seen := make(map[*Pool]bool, len(m.pools))
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		if !seen[p] {
			seen[p] = true
			pools = append(pools, p)
		}
	}
	return pools
}

// Start starts every registered pool, once each.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.distinct() {
		p.Start(ctx)
	}
}

// Stop stops every registered pool once each and waits for all worker
// goroutines to exit, returning the first error encountered (if any).
func (m *Manager) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, p := range m.distinct() {
		if err := p.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TotalDepth sums the ready-queue depth across every distinct pool, for
// diagnostics (Engine.PendingOps).
func (m *Manager) TotalDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, p := range m.distinct() {
		total += p.Depth()
	}
	return total
}
