package membership

import "sync"

// AdminLocks allows one provisioning run per admin at a time.
type AdminLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewAdminLocks() *AdminLocks {
	return &AdminLocks{held: make(map[string]struct{})}
}

// TryAcquire returns ok=false when adminID already holds the lock.
func (l *AdminLocks) TryAcquire(adminID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[adminID]; busy {
		return nil, false
	}
	l.held[adminID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, adminID)
			l.mu.Unlock()
		})
	}, true
}

type gate struct {
	rw   sync.RWMutex
	refs int
}

// SpaceGates holds a read/write gate per space. Provisioning takes the write
// side; membership reads take the read side and wait out a provisioning run.
type SpaceGates struct {
	mu    sync.Mutex
	gates map[string]*gate
}

func NewSpaceGates() *SpaceGates {
	return &SpaceGates{gates: make(map[string]*gate)}
}

func (g *SpaceGates) acquire(spaceID string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt := g.gates[spaceID]
	if gt == nil {
		gt = &gate{}
		g.gates[spaceID] = gt
	}
	gt.refs++
	return gt
}

func (g *SpaceGates) release(spaceID string, gt *gate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt.refs--
	if gt.refs == 0 {
		delete(g.gates, spaceID)
	}
}

func (g *SpaceGates) Lock(spaceID string) (unlock func()) {
	gt := g.acquire(spaceID)
	gt.rw.Lock()
	return func() {
		gt.rw.Unlock()
		g.release(spaceID, gt)
	}
}

func (g *SpaceGates) RLock(spaceID string) (unlock func()) {
	gt := g.acquire(spaceID)
	gt.rw.RLock()
	return func() {
		gt.rw.RUnlock()
		g.release(spaceID, gt)
	}
}

func (g *SpaceGates) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.gates)
}
