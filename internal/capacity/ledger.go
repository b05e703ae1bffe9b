// Package capacity owns the occupied/maximum counters for airports and
// flight instances. Every mutation path (planning commits, takeoff and
// landing handlers, deferred releases) funnels through a Ledger.
package capacity

import (
	"log"
	"sync"
)

// Counts is a point-in-time snapshot of one entry.
type Counts struct {
	Max      int `json:"max"`
	Occupied int `json:"occupied"`
}

type entry struct {
	max      int
	occupied int
	base     int // occupied at clone time, for delta extraction
}

// Ledger maps entity ids (airport codes, flight instance ids) to
// capacity counters. Safe for concurrent use. Clones are cheap and
// carry the base occupancy so a chosen iteration's deltas can be
// committed to the live ledger with Apply.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
	clamps  int
}

func New() *Ledger {
	return &Ledger{entries: map[string]*entry{}}
}

// Set registers or resets an entry.
func (l *Ledger) Set(id string, max, occupied int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if occupied < 0 {
		occupied = 0
	}
	if occupied > max {
		occupied = max
	}
	l.entries[id] = &entry{max: max, occupied: occupied, base: occupied}
}

// Reserve takes qty units if available. Returns false with no mutation
// when qty exceeds the free capacity or the id is unknown.
func (l *Ledger) Reserve(id string, qty int) bool {
	if qty <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok || qty > e.max-e.occupied {
		return false
	}
	e.occupied += qty
	return true
}

// Release gives back qty units, floored at zero. Releasing more than is
// occupied clamps and warns instead of failing.
func (l *Ledger) Release(id string, qty int) {
	if qty <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return
	}
	if qty > e.occupied {
		log.Printf("capacity: release of %d on %s exceeds occupied %d, clamping", qty, id, e.occupied)
		l.clamps++
		e.occupied = 0
		return
	}
	e.occupied -= qty
}

// Add applies a signed delta clamped to [0, max], warning on clamp.
// Used by takeoff/landing event handlers and by Apply; planning paths
// use the strict Reserve instead.
func (l *Ledger) Add(id string, delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(id, delta)
}

func (l *Ledger) addLocked(id string, delta int) {
	e, ok := l.entries[id]
	if !ok {
		return
	}
	next := e.occupied + delta
	if next < 0 {
		log.Printf("capacity: %s occupancy would go to %d, clamping to 0", id, next)
		l.clamps++
		next = 0
	}
	if next > e.max {
		log.Printf("capacity: %s occupancy would go to %d over max %d, clamping", id, next, e.max)
		l.clamps++
		next = e.max
	}
	e.occupied = next
}

// Has reports whether id is registered.
func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// Free returns max - occupied, or 0 for unknown ids.
func (l *Ledger) Free(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return 0
	}
	return e.max - e.occupied
}

// Occupied returns the current occupancy for id.
func (l *Ledger) Occupied(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return 0
	}
	return e.occupied
}

// Clamps returns how many clamp events the ledger has absorbed.
func (l *Ledger) Clamps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clamps
}

// Clone returns a deep copy for what-if exploration. The clone records
// the occupancy at clone time as its base, so its net reservations can
// later be committed with Apply.
func (l *Ledger) Clone() *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := New()
	for id, e := range l.entries {
		out.entries[id] = &entry{max: e.max, occupied: e.occupied, base: e.occupied}
	}
	return out
}

// Apply commits a clone's deltas (occupied minus base, per id) onto l,
// clamping each result to [0, max]. Unknown ids are registered first so
// instance counters created during a cycle survive the merge.
func (l *Ledger) Apply(clone *Ledger) {
	clone.mu.Lock()
	type delta struct {
		id       string
		max, d   int
	}
	deltas := []delta{}
	for id, e := range clone.entries {
		if d := e.occupied - e.base; d != 0 {
			deltas = append(deltas, delta{id: id, max: e.max, d: d})
		}
	}
	clone.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range deltas {
		if _, ok := l.entries[d.id]; !ok {
			l.entries[d.id] = &entry{max: d.max}
		}
		l.addLocked(d.id, d.d)
	}
}

// Snapshot copies every entry's counters.
func (l *Ledger) Snapshot() map[string]Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Counts, len(l.entries))
	for id, e := range l.entries {
		out[id] = Counts{Max: e.max, Occupied: e.occupied}
	}
	return out
}
