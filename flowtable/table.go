// Package flowtable implements the NAT translation table: a
// concurrency-safe bijection between internal and external flows.
package flowtable

import (
	"github.com/sirupsen/logrus"

	"go.universe.tf/nattable/lock"
)

var log = logrus.WithField("subsys", "flowtable")

// Table maps internal flows to external flows and back. Every
// internal flow maps to at most one external flow, and vice versa.
//
// All methods are safe for concurrent use and each one takes effect
// atomically. Nothing is held across calls, so compose check-then-act
// sequences out of Insert's collision detection rather than Contains*
// followed by Insert.
//
// If a writer panics while holding the table lock, the table is
// poisoned and every subsequent call panics.
type Table struct {
	mu lock.RWMutex

	byInternal map[Flow]Flow
	byExternal map[Flow]Flow
	// poisoned is set, under the write lock, when a writer panicked
	// part way through a mutation.
	poisoned bool

	metrics *Metrics
}

// Option configures a Table.
type Option func(*Table)

// WithMetrics instruments the table with m.
func WithMetrics(m *Metrics) Option {
	return func(t *Table) {
		t.metrics = m
	}
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		byInternal: map[Flow]Flow{},
		byExternal: map[Flow]Flow{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.metrics.setEntries(0)
	return t
}

// Insert adds the pair internal <=> external. If either flow is
// already part of a mapping, including this exact one, Insert returns
// a *CollisionError and leaves the table untouched.
func (t *Table) Insert(internal, external Flow) error {
	t.mu.Lock()
	defer t.unlockWrite()
	t.mustBeSound()

	_, internalTaken := t.byInternal[internal]
	_, externalTaken := t.byExternal[external]
	if internalTaken || externalTaken {
		t.metrics.collision()
		return &CollisionError{
			Internal:      internal,
			External:      external,
			InternalTaken: internalTaken,
			ExternalTaken: externalTaken,
		}
	}

	t.link(internal, external)
	return nil
}

// InsertOverwrite forces the pair internal <=> external into the
// table. Any existing mapping of internal, and any existing mapping
// of external, is removed first and returned. Note that when external
// belonged to another internal flow, that flow loses its translation.
//
// Re-inserting a pair that is already present evicts nothing.
func (t *Table) InsertOverwrite(internal, external Flow) []Mapping {
	t.mu.Lock()
	defer t.unlockWrite()
	t.mustBeSound()

	if cur, ok := t.byInternal[internal]; ok && cur == external {
		return nil
	}

	var evicted []Mapping
	if cur, ok := t.byInternal[internal]; ok {
		t.unlink(internal, cur)
		evicted = append(evicted, Mapping{Internal: internal, External: cur})
	}
	if cur, ok := t.byExternal[external]; ok {
		t.unlink(cur, external)
		evicted = append(evicted, Mapping{Internal: cur, External: external})
	}
	t.link(internal, external)

	if len(evicted) > 0 {
		t.metrics.evicted(len(evicted))
		log.WithFields(logrus.Fields{
			"internal": internal,
			"external": external,
			"evicted":  evicted,
		}).Debug("Overwrote flow mapping")
	}
	return evicted
}

// GetInternal returns the internal flow mapped to external.
func (t *Table) GetInternal(external Flow) (Flow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.mustBeSound()

	internal, ok := t.byExternal[external]
	return internal, ok
}

// GetExternal returns the external flow mapped to internal.
func (t *Table) GetExternal(internal Flow) (Flow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.mustBeSound()

	external, ok := t.byInternal[internal]
	return external, ok
}

func (t *Table) ContainsInternal(internal Flow) bool {
	_, ok := t.GetExternal(internal)
	return ok
}

func (t *Table) ContainsExternal(external Flow) bool {
	_, ok := t.GetInternal(external)
	return ok
}

// Len returns the number of pairs in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.mustBeSound()

	return len(t.byInternal)
}

func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// RemoveByInternal removes the pair containing internal, and returns
// it.
func (t *Table) RemoveByInternal(internal Flow) (Mapping, bool) {
	t.mu.Lock()
	defer t.unlockWrite()
	t.mustBeSound()

	external, ok := t.byInternal[internal]
	if !ok {
		return Mapping{}, false
	}
	t.unlink(internal, external)
	t.metrics.removed()
	return Mapping{Internal: internal, External: external}, true
}

// RemoveByExternal removes the pair containing external, and returns
// it.
func (t *Table) RemoveByExternal(external Flow) (Mapping, bool) {
	t.mu.Lock()
	defer t.unlockWrite()
	t.mustBeSound()

	internal, ok := t.byExternal[external]
	if !ok {
		return Mapping{}, false
	}
	t.unlink(internal, external)
	t.metrics.removed()
	return Mapping{Internal: internal, External: external}, true
}

// Clear removes every pair.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.unlockWrite()
	t.mustBeSound()

	t.byInternal = map[Flow]Flow{}
	t.byExternal = map[Flow]Flow{}
	t.metrics.setEntries(0)
	t.metrics.cleared()
}

// Mappings returns a snapshot of every pair, in no particular order.
func (t *Table) Mappings() []Mapping {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.mustBeSound()

	ret := make([]Mapping, 0, len(t.byInternal))
	for internal, external := range t.byInternal {
		ret = append(ret, Mapping{Internal: internal, External: external})
	}
	return ret
}

// link and unlink must be called with the write lock held.
func (t *Table) link(internal, external Flow) {
	t.byInternal[internal] = external
	t.byExternal[external] = internal
	t.metrics.setEntries(len(t.byInternal))
}

func (t *Table) unlink(internal, external Flow) {
	delete(t.byInternal, internal)
	delete(t.byExternal, external)
	t.metrics.setEntries(len(t.byInternal))
}

// unlockWrite releases the write lock. If the writer is panicking,
// the table is poisoned first, since the two maps may disagree.
func (t *Table) unlockWrite() {
	if r := recover(); r != nil {
		t.poisoned = true
		t.mu.Unlock()
		panic(r)
	}
	t.mu.Unlock()
}

// mustBeSound must be called with the lock held, in either mode.
func (t *Table) mustBeSound() {
	if t.poisoned {
		log.WithFields(logrus.Fields{
			"internalEntries": len(t.byInternal),
			"externalEntries": len(t.byExternal),
		}).Panic("Flow table was abandoned mid-update by a panicking writer")
	}
}
