// Package hmap implements the open-addressing, string-keyed hash map
// of spec.md §4.D: power-of-two sized, linear probing, tombstone
// deletion, grow-and-compact rehash policy. It is used server-side by
// pkg/wire to register connected clients by address without the overhead
// (and GC pressure under high churn) of Go's built-in map, and to
// demonstrate the exact probe/tombstone/rehash contract spec.md
// requires for property testing (spec.md §8 invariant 4).
package hmap

// entry states.
const (
	slotEmpty = iota
	slotUsed
	slotTombstone
)

type slot struct {
	key   string
	value any
	state int
}

// HMap is a single open-addressed table. It is not safe for
// concurrent use without external synchronization, matching
// spec.md §5's "owned by the server thread — no locking required".
type HMap struct {
	slots    []slot
	nEntries int
	nRemoved int
}

// loadFactorThreshold triggers a doubling rehash once
// (entries+tombstones)/capacity reaches it.
const loadFactorThreshold = 0.75

// compactThreshold triggers an in-place compaction (same size) once
// tombstones alone exceed this fraction of capacity.
const compactThreshold = 0.25

// New returns an HMap with at least the given initial capacity,
// rounded up to a power of two.
func New(initialCapacity int) *HMap {
	capacity := nextPow2(initialCapacity)
	if capacity < 8 {
		capacity = 8
	}
	return &HMap{slots: make([]slot, capacity)}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fnvLike matches slicebuf.Slice's hash exactly, per spec.md §4.D
// ("Hash function: identical to Slice hash").
func fnvLike(s string) uint32 {
	if len(s) == 0 {
		return 0
	}
	h := uint32(s[0])
	for i := 1; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// Len returns the number of live entries.
func (m *HMap) Len() int { return m.nEntries }

// Cap returns the table's current slot capacity.
func (m *HMap) Cap() int { return len(m.slots) }

func (m *HMap) probe(key string) (idx int, found bool) {
	mask := uint32(len(m.slots) - 1)
	i := fnvLike(key) & mask
	firstTombstone := -1
	for probed := 0; probed < len(m.slots); probed++ {
		s := &m.slots[i]
		switch s.state {
		case slotEmpty:
			if firstTombstone >= 0 {
				return firstTombstone, false
			}
			return int(i), false
		case slotTombstone:
			if firstTombstone < 0 {
				firstTombstone = int(i)
			}
		case slotUsed:
			if s.key == key {
				return int(i), true
			}
		}
		i = (i + 1) & mask
	}
	if firstTombstone >= 0 {
		return firstTombstone, false
	}
	return -1, false // table full of live entries with no matching key; callers must rehash first
}

// Get returns the value stored for key, if present.
func (m *HMap) Get(key string) (any, bool) {
	idx, found := m.probe(key)
	if !found {
		return nil, false
	}
	return m.slots[idx].value, true
}

// Add inserts or overwrites the entry for key. Per spec.md §4.D,
// insertion may trigger compaction (if tombstones are heavy) or a
// doubling rehash (if load factor crosses 0.75) before placing the
// new entry.
func (m *HMap) Add(key string, value any) {
	if float64(m.nRemoved)/float64(len(m.slots)) >= compactThreshold {
		m.compact()
	}
	if float64(m.nEntries+m.nRemoved+1)/float64(len(m.slots)) >= loadFactorThreshold {
		m.rehash(len(m.slots) * 2)
	}

	idx, found := m.probe(key)
	if idx < 0 {
		// Pathological: every slot live and none match. Grow and retry.
		m.rehash(len(m.slots) * 2)
		idx, found = m.probe(key)
	}
	if found {
		m.slots[idx].value = value
		return
	}
	wasTombstone := m.slots[idx].state == slotTombstone
	m.slots[idx] = slot{key: key, value: value, state: slotUsed}
	m.nEntries++
	if wasTombstone {
		m.nRemoved--
	}
}

// Remove deletes the entry for key, if present, marking its slot a
// tombstone rather than rehashing eagerly.
func (m *HMap) Remove(key string) bool {
	idx, found := m.probe(key)
	if !found {
		return false
	}
	m.slots[idx] = slot{state: slotTombstone}
	m.nEntries--
	m.nRemoved++
	return true
}

// compact rewrites the table in place at the same size, dropping all
// tombstones and re-probing every live entry. Called when tombstones
// exceed compactThreshold of capacity.
func (m *HMap) compact() {
	old := m.slots
	m.slots = make([]slot, len(old))
	m.nEntries, m.nRemoved = 0, 0
	for _, s := range old {
		if s.state == slotUsed {
			m.insertFresh(s.key, s.value)
		}
	}
}

// rehash grows (or, in principle, shrinks) the table to newCap,
// re-inserting every live entry.
func (m *HMap) rehash(newCap int) {
	newCap = nextPow2(newCap)
	old := m.slots
	m.slots = make([]slot, newCap)
	m.nEntries, m.nRemoved = 0, 0
	for _, s := range old {
		if s.state == slotUsed {
			m.insertFresh(s.key, s.value)
		}
	}
}

// insertFresh places a known-absent key into the (already sized)
// table without any of Add's growth/compaction bookkeeping; used only
// while rebuilding during compact/rehash.
func (m *HMap) insertFresh(key string, value any) {
	mask := uint32(len(m.slots) - 1)
	i := fnvLike(key) & mask
	for {
		if m.slots[i].state == slotEmpty {
			m.slots[i] = slot{key: key, value: value, state: slotUsed}
			m.nEntries++
			return
		}
		i = (i + 1) & mask
	}
}

// Each calls f once per live entry, in arbitrary but (between
// mutations) stable order.
func (m *HMap) Each(f func(key string, value any) bool) {
	for _, s := range m.slots {
		if s.state == slotUsed {
			if !f(s.key, s.value) {
				return
			}
		}
	}
}

// Keys returns the set of live keys.
func (m *HMap) Keys() []string {
	out := make([]string, 0, m.nEntries)
	m.Each(func(k string, _ any) bool {
		out = append(out, k)
		return true
	})
	return out
}
