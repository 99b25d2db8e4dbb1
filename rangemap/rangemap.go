// Package rangemap implements a coalescing interval map keyed by
// half-open [base, base+size) ranges of an unsigned offset space.
// Adjacent ranges that carry equal values are merged automatically, and
// unmapping a sub-range splits whatever range currently covers it.
package rangemap

import "sort"

// entry is stored keyed by its limit (one past the last byte), matching
// the original's choice to index by upper bound so that Find can binary
// search for the first range whose limit exceeds the query address.
type entry[V comparable] struct {
	base  uint64
	limit uint64
	value V
}

func (e *entry[V]) size() uint64 { return e.limit - e.base }

// Mapper is a generic interval container kept as a sorted slice:
// O(log n) lookup and O(n) insert and removal over non-overlapping
// ranges, with automatic coalescing of touching ranges that carry the
// same value.
type Mapper[V comparable] struct {
	entries []*entry[V]
}

// New returns an empty range mapper.
func New[V comparable]() *Mapper[V] {
	return &Mapper[V]{}
}

// indexOf returns the index of the first entry whose limit is > a, i.e.
// the entry that would contain a if any does.
func (m *Mapper[V]) indexOf(a uint64) int {
	return sort.Search(len(m.entries), func(i int) bool { return m.entries[i].limit > a })
}

// Find returns the value mapped at address a, if any.
func (m *Mapper[V]) Find(a uint64) (V, bool) {
	i := m.indexOf(a)
	if i < len(m.entries) && a >= m.entries[i].base {
		return m.entries[i].value, true
	}
	var zero V
	return zero, false
}

// FindRange returns the base, size, and value of the range containing a,
// if any.
func (m *Mapper[V]) FindRange(a uint64) (base, size uint64, value V, ok bool) {
	i := m.indexOf(a)
	if i < len(m.entries) && a >= m.entries[i].base {
		e := m.entries[i]
		return e.base, e.size(), e.value, true
	}
	return 0, 0, value, false
}

// lowerBound returns the index of the first entry whose limit is >= a,
// i.e. the first entry that could possibly touch or overlap a range
// starting at a.
func (m *Mapper[V]) lowerBound(a uint64) int {
	return sort.Search(len(m.entries), func(i int) bool { return m.entries[i].limit >= a })
}

// MapRange associates [base, base+size) with value. Overlapping any
// existing range fails, even one carrying an equal value; only a range
// that exactly touches an existing one (shares no byte with it) may
// coalesce, and only if the two carry the same value.
func (m *Mapper[V]) MapRange(base, size uint64, value V) bool {
	if size == 0 {
		return true
	}
	limit := base + size

	i := m.lowerBound(base)
	if i < len(m.entries) && m.entries[i].base <= limit {
		e := m.entries[i]
		switch {
		case e.base == limit:
			// e starts exactly where the new range ends: touching, not
			// overlapping. Coalesce by extending e's base backwards.
			if e.value == value {
				e.base = base
				return true
			}
		case e.limit == base:
			// e ends exactly where the new range starts. Coalescing here
			// is only safe if the entry after e doesn't reach into the
			// new range too.
			if i+1 < len(m.entries) && m.entries[i+1].base < limit {
				return false
			}
			if e.value == value {
				base = e.base
				m.entries = append(m.entries[:i], m.entries[i+1:]...)
			}
		default:
			return false // shares at least one byte with e: a real overlap
		}
	}

	ne := &entry[V]{base: base, limit: limit, value: value}
	j := m.lowerBound(limit)
	m.entries = append(m.entries, nil)
	copy(m.entries[j+1:], m.entries[j:])
	m.entries[j] = ne
	return true
}

// UnmapRange removes [base, base+size) from the map, splitting any range
// that straddles a boundary.
func (m *Mapper[V]) UnmapRange(base, size uint64) {
	if size == 0 {
		return
	}
	limit := base + size
	i := m.indexOf(base)
	for i < len(m.entries) && m.entries[i].base < limit {
		e := m.entries[i]
		switch {
		case e.base >= base && e.limit <= limit:
			// fully covered: remove
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			continue
		case e.base < base && e.limit > limit:
			// split into two
			right := &entry[V]{base: limit, limit: e.limit, value: e.value}
			e.limit = base
			m.entries = append(m.entries, nil)
			copy(m.entries[i+2:], m.entries[i+1:])
			m.entries[i+1] = right
			i += 2
		case e.base < base:
			e.limit = base
			i++
		default: // e.limit > limit
			e.base = limit
			i++
		}
	}
}

// VisitRanges calls fn for every range in ascending base order, stopping
// early if fn returns false.
func (m *Mapper[V]) VisitRanges(fn func(base, size uint64, value V) bool) {
	for _, e := range m.entries {
		if !fn(e.base, e.size(), e.value) {
			return
		}
	}
}

// VisitRangesBackwards calls fn for every range in descending base order,
// stopping early if fn returns false.
func (m *Mapper[V]) VisitRangesBackwards(fn func(base, size uint64, value V) bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if !fn(e.base, e.size(), e.value) {
			return
		}
	}
}

// Len returns the number of disjoint ranges currently stored.
func (m *Mapper[V]) Len() int { return len(m.entries) }
