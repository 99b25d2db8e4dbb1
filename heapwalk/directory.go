package heapwalk

import (
	"fmt"
	"sort"

	"github.com/memshard/memshard/snapshot"
)

// bit layout of an Allocation's packed size field. Allocation sizes are
// always far smaller than 2^52 bytes, leaving the high bits free for
// status flags and the producing finder's index.
const (
	usedBit            = uint64(1) << 63
	threadCachedBit     = uint64(1) << 62
	wrapperBit          = uint64(1) << 61
	wrappedBit          = uint64(1) << 60
	numFinderIndexBits  = 8
	maxFinders          = 1 << numFinderIndexBits
	finderIndexShift    = 52
	finderIndexMask     = uint64(maxFinders-1) << finderIndexShift
	sizeMask            = uint64(1)<<finderIndexShift - 1
)

// Allocation is one resolved allocation record: its address, usable
// size, live/free/thread-cached status, which finder produced it, and
// whether it participates in a wrapper/wrapped nesting relationship.
type Allocation struct {
	Address snapshot.Address
	packed  uint64
}

func newAllocation(address snapshot.Address, size uint64, isUsed bool, finderIndex int, isWrapped bool) Allocation {
	v := size & sizeMask
	if isUsed {
		v |= usedBit
	}
	if isWrapped {
		v |= wrappedBit
	}
	v |= uint64(finderIndex) << finderIndexShift
	return Allocation{Address: address, packed: v}
}

func (a Allocation) Size() uint64          { return a.packed & sizeMask }
func (a Allocation) IsUsed() bool          { return a.packed&usedBit != 0 }
func (a Allocation) IsFree() bool          { return !a.IsUsed() }
func (a Allocation) IsThreadCached() bool  { return a.packed&threadCachedBit != 0 }
func (a Allocation) IsWrapper() bool       { return a.packed&wrapperBit != 0 }
func (a Allocation) IsWrapped() bool       { return a.packed&wrappedBit != 0 }
func (a Allocation) FinderIndex() int      { return int((a.packed & finderIndexMask) >> finderIndexShift) }
func (a Allocation) Limit() snapshot.Address { return a.Address.Add(int64(a.Size())) }

func (a *Allocation) markAsWrapper()      { a.packed |= wrapperBit }
func (a *Allocation) markAsFree()         { a.packed &^= usedBit }
func (a *Allocation) markAsThreadCached() { a.packed |= threadCachedBit }

// Directory merges the allocations reported by every registered Finder
// into one address-ordered table, resolving wrapper/wrapped nesting
// (one allocation's memory entirely contains another's, as with a C++
// container whose control block and element buffer come from the same
// underlying allocation).
type Directory struct {
	finders      []Finder
	resolved     bool
	allocations  []Allocation
	callbacks    []func()
}

// NewDirectory returns an empty, unresolved directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// AddFinder registers f, assigning it the next available finder index.
// It is an error to add a finder after ResolveAllocationBoundaries has
// run, or past the maximum number of finders the packed format allows.
func (d *Directory) AddFinder(f Finder) error {
	if d.resolved {
		return fmt.Errorf("heapwalk: cannot add finder after boundaries are resolved")
	}
	if len(d.finders) >= maxFinders {
		return fmt.Errorf("heapwalk: maximum of %d finders exceeded", maxFinders)
	}
	d.finders = append(d.finders, f)
	return nil
}

// AddResolutionDoneCallback registers a callback to run once, in
// registration order, immediately after ResolveAllocationBoundaries
// finishes.
func (d *Directory) AddResolutionDoneCallback(cb func()) {
	d.callbacks = append(d.callbacks, cb)
}

// MinRequestSize returns the smallest request size any registered
// finder can report.
func (d *Directory) MinRequestSize() uint64 {
	min := uint64(0)
	for i, f := range d.finders {
		if i == 0 || f.MinRequestSize() < min {
			min = f.MinRequestSize()
		}
	}
	return min
}

// limitStack tracks currently-open containing allocations during the
// merge, keyed by nesting depth, so a new allocation whose address
// falls below the top entry's limit is recognized as wrapped.
type mergeState struct {
	limitStack []snapshot.Address
	openIndex  []int
}

func (d *Directory) consume(ms *mergeState, alloc Allocation) {
	for len(ms.limitStack) > 0 && alloc.Address >= ms.limitStack[len(ms.limitStack)-1] {
		ms.limitStack = ms.limitStack[:len(ms.limitStack)-1]
		ms.openIndex = ms.openIndex[:len(ms.openIndex)-1]
	}
	if len(ms.openIndex) > 0 {
		alloc.packed |= wrappedBit
		outer := ms.openIndex[len(ms.openIndex)-1]
		d.allocations[outer].markAsWrapper()
	}
	idx := len(d.allocations)
	d.allocations = append(d.allocations, alloc)
	if alloc.Size() > 0 {
		ms.limitStack = append(ms.limitStack, alloc.Limit())
		ms.openIndex = append(ms.openIndex, idx)
	}
}

// takesPrecedence reports whether a should be merged before b: ordered
// by (next_address, -next_size), so that when two finders report the
// same address, the larger allocation is consumed first and ends up
// marked as the wrapper around the smaller, wrapped one.
func takesPrecedence(a, b Finder) bool {
	aAddr, bAddr := a.NextAddress(), b.NextAddress()
	if aAddr != bAddr {
		return aAddr < bAddr
	}
	return a.NextSize() >= b.NextSize()
}

func (d *Directory) take(ms *mergeState, f Finder, finderIndex int) {
	d.consume(ms, newAllocation(f.NextAddress(), f.NextSize(), f.NextIsUsed(), finderIndex, false))
	f.Advance()
}

// ResolveAllocationBoundaries merges every registered finder's output
// into the address-ordered allocation table. A second call returns an
// error and leaves the table unchanged.
func (d *Directory) ResolveAllocationBoundaries() error {
	if d.resolved {
		return fmt.Errorf("heapwalk: allocation boundaries already resolved")
	}
	ms := &mergeState{}
	switch len(d.finders) {
	case 0:
		// nothing to merge
	case 1:
		f := d.finders[0]
		for !f.Finished() {
			d.take(ms, f, 0)
		}
	case 2:
		f0, f1 := d.finders[0], d.finders[1]
		for !f0.Finished() || !f1.Finished() {
			switch {
			case f0.Finished():
				d.take(ms, f1, 1)
			case f1.Finished():
				d.take(ms, f0, 0)
			case takesPrecedence(f0, f1):
				d.take(ms, f0, 0)
			default:
				d.take(ms, f1, 1)
			}
		}
	default:
		d.resolveNWay(ms)
	}
	d.resolved = true
	for _, cb := range d.callbacks {
		cb()
	}
	return nil
}

// resolveNWay merges three or more finders with a min-heap keyed by
// each finder's next address, sifting the root down after every pop.
func (d *Directory) resolveNWay(ms *mergeState) {
	type slot struct {
		finder Finder
		index  int
	}
	var heap []slot
	for i, f := range d.finders {
		if !f.Finished() {
			heap = append(heap, slot{f, i})
		}
	}
	// ordered by (next_address, -next_size): at equal addresses the
	// larger allocation sorts first, so it is consumed (and becomes the
	// wrapper) before the smaller, wrapped one.
	less := func(i, j int) bool { return takesPrecedence(heap[i].finder, heap[j].finder) }
	siftDown := func(i int) {
		for {
			left, right, smallest := 2*i+1, 2*i+2, i
			if left < len(heap) && less(left, smallest) {
				smallest = left
			}
			if right < len(heap) && less(right, smallest) {
				smallest = right
			}
			if smallest == i {
				return
			}
			heap[i], heap[smallest] = heap[smallest], heap[i]
			i = smallest
		}
	}
	// build heap bottom-up
	for i := len(heap)/2 - 1; i >= 0; i-- {
		siftDown(i)
	}
	for len(heap) > 0 {
		top := heap[0]
		d.take(ms, top.finder, top.index)
		if top.finder.Finished() {
			heap[0] = heap[len(heap)-1]
			heap = heap[:len(heap)-1]
		}
		siftDown(0)
	}
}

// NumAllocations returns the number of resolved allocations.
func (d *Directory) NumAllocations() int { return len(d.allocations) }

// AllocationAt returns the i'th allocation in address order.
func (d *Directory) AllocationAt(i int) Allocation { return d.allocations[i] }

// AllocationIndexOf returns the index of the innermost allocation
// containing a, or (-1,false) if a falls in no allocation. Allocations
// are emitted in ascending address order by the merge, each wrapped one
// after the allocation that contains it, so the search starts at the
// last allocation beginning at or below a and walks back through
// wrapped allocations until one contains a or an unwrapped one does not.
func (d *Directory) AllocationIndexOf(a snapshot.Address) (int, bool) {
	i := sort.Search(len(d.allocations), func(i int) bool { return d.allocations[i].Address > a }) - 1
	for ; i >= 0; i-- {
		if a < d.allocations[i].Limit() {
			return i, true
		}
		if !d.allocations[i].IsWrapped() {
			break
		}
	}
	return -1, false
}

// MarkFree marks the allocation at index i as free.
func (d *Directory) MarkFree(i int) { d.allocations[i].markAsFree() }

// MarkThreadCached marks the allocation at index i as thread-cached.
func (d *Directory) MarkThreadCached(i int) { d.allocations[i].markAsThreadCached() }

// HasThreadCached reports whether any allocation has been marked
// thread-cached.
func (d *Directory) HasThreadCached() bool {
	for _, a := range d.allocations {
		if a.IsThreadCached() {
			return true
		}
	}
	return false
}

// IsThreadCached reports whether the allocation at index i is marked
// thread-cached.
func (d *Directory) IsThreadCached(i int) bool { return d.allocations[i].IsThreadCached() }
