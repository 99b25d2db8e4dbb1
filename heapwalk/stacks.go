package heapwalk

import (
	"github.com/memshard/memshard/rangemap"
	"github.com/memshard/memshard/snapshot"
)

// StackInfo describes one thread's or fiber's stack extent.
type StackInfo struct {
	Min, Max snapshot.Address
	ThreadID uint64
	Source   string // e.g. "pthread", "fiber"
}

// StackRegistry maps addresses to the thread or fiber stack that owns
// them, so taggers can recognize stack-backed allocations (a pthread or
// Folly fiber stack allocated out of the heap rather than via its own
// mmap). The reference graph does not consult it.
type StackRegistry struct {
	byAddr *rangemap.Mapper[*StackInfo]
	all    []*StackInfo
}

// NewStackRegistry returns an empty registry.
func NewStackRegistry() *StackRegistry {
	return &StackRegistry{byAddr: rangemap.New[*StackInfo]()}
}

// Register records one stack extent, reporting whether it was newly
// added. Overlapping registrations for the same extent are rejected
// silently (the first registration wins); a StackInfo discovered twice
// by independent finders is expected and harmless.
func (r *StackRegistry) Register(info *StackInfo) bool {
	if r.byAddr.MapRange(uint64(info.Min), uint64(info.Max-info.Min), info) {
		r.all = append(r.all, info)
		return true
	}
	return false
}

// Find returns the stack owning address a, if any.
func (r *StackRegistry) Find(a snapshot.Address) (*StackInfo, bool) {
	return r.byAddr.Find(uint64(a))
}

// All returns every registered stack.
func (r *StackRegistry) All() []*StackInfo { return r.all }

// DeriveFromThreads registers one stack per captured thread, using its
// stack pointer's containing mapping as the stack's extent, and claims
// that mapping in partition so later finders don't mistake it for heap
// memory. Stacks allocated from the heap (fiber stacks, in particular)
// have no dedicated mapping of their own and are not registered here;
// no code in this package registers them.
func (r *StackRegistry) DeriveFromThreads(snap *snapshot.Snapshot, partition *Partition) {
	for _, t := range snap.Threads() {
		m := snap.FindMapping(t.SP)
		if m == nil {
			continue
		}
		info := &StackInfo{Min: m.Min, Max: m.Max, ThreadID: t.ID, Source: "pthread"}
		if r.Register(info) {
			partition.ClaimRange(uint64(m.Min), uint64(m.Size()), ClaimStack, false)
		}
	}
}
