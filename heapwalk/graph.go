package heapwalk

import "github.com/memshard/memshard/snapshot"

// Graph is the directed reference graph over a Directory's resolved
// allocations: an edge i->j means some pointer-aligned word inside
// allocation i holds an address inside allocation j. Both forward and
// reverse adjacency are stored as flat, compressed-sparse-row arrays
// built by a counting pass followed by a fill pass, so the graph can
// represent cycles (a back-pointer-only walk would miss them) without
// any per-node slice allocation.
type Graph struct {
	snap *snapshot.Snapshot
	dir  *Directory

	outIdx   []int32
	outEdges []int32

	inIdx   []int32
	inEdges []int32

	// favoredIncoming[e] / taintedOutgoing[e] are parallel to inEdges /
	// outEdges, recording the predicate state of that edge slot.
	favoredIncoming []bool
	taintedOutgoing []bool
}

// BuildGraph scans every used allocation's pointer-aligned contents for
// values that land inside another resolved allocation, and builds the
// forward/reverse CSR adjacency from the resulting edge list.
func BuildGraph(snap *snapshot.Snapshot, dir *Directory) *Graph {
	g := &Graph{snap: snap, dir: dir}
	n := dir.NumAllocations()
	ptrSize := uint64(snap.Arch().PointerSize)

	type edge struct{ from, to int32 }
	var edges []edge

	for i := 0; i < n; i++ {
		a := dir.AllocationAt(i)
		if !a.IsUsed() {
			continue
		}
		img := NewContiguousImage(snap, a.Address, a.Size())
		for off := uint64(0); off+ptrSize <= img.Size(); off += ptrSize {
			v, ok := img.Uintptr(off)
			if !ok || v == 0 {
				continue
			}
			j, ok := dir.AllocationIndexOf(snapshot.Address(v))
			if !ok || j == i {
				continue
			}
			edges = append(edges, edge{int32(i), int32(j)})
		}
	}

	g.outIdx = make([]int32, n+1)
	g.inIdx = make([]int32, n+1)
	for _, e := range edges {
		g.outIdx[e.from+1]++
		g.inIdx[e.to+1]++
	}
	for i := 0; i < n; i++ {
		g.outIdx[i+1] += g.outIdx[i]
		g.inIdx[i+1] += g.inIdx[i]
	}

	g.outEdges = make([]int32, len(edges))
	g.inEdges = make([]int32, len(edges))
	g.favoredIncoming = make([]bool, len(edges))
	g.taintedOutgoing = make([]bool, len(edges))

	outCursor := append([]int32(nil), g.outIdx[:n]...)
	inCursor := append([]int32(nil), g.inIdx[:n]...)
	for _, e := range edges {
		g.outEdges[outCursor[e.from]] = e.to
		outCursor[e.from]++
		g.inEdges[inCursor[e.to]] = e.from
		inCursor[e.to]++
	}
	return g
}

// ForEachOutgoing calls fn for every allocation i references, stopping
// early if fn returns false.
func (g *Graph) ForEachOutgoing(i int, fn func(slot int, target int) bool) {
	for s := g.outIdx[i]; s < g.outIdx[i+1]; s++ {
		if !fn(int(s-g.outIdx[i]), int(g.outEdges[s])) {
			return
		}
	}
}

// ForEachIncoming calls fn for every allocation that references i.
func (g *Graph) ForEachIncoming(i int, fn func(slot int, source int) bool) {
	for s := g.inIdx[i]; s < g.inIdx[i+1]; s++ {
		if !fn(int(s-g.inIdx[i]), int(g.inEdges[s])) {
			return
		}
	}
}

// NumOutgoing and NumIncoming report an allocation's edge counts.
func (g *Graph) NumOutgoing(i int) int { return int(g.outIdx[i+1] - g.outIdx[i]) }
func (g *Graph) NumIncoming(i int) int { return int(g.inIdx[i+1] - g.inIdx[i]) }

// MarkFavoredIncoming flags the edge in i's incoming list at slot as a
// favored reference: one a tagger has determined is the canonical
// owning reference to i.
func (g *Graph) MarkFavoredIncoming(i, slot int) {
	g.favoredIncoming[g.inIdx[i]+int32(slot)] = true
}

// IsFavoredIncoming reports whether the edge in i's incoming list at
// slot is marked favored.
func (g *Graph) IsFavoredIncoming(i, slot int) bool {
	return g.favoredIncoming[g.inIdx[i]+int32(slot)]
}

// MarkFavoredFrom flags target's incoming edge from source as favored.
// It is a no-op if no edge from source to target exists (e.g. the
// reference was masked out as tainted before the graph was built).
func (g *Graph) MarkFavoredFrom(source, target int) {
	for s := g.inIdx[target]; s < g.inIdx[target+1]; s++ {
		if int(g.inEdges[s]) == source {
			g.favoredIncoming[s] = true
			return
		}
	}
}

// ClearFavoredIncoming clears every favored-incoming flag on i's
// incoming edges, used when a stronger tag overwrites one that
// supported favored references.
func (g *Graph) ClearFavoredIncoming(i int) {
	for s := g.inIdx[i]; s < g.inIdx[i+1]; s++ {
		g.favoredIncoming[s] = false
	}
}

// MarkTaintedOutgoing flags the edge in i's outgoing list at slot as
// tainted: a reference known to point at memory whose interpretation
// cannot be trusted (an obscured or reinterpreted pointer).
func (g *Graph) MarkTaintedOutgoing(i, slot int) {
	g.taintedOutgoing[g.outIdx[i]+int32(slot)] = true
}

// IsTaintedOutgoing reports whether the edge in i's outgoing list at
// slot is marked tainted.
func (g *Graph) IsTaintedOutgoing(i, slot int) bool {
	return g.taintedOutgoing[g.outIdx[i]+int32(slot)]
}

// ClearTaintedOutgoing clears every tainted-outgoing flag on i's
// outgoing edges, used when an allocation is retagged.
func (g *Graph) ClearTaintedOutgoing(i int) {
	for s := g.outIdx[i]; s < g.outIdx[i+1]; s++ {
		g.taintedOutgoing[s] = false
	}
}
