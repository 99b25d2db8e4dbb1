package heapwalk

import "github.com/memshard/memshard/snapshot"

// Finder is the common iteration protocol every allocation source
// implements: callers pull allocations out in ascending address order
// one at a time. The allocation directory merges several finders
// together without knowing which kind produced any given record.
type Finder interface {
	Finished() bool
	NextAddress() snapshot.Address
	NextSize() uint64
	NextIsUsed() bool
	Advance()
	MinRequestSize() uint64
}

// chunkWalker sequentially scans a contiguous run of glibc chunks,
// starting at start and stopping at (not including) limit. A chunk's
// in-use status is determined by the PREV_INUSE bit stored in the
// *following* chunk's size field, matching glibc's layout.
type chunkWalker struct {
	snap        *snapshot.Snapshot
	cur         snapshot.Address
	limit       snapshot.Address
	finderIndex int

	curSize  uint64
	curUsed  bool
	finished bool
}

func newChunkWalker(snap *snapshot.Snapshot, start, limit snapshot.Address) *chunkWalker {
	w := &chunkWalker{snap: snap, cur: start, limit: limit}
	w.load()
	return w
}

func (w *chunkWalker) load() {
	if w.cur >= w.limit {
		w.finished = true
		return
	}
	size, _, ok := chunkSize(w.snap, w.cur)
	if !ok || size == 0 {
		w.finished = true
		return
	}
	next := w.cur.Add(int64(size))
	if next > w.limit {
		w.finished = true
		return
	}
	_, nextFlags, ok := chunkSize(w.snap, next)
	used := true
	if ok {
		used = nextFlags&prevInUse != 0
	}
	if next == w.limit {
		used = true // the top chunk's predecessor is always considered in use
	}
	w.curSize = size
	w.curUsed = used
}

func (w *chunkWalker) Finished() bool            { return w.finished }
func (w *chunkWalker) NextAddress() snapshot.Address { return chunkToMem(w.snap, w.cur) }
func (w *chunkWalker) NextSize() uint64          { return w.curSize - 2*uint64(w.snap.Arch().PointerSize) }
func (w *chunkWalker) NextIsUsed() bool          { return w.curUsed }
func (w *chunkWalker) MinRequestSize() uint64    { return minChunkSize(w.snap.Arch()) }

func (w *chunkWalker) Advance() {
	w.cur = w.cur.Add(int64(w.curSize))
	w.load()
}

// HeapFinder walks the allocations within one secondary-arena heap.
type HeapFinder struct {
	*chunkWalker
}

// NewHeapFinder scans heap's chunks up to the owning arena's top chunk.
func NewHeapFinder(snap *snapshot.Snapshot, h *Heap, arenaTop snapshot.Address, headerSize int64) *HeapFinder {
	start := h.Address.Add(headerSize)
	limit := arenaTop
	if limit < start || limit > h.Address.Add(int64(h.Size)) {
		limit = h.Address.Add(int64(h.Size))
	}
	return &HeapFinder{chunkWalker: newChunkWalker(snap, start, limit)}
}

// MainArenaFinder walks the allocations in the main arena's contiguous
// sbrk-grown region.
type MainArenaFinder struct {
	*chunkWalker
}

// NewMainArenaFinder scans from start up to the main arena's top chunk.
func NewMainArenaFinder(snap *snapshot.Snapshot, start, top snapshot.Address) *MainArenaFinder {
	return &MainArenaFinder{chunkWalker: newChunkWalker(snap, start, top)}
}

// MmapFinder enumerates individually mmapped allocations: each one is a
// single chunk occupying its own memory mapping, recognizable by the
// IS_MMAPPED flag in its header.
type MmapFinder struct {
	snap  *snapshot.Snapshot
	mmaps []*snapshot.Mapping
	idx   int
}

// NewMmapFinder scans candidate writable mappings for ones that begin
// with an IS_MMAPPED chunk header.
func NewMmapFinder(snap *snapshot.Snapshot, candidates []*snapshot.Mapping) *MmapFinder {
	var mmaps []*snapshot.Mapping
	for _, m := range candidates {
		if m.Perm&snapshot.Write == 0 {
			continue
		}
		_, flags, ok := chunkSize(snap, m.Min)
		if ok && flags&isMmapped != 0 {
			mmaps = append(mmaps, m)
		}
	}
	return &MmapFinder{snap: snap, mmaps: mmaps}
}

func (f *MmapFinder) Finished() bool { return f.idx >= len(f.mmaps) }

func (f *MmapFinder) NextAddress() snapshot.Address {
	return chunkToMem(f.snap, f.mmaps[f.idx].Min)
}

func (f *MmapFinder) NextSize() uint64 {
	size, _, _ := chunkSize(f.snap, f.mmaps[f.idx].Min)
	return size - 2*uint64(f.snap.Arch().PointerSize)
}

func (f *MmapFinder) NextIsUsed() bool { return true } // an mmapped chunk's mapping exists only while it is live

func (f *MmapFinder) Advance() { f.idx++ }

func (f *MmapFinder) MinRequestSize() uint64 { return minChunkSize(f.snap.Arch()) }
