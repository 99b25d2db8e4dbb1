package heapwalk

import (
	"github.com/memshard/memshard/diag"
	"github.com/memshard/memshard/pkg/config"
	"github.com/memshard/memshard/pkg/options"
	"github.com/memshard/memshard/snapshot"
)

// Arena is a discovered glibc malloc_state: either the statically
// allocated main arena, or a secondary arena reached via the arena
// linked list.
type Arena struct {
	Address   snapshot.Address
	Next      snapshot.Address
	Top       snapshot.Address
	SystemMem uint64
	IsMain    bool
}

// Heap is a discovered heap_info-headed memory region owned by a
// secondary arena (the main arena's "heap" is its surrounding sbrk
// region, modeled separately by the main-arena finder).
type Heap struct {
	Address snapshot.Address
	Size    uint64
	Arena   snapshot.Address
}

// heapCandidate is one H-aligned boundary whose leading four words match
// glibc's heap_info layout: {ar_ptr, prev, size, mprotect_size}. Finding
// one doesn't by itself prove an arena exists at ar_ptr — only that this
// boundary looks like a heap belonging to one.
type heapCandidate struct {
	start    snapshot.Address
	arenaPtr snapshot.Address
	prevHeap snapshot.Address
	curSize  uint64
	maxSize  uint64
}

// InfraFinder derives the field offsets of glibc's malloc_state and
// heap_info structures by voting across candidate layouts, then uses
// those offsets to walk the arena list and the per-arena heap list. It
// never assumes a fixed glibc build: the same vote that finds the
// offsets also bounds how much the rest of the engine can trust them.
type InfraFinder struct {
	snap      *snapshot.Snapshot
	partition *Partition
	opts      *options.Options
	diag      *diag.Sink

	nextOffset     int
	topOffset      int
	arPtrOffset    int
	freeListOffset int
	fastBinOffset  int

	nextOffsetKnown     bool
	topOffsetKnown      bool
	freeListOffsetKnown bool
	fastBinOffsetKnown  bool

	maxHeapSize        uint64
	fastBinLinkMangled bool

	arenas []*Arena
	heaps  []*Heap
}

// SeedOffsets pins any offsets an operator already knows for this
// target's glibc build, letting Run skip the corresponding vote
// entirely. A nil or zero-valued overrides leaves voting untouched.
func (f *InfraFinder) SeedOffsets(overrides *config.Overrides) {
	if overrides == nil {
		return
	}
	if overrides.ArenaNextOffset > 0 {
		f.nextOffset = overrides.ArenaNextOffset
		f.nextOffsetKnown = true
	}
	if overrides.ArenaTopOffset > 0 {
		f.topOffset = overrides.ArenaTopOffset
		f.topOffsetKnown = true
	}
	if overrides.HeapArenaOffset > 0 {
		f.arPtrOffset = overrides.HeapArenaOffset
	}
}

const arenaSearchWindowPtrs = 32

// NewInfraFinder prepares a finder over snap, restricted to the still-
// unclaimed portions of partition.
func NewInfraFinder(snap *snapshot.Snapshot, partition *Partition, opts *options.Options, sink *diag.Sink) *InfraFinder {
	return &InfraFinder{snap: snap, partition: partition, opts: opts, diag: sink, maxHeapSize: opts.MaxHeapSize}
}

// Arenas returns the discovered arenas, main arena first.
func (f *InfraFinder) Arenas() []*Arena { return f.arenas }

// Heaps returns the discovered secondary-arena heaps.
func (f *InfraFinder) Heaps() []*Heap { return f.heaps }

// MaxHeapSize returns the (possibly corrected) max-heap-size guess the
// heap scan ended up using.
func (f *InfraFinder) MaxHeapSize() uint64 { return f.maxHeapSize }

// FreeListOffset and FastBinOffset report the voted offsets of the main
// arena's doubly linked free lists and fast-bin array, zero if voting
// never reached a verdict.
func (f *InfraFinder) FreeListOffset() int { return f.freeListOffset }
func (f *InfraFinder) FastBinOffset() int  { return f.fastBinOffset }

// FastBinLinkMangled reports whether the fast-bin head pointers looked
// XOR-obscured by glibc's safe-linking mitigation.
func (f *InfraFinder) FastBinLinkMangled() bool { return f.fastBinLinkMangled }

// candidateBases returns every pointer-aligned address in the unclaimed
// writable, imaged ranges: the main arena is statically allocated in
// libc's data segment, so it only ever appears in a range backed by a
// file image.
func (f *InfraFinder) candidateBases() []snapshot.Address {
	ptrSize := uint64(f.snap.Arch().PointerSize)
	var out []snapshot.Address
	f.partition.VisitUnclaimedWritable(func(base, size uint64) bool {
		if !f.partition.IsStaticAnchorCandidate(snapshot.Address(base)) {
			return true
		}
		for a := base; a+arenaSearchWindowPtrs*ptrSize <= base+size; a += ptrSize {
			out = append(out, snapshot.Address(a))
			if len(out) >= f.opts.MaxVoteSamples {
				return false
			}
		}
		return true
	})
	return out
}

// voteNextOffset finds the malloc_state.next field by looking for the
// main arena's defining property: before any secondary arena is
// created, its own next pointer points back to itself.
func (f *InfraFinder) voteNextOffset(bases []snapshot.Address) (int, snapshot.Address, bool) {
	ptrSize := uint64(f.snap.Arch().PointerSize)
	votes := make(map[int]int)
	owner := make(map[int]snapshot.Address)
	for _, base := range bases {
		for off := 0; off < arenaSearchWindowPtrs; off++ {
			addr := base.Add(int64(off) * int64(ptrSize))
			v, ok := f.snap.Uintptr(addr)
			if !ok {
				continue
			}
			if snapshot.Address(v) == base {
				votes[off]++
				owner[off] = base
			}
		}
	}
	best, bestVotes := -1, 0
	for off, n := range votes {
		if n > bestVotes {
			best, bestVotes = off, n
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best * int(ptrSize), owner[best], true
}

// voteTopOffset finds malloc_state.top: a pointer to a chunk that lies
// in a mapped, writable range and whose size field carries plausible
// flags.
func (f *InfraFinder) voteTopOffset(bases []snapshot.Address) (int, bool) {
	ptrSize := uint64(f.snap.Arch().PointerSize)
	votes := make(map[int]int)
	for _, base := range bases {
		for off := 0; off < arenaSearchWindowPtrs; off++ {
			addr := base.Add(int64(off) * int64(ptrSize))
			v, ok := f.snap.Uintptr(addr)
			if !ok || v == 0 {
				continue
			}
			top := snapshot.Address(v)
			size, flags, ok := chunkSize(f.snap, top)
			if !ok || size == 0 || size%(2*ptrSize) != 0 {
				continue
			}
			if flags&isMmapped != 0 {
				continue
			}
			m := f.snap.FindMapping(top)
			if m == nil || m.Perm&snapshot.Write == 0 {
				continue
			}
			votes[off]++
		}
	}
	best, bestVotes := -1, 0
	for off, n := range votes {
		if n > bestVotes {
			best, bestVotes = off, n
		}
	}
	if best < 0 || float64(bestVotes) < float64(len(bases))*f.opts.VoteThreshold {
		return 0, false
	}
	return best * int(ptrSize), true
}

// Run executes the voting scan and, on success, walks the resulting
// arena and heap lists. It does not fail the whole analysis if voting
// can't reach threshold confidence; callers get zero arenas and the
// diagnostic sink receives an inconsistency report.
//
// Locating the main arena is tried two ways: first by its distinctive
// pattern of well over a hundred bin headers (the one signature that
// keeps working even after a secondary arena's creation has overwritten
// the main arena's next pointer with something other than itself), and
// only if that turns up nothing by the cheaper self-referential-next
// heuristic, which is the defining trait only before any secondary
// arena exists.
func (f *InfraFinder) Run() {
	bases := f.candidateBases()

	var mainCandidate snapshot.Address
	haveMain := false
	if !f.topOffsetKnown {
		if cand, ok := f.findMainArenaByDistinctivePattern(); ok {
			mainCandidate = cand
			f.topOffset = defaultTopOffsetWords * int(f.snap.Arch().PointerSize)
			f.topOffsetKnown = true
			haveMain = true
		}
	}

	if !haveMain {
		if f.nextOffsetKnown {
			cand, ok := f.findSelfReferentialAt(bases, f.nextOffset)
			if !ok {
				f.diag.Inconsistency("infra", "reason", "seeded next-offset found no self-referential candidate")
				return
			}
			mainCandidate = cand
			haveMain = true
		} else if nextOff, cand, ok := f.voteNextOffset(bases); ok {
			f.nextOffset = nextOff
			f.nextOffsetKnown = true
			mainCandidate = cand
			haveMain = true
		}
	}

	if !haveMain {
		f.diag.Inconsistency("infra", "reason", "no main arena candidate found by pattern or self-referential next pointer")
		return
	}

	if !f.topOffsetKnown {
		topOff, ok := f.voteTopOffset(bases)
		if !ok {
			f.diag.Inconsistency("infra", "reason", "no plausible top-chunk candidate found")
			return
		}
		f.topOffset = topOff
	}

	// nextOffset may still be unknown here: the distinctive-pattern path
	// finds the main arena's address without ever needing a working next
	// pointer, which is exactly the case (a secondary arena already
	// exists) where that pointer is least likely to still self-reference.
	// Voting for it now would be unreliable anyway: the bin array's own
	// self-referential list headers vastly outnumber genuine candidates
	// and would dominate the vote. walkArenaList records just the main
	// arena when nextOffset is unknown; discoverArenasAndHeapsViaHeapScan
	// finds secondary arenas independently of the ring walk.
	f.walkArenaList(mainCandidate)

	if !f.freeListOffsetKnown {
		if off, ok := f.voteFreeListOffset(mainCandidate); ok {
			f.freeListOffset = off
			f.freeListOffsetKnown = true
		}
	}
	if !f.fastBinOffsetKnown {
		if off, ok := f.deriveFastBinOffset(mainCandidate); ok {
			f.fastBinOffset = off
			f.fastBinOffsetKnown = true
			f.fastBinLinkMangled = f.hasFastBinLinkMangling(mainCandidate, off)
		}
	}

	f.discoverArenasAndHeapsViaHeapScan()
}

// findSelfReferentialAt checks, for each candidate base, whether the
// pointer at the fixed offset points back at base itself - the defining
// property of the main arena's next field before any secondary arena
// exists.
func (f *InfraFinder) findSelfReferentialAt(bases []snapshot.Address, offset int) (snapshot.Address, bool) {
	for _, base := range bases {
		v, ok := f.snap.Uintptr(base.Add(int64(offset)))
		if ok && snapshot.Address(v) == base {
			return base, true
		}
	}
	return 0, false
}

// walkArenaList follows the arena ring from main for as long as the
// next field keeps resolving to a fresh address. When nextOffset was
// never established (the distinctive-pattern path pins down the main
// arena's address without it), it records just the main arena: any
// secondary arenas are left for discoverArenasAndHeapsViaHeapScan,
// which finds them independently through their own heap headers.
func (f *InfraFinder) walkArenaList(main snapshot.Address) {
	if !f.nextOffsetKnown {
		top, _ := f.snap.Uintptr(main.Add(int64(f.topOffset)))
		size, _, _ := chunkSize(f.snap, snapshot.Address(top))
		f.arenas = append(f.arenas, &Arena{Address: main, Top: snapshot.Address(top), SystemMem: size, IsMain: true})
		if !f.partition.ClaimRange(uint64(main), uint64(minChunkSize(f.snap.Arch())*8), ClaimMainArena, false) {
			f.diag.Skipped("infra", "reason", "arena header range already claimed", "address", main)
		}
		return
	}
	seen := map[snapshot.Address]bool{}
	cur := main
	first := true
	for !seen[cur] {
		seen[cur] = true
		next, _ := f.snap.Uintptr(cur.Add(int64(f.nextOffset)))
		top, _ := f.snap.Uintptr(cur.Add(int64(f.topOffset)))
		size, _, _ := chunkSize(f.snap, snapshot.Address(top))
		arena := &Arena{
			Address:   cur,
			Next:      snapshot.Address(next),
			Top:       snapshot.Address(top),
			SystemMem: size,
			IsMain:    first,
		}
		f.arenas = append(f.arenas, arena)
		if !f.partition.ClaimRange(uint64(cur), uint64(minChunkSize(f.snap.Arch())*8), ClaimMainArena, false) {
			f.diag.Skipped("infra", "reason", "arena header range already claimed", "address", cur)
		}
		first = false
		if next == 0 {
			break
		}
		cur = snapshot.Address(next)
	}
}

const (
	// defaultTopOffsetWords and defaultBinsOffsetWords describe the
	// fictional-but-consistent malloc_state layout this package votes
	// over: top sits defaultTopOffsetWords words into the struct, and
	// the bin array (the thing the distinctive-pattern scan looks for)
	// starts immediately after it.
	defaultTopOffsetWords  = 11
	defaultBinsOffsetWords = defaultTopOffsetWords + 1

	// mainArenaEmptyListRunThreshold is how many consecutive two-word
	// doubly linked list headers (the bin array) it takes to call a run
	// of memory "the main arena's bins" rather than coincidence.
	mainArenaEmptyListRunThreshold = 120

	// fastBinCountSlots is the number of fast-bin head pointers probed
	// when voting for the fast-bin array's starting offset.
	fastBinCountSlots = 10

	// maxHeapSizeCorrectionRounds bounds how many times the working
	// max-heap-size guess is doubled while hunting for a value under
	// which every discovered heap_info header's own declared maximum
	// actually fits.
	maxHeapSizeCorrectionRounds = 4
)

// isEmptyDoublyLinkedFreeList reports whether the two-word list header
// at addr (forward pointer at +0, backward at +ptrSize) is empty: both
// point back at the header itself.
func (f *InfraFinder) isEmptyDoublyLinkedFreeList(addr snapshot.Address) bool {
	ptrSize := int64(f.snap.Arch().PointerSize)
	fd, ok1 := f.snap.Uintptr(addr)
	bk, ok2 := f.snap.Uintptr(addr.Add(ptrSize))
	return ok1 && ok2 && snapshot.Address(fd) == addr && snapshot.Address(bk) == addr
}

// isNonEmptyDoublyLinkedFreeList reports whether the two-word list
// header at addr looks like a non-empty doubly linked list: its forward
// pointer's own backward pointer, and its backward pointer's own
// forward pointer, both point back at addr.
func (f *InfraFinder) isNonEmptyDoublyLinkedFreeList(addr snapshot.Address) bool {
	ptrSize := int64(f.snap.Arch().PointerSize)
	fd, ok1 := f.snap.Uintptr(addr)
	if !ok1 || snapshot.Address(fd) == addr || fd == 0 {
		return false
	}
	bk, ok2 := f.snap.Uintptr(addr.Add(ptrSize))
	if !ok2 || snapshot.Address(bk) == addr || bk == 0 {
		return false
	}
	fdBack, ok3 := f.snap.Uintptr(snapshot.Address(fd).Add(ptrSize))
	bkFwd, ok4 := f.snap.Uintptr(snapshot.Address(bk))
	return ok3 && ok4 && snapshot.Address(fdBack) == addr && snapshot.Address(bkFwd) == addr
}

// hasPlausibleTop reports whether the pointer stored at topField refers
// to a chunk whose implied extent lands exactly on a page boundary,
// confirming that a distinctive-pattern hit actually looks like an
// arena and not a coincidental run of self-referential words elsewhere
// in memory.
func (f *InfraFinder) hasPlausibleTop(topField snapshot.Address) bool {
	top, ok := f.snap.Uintptr(topField)
	if !ok || top == 0 {
		return false
	}
	size, _, ok := chunkSize(f.snap, snapshot.Address(top))
	if !ok {
		return false
	}
	return (top+size)&0xfff == 0
}

// findMainArenaByDistinctivePattern scans every unclaimed, imaged
// writable range for a run of at least mainArenaEmptyListRunThreshold
// consecutive bin-shaped list headers - glibc's malloc_state commits
// well over a hundred words to exactly this shape, and nothing else in
// a process image reliably mimics it at that length. Unlike the
// self-referential-next heuristic, this keeps working even once a
// secondary arena exists and the main arena's own next pointer no
// longer points at itself.
func (f *InfraFinder) findMainArenaByDistinctivePattern() (snapshot.Address, bool) {
	ptrSize := uint64(f.snap.Arch().PointerSize)
	listStride := int64(2 * ptrSize) // each bin is a two-word {fd, bk} header
	var found snapshot.Address
	ok := false
	f.partition.VisitUnclaimedWritable(func(base, size uint64) bool {
		if !f.partition.IsStaticAnchorCandidate(snapshot.Address(base)) {
			return true
		}
		limit := base + size
		runLists := 0
		runStart := snapshot.Address(base)
		for addr := snapshot.Address(base); uint64(addr)+2*ptrSize <= limit; addr = addr.Add(listStride) {
			if f.isEmptyDoublyLinkedFreeList(addr) || f.isNonEmptyDoublyLinkedFreeList(addr) {
				if runLists == 0 {
					runStart = addr
				}
				runLists++
				continue
			}
			if runLists >= mainArenaEmptyListRunThreshold {
				break
			}
			runLists = 0
		}
		if runLists < mainArenaEmptyListRunThreshold {
			return true
		}
		candidate := snapshot.Address(uint64(runStart) - defaultBinsOffsetWords*ptrSize)
		if !f.hasPlausibleTop(candidate.Add(defaultTopOffsetWords * int64(ptrSize))) {
			return true
		}
		found, ok = candidate, true
		return false
	})
	return found, ok
}

// scanHeapAndArenaCandidates looks, at every h-aligned boundary inside
// the unclaimed writable ranges, for the four-word heap_info header
// shape glibc gives a secondary arena's heap: {ar_ptr, prev, size,
// mprotect_size}. A heap is identified by its alignment alone, so this
// is the one discovery path that needs no prior knowledge of any
// arena's field offsets.
func (f *InfraFinder) scanHeapAndArenaCandidates(h uint64) []*heapCandidate {
	if h == 0 {
		return nil
	}
	ptrSize := uint64(f.snap.Arch().PointerSize)
	arPtrOff := uint64(f.arPtrOffset)
	var out []*heapCandidate
	f.partition.VisitUnclaimedWritable(func(base, size uint64) bool {
		start := (base + h - 1) &^ (h - 1)
		for ; start+4*ptrSize <= base+size; start += h {
			w0, ok0 := f.snap.Uintptr(snapshot.Address(start + arPtrOff))
			w1, ok1 := f.snap.Uintptr(snapshot.Address(start + ptrSize))
			w2, ok2 := f.snap.Uintptr(snapshot.Address(start + 2*ptrSize))
			w3, ok3 := f.snap.Uintptr(snapshot.Address(start + 3*ptrSize))
			if !ok0 || !ok1 || !ok2 || !ok3 {
				continue
			}
			if w0&(h-1) != 4*ptrSize {
				continue
			}
			if w1&(h-1) != 0 {
				continue
			}
			if w2 == 0 || w2&0xfff != 0 {
				continue
			}
			if w3 == 0 || w3&0xfff != 0 {
				continue
			}
			isFirstHeap := w0&^(h-1) == start
			if isFirstHeap != (w1 == 0) {
				continue
			}
			out = append(out, &heapCandidate{
				start:    snapshot.Address(start),
				arenaPtr: snapshot.Address(w0),
				prevHeap: snapshot.Address(w1),
				curSize:  w2,
				maxSize:  w3,
			})
			if len(out) >= f.opts.MaxVoteSamples {
				return false
			}
		}
		return true
	})
	return out
}

// correctMaxHeapSize doubles the working heap-size guess until every
// heap_info header the scan turns up declares a maximum that actually
// fits within it: a guess that's too small makes the alignment test
// fail for every boundary past the first one in the same heap.
func (f *InfraFinder) correctMaxHeapSize(h uint64) uint64 {
	for i := 0; i < maxHeapSizeCorrectionRounds; i++ {
		heaps := f.scanHeapAndArenaCandidates(h)
		grow := false
		for _, hc := range heaps {
			if hc.maxSize > h {
				grow = true
			}
		}
		if !grow {
			break
		}
		h *= 2
	}
	return h
}

// discoverArenasAndHeapsViaHeapScan is the H-aligned heap-and-arena
// scan: it corrects the working max-heap-size guess, then records every
// heap it finds and every arena reachable through a heap's ar_ptr field
// that the next-pointer walk didn't already know about. This is what
// lets a secondary arena be found even when its own linkage into the
// arena ring was never established.
func (f *InfraFinder) discoverArenasAndHeapsViaHeapScan() {
	h := f.correctMaxHeapSize(f.maxHeapSize)
	f.maxHeapSize = h

	known := map[snapshot.Address]bool{}
	for _, a := range f.arenas {
		known[a.Address] = true
	}

	for _, hc := range f.scanHeapAndArenaCandidates(h) {
		if !known[hc.arenaPtr] {
			known[hc.arenaPtr] = true
			var next snapshot.Address
			if f.nextOffsetKnown {
				v, _ := f.snap.Uintptr(hc.arenaPtr.Add(int64(f.nextOffset)))
				next = snapshot.Address(v)
			}
			top, _ := f.snap.Uintptr(hc.arenaPtr.Add(int64(f.topOffset)))
			size, _, _ := chunkSize(f.snap, snapshot.Address(top))
			f.arenas = append(f.arenas, &Arena{
				Address:   hc.arenaPtr,
				Next:      next,
				Top:       snapshot.Address(top),
				SystemMem: size,
				IsMain:    false,
			})
		}
		f.heaps = append(f.heaps, &Heap{Address: hc.start, Size: hc.curSize, Arena: hc.arenaPtr})
		if !f.partition.ClaimRange(uint64(hc.start), hc.curSize, ClaimHeapArena, false) {
			f.diag.Skipped("infra", "reason", "heap range already claimed", "address", hc.start)
		}
	}
}

// voteFreeListOffset finds the start of the arena's doubly linked free
// lists by scanning forward from just past the top pointer - the same
// region the distinctive-pattern scan recognizes by its length, but
// applied here to one already-trusted arena address to pin down an
// exact offset rather than merely detect the pattern's presence.
func (f *InfraFinder) voteFreeListOffset(arena snapshot.Address) (int, bool) {
	ptrSize := int(f.snap.Arch().PointerSize)
	for off := f.topOffset + ptrSize; off <= 0x100; off += ptrSize {
		addr := arena.Add(int64(off))
		if f.isEmptyDoublyLinkedFreeList(addr) || f.isNonEmptyDoublyLinkedFreeList(addr) {
			return off, true
		}
	}
	return 0, false
}

// deriveFastBinOffset votes between the two fast-bin-array placements
// glibc malloc_state layouts have used (differing by one pointer's
// worth of padding): whichever placement's slots resolve, more often,
// to either a null head or a chunk whose size roughly matches its own
// bin index wins.
func (f *InfraFinder) deriveFastBinOffset(arena snapshot.Address) (int, bool) {
	ptrSize := int64(f.snap.Arch().PointerSize)
	candidates := []int{int(ptrSize), int(2 * ptrSize)}
	bestOff, bestVotes := -1, 0
	for _, off := range candidates {
		votes := 0
		for k := 0; k < fastBinCountSlots; k++ {
			addr := arena.Add(int64(off) + int64(k)*ptrSize)
			v, ok := f.snap.Uintptr(addr)
			if !ok {
				continue
			}
			if v == 0 {
				votes++
				continue
			}
			size, _, ok := chunkSize(f.snap, snapshot.Address(v))
			if !ok {
				continue
			}
			minSize := uint64(k+1) * 2 * uint64(ptrSize)
			maxSize := minSize + 2*uint64(ptrSize)
			if size >= minSize && size <= maxSize {
				votes++
			}
		}
		if votes > bestVotes {
			bestOff, bestVotes = off, votes
		}
	}
	if bestOff < 0 {
		return 0, false
	}
	return bestOff, true
}

// hasFastBinLinkMangling reports whether the fast-bin head pointers
// look XOR-obscured by glibc's safe-linking mitigation: an unmangled
// head should generally resolve to a chunk with a plausible size, while
// a mangled one generally won't.
func (f *InfraFinder) hasFastBinLinkMangling(arena snapshot.Address, fastBinOffset int) bool {
	ptrSize := int64(f.snap.Arch().PointerSize)
	plausible, implausible := 0, 0
	for k := 0; k < fastBinCountSlots; k++ {
		addr := arena.Add(int64(fastBinOffset) + int64(k)*ptrSize)
		v, ok := f.snap.Uintptr(addr)
		if !ok || v == 0 {
			continue
		}
		if _, _, ok := chunkSize(f.snap, snapshot.Address(v)); ok {
			plausible++
		} else {
			implausible++
		}
	}
	return implausible > plausible
}

// MainHeapRange returns the contiguous run of committed pages backing
// arena's heap, discovered from the mapping that contains its top
// chunk rather than assumed from the arena header's own address. A
// caller that needs a starting point for walking the main arena's
// chunks should use this instead of guessing one relative to the arena
// struct, which tells you nothing about where sbrk actually began.
func (f *InfraFinder) MainHeapRange(arena *Arena) (start, limit snapshot.Address, ok bool) {
	m := f.snap.FindMapping(arena.Top)
	if m == nil {
		return 0, 0, false
	}
	return m.Min, m.Max, true
}
