package heapwalk

import (
	"github.com/memshard/memshard/memerr"
	"github.com/memshard/memshard/snapshot"
)

// FindBackChain walks backward from corruptionPoint in minimum-chunk-
// sized steps, looking for the lowest address from which a consistent
// forward walk of chunk sizes reaches corruptionPoint exactly. It is
// the last resort once neither the fast-bin lists nor the doubly-linked
// free lists yield a usable repair point: even with no free-list
// metadata left intact, the chunk size chain itself can sometimes be
// walked back to a point the finder can resume from.
func FindBackChain(snap *snapshot.Snapshot, libcChunkStart, corruptionPoint snapshot.Address) snapshot.Address {
	step := int64(2 * snap.Arch().PointerSize)
	lowest := corruptionPoint
	for cand := corruptionPoint.Add(-step); cand >= libcChunkStart; cand = cand.Add(-step) {
		if walksCleanlyTo(snap, cand, corruptionPoint) {
			lowest = cand
		}
	}
	return lowest
}

// walksCleanlyTo reports whether starting a sequential chunk walk at
// start lands exactly on target with no chunk crossing it.
func walksCleanlyTo(snap *snapshot.Snapshot, start, target snapshot.Address) bool {
	cur := start
	for cur < target {
		size, _, ok := chunkSize(snap, cur)
		if !ok || size == 0 || size%(2*uint64(snap.Arch().PointerSize)) != 0 {
			return false
		}
		next := cur.Add(int64(size))
		if next > target {
			return false
		}
		cur = next
	}
	return cur == target
}

// SkipArenaCorruption looks for a safe point to resume chunk walking
// after corruptionPoint, no later than repairLimit, by scanning fast-bin
// heads and doubly-linked free-list nodes for one whose header is
// internally consistent and whose implied extent stays in bounds. If
// none is found and the arena's top chunk lies after corruptionPoint and
// no later than repairLimit, it falls back to FindBackChain anchored at
// the top chunk and bounded below by corruptionPoint; otherwise it
// returns 0.
func SkipArenaCorruption(snap *snapshot.Snapshot, arena *Arena, fastBinHeads, freeListHeads []snapshot.Address, corruptionPoint, repairLimit snapshot.Address) snapshot.Address {
	var best snapshot.Address
	found := false

	consider := func(a snapshot.Address) {
		if a <= corruptionPoint || a > repairLimit {
			return
		}
		size, flags, ok := chunkSize(snap, a)
		if !ok || size == 0 || flags&isMmapped != 0 {
			return
		}
		if a.Add(int64(size)) > repairLimit {
			return
		}
		if !found || a < best {
			best = a
			found = true
		}
	}

	for _, head := range fastBinHeads {
		for n, depth := head, 0; n != 0 && depth < 1024; depth++ {
			consider(n)
			next, ok := snap.Uintptr(n.Add(2 * int64(snap.Arch().PointerSize)))
			if !ok {
				break
			}
			n = snapshot.Address(next)
		}
	}
	for _, head := range freeListHeads {
		for n, depth := head, 0; n != 0 && depth < 1024; depth++ {
			consider(n)
			fd, ok := snap.Uintptr(n.Add(2 * int64(snap.Arch().PointerSize)))
			if !ok {
				break
			}
			n = snapshot.Address(fd)
		}
	}
	if found {
		return best
	}
	if arena.Top <= corruptionPoint || arena.Top > repairLimit {
		return 0
	}
	return FindBackChain(snap, corruptionPoint.Add(1), arena.Top)
}

// fixFastBinFreeStatus corrects allocations that a sequential chunk
// walk marked used because the following chunk's PREV_INUSE bit was
// left set: glibc deliberately never clears PREV_INUSE for a chunk
// sitting in a fast bin, so fast-bin membership has to be cross-checked
// against the directory after the fact rather than inferred from chunk
// headers alone.
func fixFastBinFreeStatus(snap *snapshot.Snapshot, dir *Directory, fastBinHeads []snapshot.Address) {
	for _, head := range fastBinHeads {
		for n, depth := head, 0; n != 0 && depth < 1024; depth++ {
			mem := chunkToMem(snap, n)
			if idx, ok := dir.AllocationIndexOf(mem); ok {
				dir.MarkFree(idx)
			}
			next, ok := snap.Uintptr(n.Add(2 * int64(snap.Arch().PointerSize)))
			if !ok {
				break
			}
			n = snapshot.Address(next)
		}
	}
}

// CheckDoublyLinkedFreeLists walks a circular doubly-linked free list
// starting at head and reports every node whose fd/bk pointers are not
// mutually consistent (node.fd.bk != node or node.bk.fd != node).
func CheckDoublyLinkedFreeLists(snap *snapshot.Snapshot, head snapshot.Address) []*memerr.Inconsistency {
	if head == 0 {
		return nil
	}
	ptrSize := int64(snap.Arch().PointerSize)
	fdOff, bkOff := 2*ptrSize, 3*ptrSize

	var problems []*memerr.Inconsistency
	seen := map[snapshot.Address]bool{}
	for n := head; !seen[n]; {
		seen[n] = true
		fd, fdOK := snap.Uintptr(n.Add(fdOff))
		bk, bkOK := snap.Uintptr(n.Add(bkOff))
		if !fdOK || !bkOK {
			problems = append(problems, memerr.NewInconsistency("free-list", "unreadable fd/bk at "+n.String()))
			break
		}
		fdBk, ok := snap.Uintptr(snapshot.Address(fd).Add(bkOff))
		if !ok || snapshot.Address(fdBk) != n {
			problems = append(problems, memerr.NewInconsistency("free-list", "fd.bk mismatch at "+n.String()))
		}
		bkFd, ok := snap.Uintptr(snapshot.Address(bk).Add(fdOff))
		if !ok || snapshot.Address(bkFd) != n {
			problems = append(problems, memerr.NewInconsistency("free-list", "bk.fd mismatch at "+n.String()))
		}
		if snapshot.Address(fd) == head {
			break
		}
		n = snapshot.Address(fd)
	}
	return problems
}
