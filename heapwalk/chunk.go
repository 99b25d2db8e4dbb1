package heapwalk

import "github.com/memshard/memshard/snapshot"

// glibc malloc_chunk flag bits, packed into the low bits of the size
// field. A chunk's size is always a multiple of 2*pointerSize, so
// these bits are otherwise unused.
const (
	prevInUse    = 1 << 0
	isMmapped    = 1 << 1
	nonMainArena = 1 << 2
	sizeBits     = prevInUse | isMmapped | nonMainArena
)

// chunkSize reads a chunk's packed size field at address a and splits it
// into the chunk size (header included) and flag bits.
func chunkSize(s *snapshot.Snapshot, a snapshot.Address) (size uint64, flags uint64, ok bool) {
	ptrSize := uint64(s.Arch().PointerSize)
	v, ok := s.Uintptr(a.Add(int64(ptrSize)))
	if !ok {
		return 0, 0, false
	}
	return v &^ sizeBits, v & sizeBits, true
}

// chunkToMem converts a chunk header address to the address returned to
// the allocator's caller (past the two size_t header fields).
func chunkToMem(s *snapshot.Snapshot, chunk snapshot.Address) snapshot.Address {
	return chunk.Add(2 * int64(s.Arch().PointerSize))
}

// memToChunk is the inverse of chunkToMem.
func memToChunk(s *snapshot.Snapshot, mem snapshot.Address) snapshot.Address {
	return mem.Add(-2 * int64(s.Arch().PointerSize))
}

// minChunkSize is the smallest possible chunk: two size fields and a
// minimal free-list linkage, rounded up to the platform's malloc
// alignment (2*pointerSize).
func minChunkSize(arch snapshot.Architecture) uint64 {
	return uint64(4 * arch.PointerSize)
}
