package heapwalk

import (
	"testing"

	"github.com/memshard/memshard/snapshot"
)

// writeChunkHeader writes a glibc-style chunk size field (flags packed
// into the low bits) at chunk+pointerSize.
func writeChunkHeader(arch snapshot.Architecture, buf []byte, chunkOff int, size uint64, flags uint64) {
	arch.PutUintptr(buf[chunkOff+arch.PointerSize:], size|flags)
}

func TestFindBackChainWalksCleanChain(t *testing.T) {
	arch := snapshot.Arch64LE
	b := snapshot.NewBuilder(arch)
	buf := make([]byte, 0x200)
	// three chunks of 0x20 bytes each starting at 0x1000
	writeChunkHeader(arch, buf, 0x000, 0x20, prevInUse)
	writeChunkHeader(arch, buf, 0x020, 0x20, prevInUse)
	writeChunkHeader(arch, buf, 0x040, 0x20, prevInUse)
	b.AddMapping(0x1000, 0x1200, snapshot.Read|snapshot.Write, buf)
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	start := FindBackChain(s, 0x1000, 0x1060)
	if start != 0x1000 {
		t.Fatalf("FindBackChain = %v, want 0x1000", start)
	}
}

func TestCheckDoublyLinkedFreeListsDetectsMismatch(t *testing.T) {
	arch := snapshot.Arch64LE
	ptrSize := arch.PointerSize
	b := snapshot.NewBuilder(arch)
	buf := make([]byte, 0x200)
	// two nodes at 0x1000 and 0x1040 linked in a ring, B's bk corrupted
	nodeA, nodeB := 0x000, 0x040
	arch.PutUintptr(buf[nodeA+2*ptrSize:], 0x1040) // A.fd = B
	arch.PutUintptr(buf[nodeA+3*ptrSize:], 0x1040) // A.bk = B
	arch.PutUintptr(buf[nodeB+2*ptrSize:], 0x1000) // B.fd = A
	arch.PutUintptr(buf[nodeB+3*ptrSize:], 0x1999) // B.bk corrupted: should be A
	b.AddMapping(0x1000, 0x1200, snapshot.Read|snapshot.Write, buf)
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	problems := CheckDoublyLinkedFreeLists(s, 0x1000)
	if len(problems) == 0 {
		t.Fatal("expected at least one inconsistency reported")
	}
}

func TestFixFastBinFreeStatus(t *testing.T) {
	arch := snapshot.Arch64LE
	ptrSize := arch.PointerSize
	b := snapshot.NewBuilder(arch)
	buf := make([]byte, 0x200)
	writeChunkHeader(arch, buf, 0x000, 0x20, prevInUse)
	arch.PutUintptr(buf[0x000+2*ptrSize:], 0) // fast-bin next = NULL
	b.AddMapping(0x1000, 0x1200, snapshot.Read|snapshot.Write, buf)
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := NewDirectory()
	mem := chunkToMem(s, 0x1000)
	d.AddFinder(&fakeFinder{recs: []fakeRecord{{mem, 0x10, true}}})
	d.ResolveAllocationBoundaries()

	fixFastBinFreeStatus(s, d, []snapshot.Address{0x1000})
	idx, ok := d.AllocationIndexOf(mem)
	if !ok {
		t.Fatal("expected allocation present")
	}
	if !d.AllocationAt(idx).IsFree() {
		t.Fatal("expected allocation marked free after fast-bin fixup")
	}
}
