package heapwalk

import (
	"testing"

	"github.com/memshard/memshard/diag"
	"github.com/memshard/memshard/pkg/config"
	"github.com/memshard/memshard/pkg/options"
	"github.com/memshard/memshard/snapshot"
)

func buildArenaFixture(t *testing.T) (*snapshot.Snapshot, *Partition) {
	t.Helper()
	arch := snapshot.Arch64LE
	ptrSize := arch.PointerSize
	buf := make([]byte, 0x100)
	// next field at offset 0 is self-referential: the defining trait of
	// an as-yet-unshared main arena.
	arch.PutUintptr(buf[0:], 0x4000)
	// top field at offset ptrSize points at a plausible in-bounds chunk.
	arch.PutUintptr(buf[ptrSize:], 0x4040)
	writeChunkHeader(arch, buf[0x40:], 0, 0x40, prevInUse)

	files := snapshot.NewFileMappedDirectory([]*snapshot.FileMappedRange{
		{Min: 0x4000, Max: 0x4100, File: "libc.so", FileOffset: 0},
	})
	s, err := snapshot.NewBuilder(arch).
		AddMapping(0x4000, 0x4100, snapshot.Read|snapshot.Write, buf).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return s, NewPartition(s, files, nil)
}

func TestInfraFinderSeededOffsetsSkipVoting(t *testing.T) {
	s, partition := buildArenaFixture(t)
	opts := options.NewDefaultOptions(s.Arch())
	f := NewInfraFinder(s, partition, opts, diag.NewSink(nil))
	f.SeedOffsets(&config.Overrides{ArenaNextOffset: 0, ArenaTopOffset: s.Arch().PointerSize})

	// ArenaNextOffset of 0 is indistinguishable from "not set" under
	// SeedOffsets's positive-value check, so confirm voting still finds
	// it unseeded while the top offset is taken from the override.
	f.Run()

	if len(f.Arenas()) != 1 {
		t.Fatalf("expected one arena discovered, got %d", len(f.Arenas()))
	}
	if f.topOffset != s.Arch().PointerSize {
		t.Fatalf("expected seeded top offset preserved, got %d", f.topOffset)
	}
}

func TestInfraFinderVotesWithoutOverrides(t *testing.T) {
	s, partition := buildArenaFixture(t)
	opts := options.NewDefaultOptions(s.Arch())
	f := NewInfraFinder(s, partition, opts, diag.NewSink(nil))
	f.Run()

	if len(f.Arenas()) != 1 {
		t.Fatalf("expected one arena discovered by voting, got %d", len(f.Arenas()))
	}
	if !f.Arenas()[0].IsMain {
		t.Fatal("expected the discovered arena marked as main")
	}
}

// TestInfraFinderDiscoversSecondaryArenaViaHeapScan builds a main arena
// exactly like buildArenaFixture plus a second, unlinked heap_info-headed
// region: its ar_ptr points at a secondary arena struct that the
// next-pointer ring walk never visits, since nothing in the main arena
// references it. Only the h-aligned heap scan can find it. The heap's
// declared maximum size is also set larger than the finder's starting
// max-heap-size guess, so the same run exercises the doubling correction.
func TestInfraFinderDiscoversSecondaryArenaViaHeapScan(t *testing.T) {
	arch := snapshot.Arch64LE
	ptrSize := arch.PointerSize

	mainBuf := make([]byte, 0x100)
	arch.PutUintptr(mainBuf[0:], 0x4000) // self-referential next
	arch.PutUintptr(mainBuf[ptrSize:], 0x4040)
	writeChunkHeader(arch, mainBuf, 0x40, 0x40, prevInUse)

	const heapStart = uint64(0x10000)
	const heapSize = uint64(0x1000)
	const arenaPtr = heapStart + 4*8 // ar_ptr sits right past the heap_info header

	heapBuf := make([]byte, heapSize)
	arch.PutUintptr(heapBuf[0:], arenaPtr)  // ar_ptr
	arch.PutUintptr(heapBuf[8:], 0)         // prev: this is the chain's first heap
	arch.PutUintptr(heapBuf[16:], heapSize) // size
	arch.PutUintptr(heapBuf[24:], heapSize) // mprotect_size / declared max

	files := snapshot.NewFileMappedDirectory([]*snapshot.FileMappedRange{
		{Min: 0x4000, Max: 0x4100, File: "libc.so", FileOffset: 0},
	})
	s, err := snapshot.NewBuilder(arch).
		AddMapping(0x4000, 0x4100, snapshot.Read|snapshot.Write, mainBuf).
		AddMapping(snapshot.Address(heapStart), snapshot.Address(heapStart+heapSize), snapshot.Read|snapshot.Write, heapBuf).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	partition := NewPartition(s, files, diag.NewSink(nil))

	opts := options.NewDefaultOptions(s.Arch(), options.WithMaxHeapSize(0x800))
	f := NewInfraFinder(s, partition, opts, diag.NewSink(nil))
	f.Run()

	if len(f.Arenas()) != 2 {
		t.Fatalf("expected main arena plus the heap-scan-discovered secondary arena, got %d", len(f.Arenas()))
	}
	var secondary *Arena
	for _, a := range f.Arenas() {
		if !a.IsMain {
			secondary = a
		}
	}
	if secondary == nil {
		t.Fatal("expected a non-main arena discovered via the heap scan")
	}
	if secondary.Address != snapshot.Address(arenaPtr) {
		t.Fatalf("expected secondary arena at %#x, got %#x", arenaPtr, secondary.Address)
	}

	if len(f.Heaps()) != 1 {
		t.Fatalf("expected exactly one discovered heap, got %d", len(f.Heaps()))
	}
	h := f.Heaps()[0]
	if h.Address != snapshot.Address(heapStart) || h.Size != heapSize || h.Arena != snapshot.Address(arenaPtr) {
		t.Fatalf("unexpected heap record: %+v", h)
	}

	if f.MaxHeapSize() != heapSize {
		t.Fatalf("expected max-heap-size corrected up to %#x, got %#x", heapSize, f.MaxHeapSize())
	}
}

// TestInfraFinderFindsMainArenaByDistinctivePattern builds a main arena
// whose next field is not self-referential - as if a secondary arena
// already exists and overwrote it - so the only way to find it is its
// bin array's distinctive run of empty two-word list headers.
func TestInfraFinderFindsMainArenaByDistinctivePattern(t *testing.T) {
	arch := snapshot.Arch64LE

	const base = uint64(0x20000)
	const runLists = 130
	const runStart = base + defaultBinsOffsetWords*8 // bins start right after top
	const runEnd = runStart + runLists*2*8
	const top = runEnd // top chunk sits just past the bin array
	const topSize = uint64(0x21000 - runEnd)

	size := runEnd + 0x100 - base
	buf := make([]byte, size)
	// next: deliberately NOT self-referential.
	arch.PutUintptr(buf[0:], 0x99999999)
	arch.PutUintptr(buf[defaultTopOffsetWords*8:], top)
	for i := 0; i < runLists; i++ {
		addr := runStart + uint64(i)*16
		off := addr - base
		arch.PutUintptr(buf[off:], addr)
		arch.PutUintptr(buf[off+8:], addr)
	}
	writeChunkHeader(arch, buf, int(top-base), topSize, prevInUse)

	files := snapshot.NewFileMappedDirectory([]*snapshot.FileMappedRange{
		{Min: snapshot.Address(base), Max: snapshot.Address(base + size), File: "libc.so", FileOffset: 0},
	})
	s, err := snapshot.NewBuilder(arch).
		AddMapping(snapshot.Address(base), snapshot.Address(base+size), snapshot.Read|snapshot.Write, buf).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	partition := NewPartition(s, files, diag.NewSink(nil))
	opts := options.NewDefaultOptions(s.Arch())
	f := NewInfraFinder(s, partition, opts, diag.NewSink(nil))
	f.Run()

	if len(f.Arenas()) != 1 {
		t.Fatalf("expected exactly one arena found by its bin pattern, got %d", len(f.Arenas()))
	}
	if !f.Arenas()[0].IsMain {
		t.Fatal("expected the pattern-discovered arena marked as main")
	}
	if f.Arenas()[0].Address != snapshot.Address(base) {
		t.Fatalf("expected arena at %#x, got %#x", base, f.Arenas()[0].Address)
	}
}
