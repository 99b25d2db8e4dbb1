package heapwalk

import (
	"testing"

	"github.com/memshard/memshard/snapshot"
)

// fakeFinder replays a fixed list of (address, size, used) records.
type fakeFinder struct {
	recs []fakeRecord
	i    int
	min  uint64
}

type fakeRecord struct {
	addr snapshot.Address
	size uint64
	used bool
}

func (f *fakeFinder) Finished() bool                  { return f.i >= len(f.recs) }
func (f *fakeFinder) NextAddress() snapshot.Address   { return f.recs[f.i].addr }
func (f *fakeFinder) NextSize() uint64                { return f.recs[f.i].size }
func (f *fakeFinder) NextIsUsed() bool                { return f.recs[f.i].used }
func (f *fakeFinder) Advance()                        { f.i++ }
func (f *fakeFinder) MinRequestSize() uint64          { return f.min }

func TestDirectoryOneWay(t *testing.T) {
	d := NewDirectory()
	f := &fakeFinder{recs: []fakeRecord{
		{0x1000, 0x20, true},
		{0x1020, 0x30, false},
	}}
	if err := d.AddFinder(f); err != nil {
		t.Fatal(err)
	}
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	if d.NumAllocations() != 2 {
		t.Fatalf("expected 2 allocations, got %d", d.NumAllocations())
	}
	a0 := d.AllocationAt(0)
	if a0.Address != 0x1000 || a0.Size() != 0x20 || !a0.IsUsed() {
		t.Fatalf("unexpected allocation 0: %+v", a0)
	}
	a1 := d.AllocationAt(1)
	if a1.IsUsed() {
		t.Fatal("allocation 1 should be free")
	}
}

func TestDirectoryTwoWayInterleave(t *testing.T) {
	d := NewDirectory()
	f0 := &fakeFinder{recs: []fakeRecord{{0x1000, 0x10, true}, {0x3000, 0x10, true}}}
	f1 := &fakeFinder{recs: []fakeRecord{{0x2000, 0x10, true}, {0x4000, 0x10, true}}}
	d.AddFinder(f0)
	d.AddFinder(f1)
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	want := []snapshot.Address{0x1000, 0x2000, 0x3000, 0x4000}
	for i, w := range want {
		if d.AllocationAt(i).Address != w {
			t.Fatalf("allocation %d address = %v, want %v", i, d.AllocationAt(i).Address, w)
		}
	}
}

func TestDirectoryTwoWaySameAddressLargerBecomesWrapper(t *testing.T) {
	d := NewDirectory()
	// f0 reports the smaller allocation at the shared address; f1 reports
	// the larger one. Registration order must not decide which becomes
	// the wrapper: size does.
	f0 := &fakeFinder{recs: []fakeRecord{{0x1000, 0x10, true}}}
	f1 := &fakeFinder{recs: []fakeRecord{{0x1000, 0x100, true}}}
	d.AddFinder(f0)
	d.AddFinder(f1)
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	if d.NumAllocations() != 2 {
		t.Fatalf("expected 2 allocations, got %d", d.NumAllocations())
	}
	larger, smaller := d.AllocationAt(0), d.AllocationAt(1)
	if larger.Size() != 0x100 || !larger.IsWrapper() {
		t.Fatalf("expected the larger allocation first and marked wrapper: %+v", larger)
	}
	if smaller.Size() != 0x10 || !smaller.IsWrapped() {
		t.Fatalf("expected the smaller allocation second and marked wrapped: %+v", smaller)
	}
}

func TestDirectoryNWaySameAddressLargerBecomesWrapper(t *testing.T) {
	d := NewDirectory()
	finders := []*fakeFinder{
		{recs: []fakeRecord{{0x1000, 0x10, true}}},
		{recs: []fakeRecord{{0x2000, 0x10, true}}},
		{recs: []fakeRecord{{0x1000, 0x100, true}}},
	}
	for _, f := range finders {
		d.AddFinder(f)
	}
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	larger, smaller := d.AllocationAt(0), d.AllocationAt(1)
	if larger.Size() != 0x100 || !larger.IsWrapper() {
		t.Fatalf("expected the larger allocation first and marked wrapper: %+v", larger)
	}
	if smaller.Size() != 0x10 || !smaller.IsWrapped() {
		t.Fatalf("expected the smaller allocation second and marked wrapped: %+v", smaller)
	}
}

func TestDirectoryNWayMerge(t *testing.T) {
	d := NewDirectory()
	finders := []*fakeFinder{
		{recs: []fakeRecord{{0x1000, 0x10, true}}},
		{recs: []fakeRecord{{0x2000, 0x10, true}}},
		{recs: []fakeRecord{{0x1500, 0x10, true}}},
		{recs: []fakeRecord{{0x500, 0x10, true}}},
	}
	for _, f := range finders {
		d.AddFinder(f)
	}
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	want := []snapshot.Address{0x500, 0x1000, 0x1500, 0x2000}
	for i, w := range want {
		if d.AllocationAt(i).Address != w {
			t.Fatalf("allocation %d address = %v, want %v", i, d.AllocationAt(i).Address, w)
		}
	}
}

func TestDirectoryWrapperNesting(t *testing.T) {
	d := NewDirectory()
	f := &fakeFinder{recs: []fakeRecord{
		{0x1000, 0x100, true}, // outer wrapper
		{0x1010, 0x20, true},  // nested, wrapped
		{0x1100, 0x10, true},  // sibling, after outer closes
	}}
	d.AddFinder(f)
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	if !d.AllocationAt(0).IsWrapper() {
		t.Fatal("expected allocation 0 to be marked wrapper")
	}
	if !d.AllocationAt(1).IsWrapped() {
		t.Fatal("expected allocation 1 to be marked wrapped")
	}
	if d.AllocationAt(2).IsWrapped() || d.AllocationAt(2).IsWrapper() {
		t.Fatal("allocation 2 should be plain")
	}
}

func TestAllocationIndexOf(t *testing.T) {
	d := NewDirectory()
	f := &fakeFinder{recs: []fakeRecord{{0x1000, 0x10, true}, {0x2000, 0x10, true}}}
	d.AddFinder(f)
	d.ResolveAllocationBoundaries()
	if i, ok := d.AllocationIndexOf(0x1005); !ok || i != 0 {
		t.Fatalf("AllocationIndexOf(0x1005) = %d,%v", i, ok)
	}
	if _, ok := d.AllocationIndexOf(0x1800); ok {
		t.Fatal("expected miss in gap")
	}
}

func TestDirectoryTooManyFinders(t *testing.T) {
	d := NewDirectory()
	for i := 0; i < maxFinders; i++ {
		if err := d.AddFinder(&fakeFinder{}); err != nil {
			t.Fatalf("unexpected error at finder %d: %v", i, err)
		}
	}
	if err := d.AddFinder(&fakeFinder{}); err == nil {
		t.Fatal("expected error exceeding max finders")
	}
}

func TestDirectoryResolveTwice(t *testing.T) {
	d := NewDirectory()
	d.AddFinder(&fakeFinder{})
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatal(err)
	}
	if err := d.ResolveAllocationBoundaries(); err == nil {
		t.Fatal("expected error resolving twice")
	}
}

func TestResolutionDoneCallback(t *testing.T) {
	d := NewDirectory()
	d.AddFinder(&fakeFinder{})
	called := false
	d.AddResolutionDoneCallback(func() { called = true })
	d.ResolveAllocationBoundaries()
	if !called {
		t.Fatal("expected resolution-done callback to fire")
	}
}
