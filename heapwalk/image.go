package heapwalk

import "github.com/memshard/memshard/snapshot"

// ContiguousImage is a read view over one allocation's bytes, used by
// taggers that need to scan an allocation's contents without repeatedly
// walking the snapshot's mapping lookup. It reads lazily and caches
// nothing across allocations: taggers are expected to request a fresh
// image per allocation.
type ContiguousImage struct {
	snap  *snapshot.Snapshot
	base  snapshot.Address
	size  uint64
}

// NewContiguousImage returns an image over [addr, addr+size).
func NewContiguousImage(snap *snapshot.Snapshot, addr snapshot.Address, size uint64) *ContiguousImage {
	return &ContiguousImage{snap: snap, base: addr, size: size}
}

// Size returns the image's length in bytes.
func (c *ContiguousImage) Size() uint64 { return c.size }

// ReadAt copies len(b) bytes from offset off within the image into b. It
// reports false if any requested byte falls outside the image or is
// unmapped.
func (c *ContiguousImage) ReadAt(b []byte, off uint64) bool {
	if off+uint64(len(b)) > c.size {
		return false
	}
	return c.snap.ReadAt(b, c.base.Add(int64(off)))
}

// Uintptr reads one pointer-sized value at byte offset off.
func (c *ContiguousImage) Uintptr(off uint64) (uint64, bool) {
	buf := make([]byte, c.snap.Arch().PointerSize)
	if !c.ReadAt(buf, off) {
		return 0, false
	}
	return c.snap.Arch().Uintptr(buf), true
}

// FirstPointer is a convenience for the common "what is the first word"
// check many taggers and the signature directory perform.
func (c *ContiguousImage) FirstPointer() (snapshot.Address, bool) {
	v, ok := c.Uintptr(0)
	return snapshot.Address(v), ok
}
