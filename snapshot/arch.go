package snapshot

import "encoding/binary"

// Architecture parameterizes the engine over pointer width and byte order
// so the same allocator logic runs against 32-bit and 64-bit glibc builds.
type Architecture struct {
	PointerSize int
	ByteOrder   binary.ByteOrder
}

// Arch64LE is the common case: a little-endian 64-bit target.
var Arch64LE = Architecture{PointerSize: 8, ByteOrder: binary.LittleEndian}

// Arch32LE is a little-endian 32-bit target.
var Arch32LE = Architecture{PointerSize: 4, ByteOrder: binary.LittleEndian}

// Uintptr reads a pointer-sized unsigned value out of b using the
// architecture's byte order. len(b) must be at least PointerSize.
func (a Architecture) Uintptr(b []byte) uint64 {
	if a.PointerSize == 4 {
		return uint64(a.ByteOrder.Uint32(b))
	}
	return a.ByteOrder.Uint64(b)
}

// PutUintptr writes a pointer-sized unsigned value into b.
func (a Architecture) PutUintptr(b []byte, v uint64) {
	if a.PointerSize == 4 {
		a.ByteOrder.PutUint32(b, uint32(v))
		return
	}
	a.ByteOrder.PutUint64(b, v)
}
