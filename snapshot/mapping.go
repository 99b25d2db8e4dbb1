package snapshot

import "golang.org/x/sys/unix"

// Perm is a bitmask of memory protection flags.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	r, w, x := "-", "-", "-"
	if p&Read != 0 {
		r = "r"
	}
	if p&Write != 0 {
		w = "w"
	}
	if p&Exec != 0 {
		x = "x"
	}
	return r + w + x
}

// Mapping describes one contiguous region of the address space.
type Mapping struct {
	Min, Max Address
	Perm     Perm
	Contents []byte // nil for a hole with no backing bytes
}

// Size returns the mapping's length in bytes.
func (m *Mapping) Size() int64 {
	return m.Max.Sub(m.Min)
}

var pageSize = uint64(unix.Getpagesize())

// PageSize reports the host's page size, which the mapping table also
// uses to validate mapping alignment.
func PageSize() uint64 { return pageSize }

// the address space is split into a 5-level radix lookup, mirroring the
// teacher's pageTable0..pageTable4: 12 bits top, then four 10-bit levels,
// terminating at a 4096-byte leaf.
const (
	level0Bits = 12
	levelNBits = 10
	leafBits   = 12
)

type pageTable0 [1 << level0Bits]*pageTable1
type pageTable1 [1 << levelNBits]*pageTable2
type pageTable2 [1 << levelNBits]*pageTable3
type pageTable3 [1 << levelNBits]*pageTable4
type pageTable4 [1 << levelNBits]*Mapping

func index(a Address, shift, bits uint) uint64 {
	return (uint64(a) >> shift) & ((1 << bits) - 1)
}

func (t *pageTable0) find(a Address) *Mapping {
	t1 := t[index(a, level0Bits+4*levelNBits, level0Bits)]
	if t1 == nil {
		return nil
	}
	t2 := t1[index(a, level0Bits+3*levelNBits, levelNBits)]
	if t2 == nil {
		return nil
	}
	t3 := t2[index(a, level0Bits+2*levelNBits, levelNBits)]
	if t3 == nil {
		return nil
	}
	t4 := t3[index(a, level0Bits+1*levelNBits, levelNBits)]
	if t4 == nil {
		return nil
	}
	return t4[index(a, leafBits, levelNBits)]
}

func (t *pageTable0) add(m *Mapping) error {
	if uint64(m.Min)%pageSize != 0 || uint64(m.Max)%pageSize != 0 {
		return errUnalignedMapping
	}
	for a := m.Min; a < m.Max; a += Address(pageSize) {
		i0 := index(a, level0Bits+4*levelNBits, level0Bits)
		t1 := t[i0]
		if t1 == nil {
			t1 = new(pageTable1)
			t[i0] = t1
		}
		i1 := index(a, level0Bits+3*levelNBits, levelNBits)
		t2 := t1[i1]
		if t2 == nil {
			t2 = new(pageTable2)
			t1[i1] = t2
		}
		i2 := index(a, level0Bits+2*levelNBits, levelNBits)
		t3 := t2[i2]
		if t3 == nil {
			t3 = new(pageTable3)
			t2[i2] = t3
		}
		i3 := index(a, level0Bits+1*levelNBits, levelNBits)
		t4 := t3[i3]
		if t4 == nil {
			t4 = new(pageTable4)
			t3[i3] = t4
		}
		t4[index(a, leafBits, levelNBits)] = m
	}
	return nil
}
