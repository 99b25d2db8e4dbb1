package snapshot

import "github.com/memshard/memshard/rangemap"

// FileMappedRange records that [Min,Max) in the address space is backed
// by bytes at FileOffset in the named backing file, rather than by
// anonymous or swapped memory. The heap-walk partition uses it to treat
// writable file-backed ranges as static-anchor candidates.
type FileMappedRange struct {
	Min, Max   Address
	File       string
	FileOffset int64
}

// FileMappedDirectory answers "what file, if any, backs this address" in
// O(log n) via a rangemap keyed by address.
type FileMappedDirectory struct {
	byAddr *rangemap.Mapper[*FileMappedRange]
}

// NewFileMappedDirectory builds a directory from the given ranges. Ranges
// must not overlap.
func NewFileMappedDirectory(ranges []*FileMappedRange) *FileMappedDirectory {
	d := &FileMappedDirectory{byAddr: rangemap.New[*FileMappedRange]()}
	for _, r := range ranges {
		d.byAddr.MapRange(uint64(r.Min), uint64(r.Max-r.Min), r)
	}
	return d
}

// Find returns the file-mapped range covering a, if any.
func (d *FileMappedDirectory) Find(a Address) (*FileMappedRange, bool) {
	return d.byAddr.Find(uint64(a))
}
