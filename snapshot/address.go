// Package snapshot provides a read-only, already-parsed view of a process
// address space: memory mappings, threads, and loaded modules. It has no
// knowledge of ELF, core-dump formats, or debug info; callers construct a
// Snapshot from whatever source they have (a real core reader, a test
// fixture) through Builder.
package snapshot

import "fmt"

// Address is a location in the snapshot's address space.
type Address uint64

// Add returns a+delta, wrapping per standard unsigned arithmetic.
func (a Address) Add(delta int64) Address {
	return Address(int64(a) + delta)
}

// Sub returns the signed byte distance from b to a (a-b).
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}

// Align rounds a down to the nearest multiple of n, which must be a power of two.
func (a Address) Align(n uint64) Address {
	return Address(uint64(a) &^ (n - 1))
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
