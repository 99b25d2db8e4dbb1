package heapwalk

import (
	"github.com/memshard/memshard/diag"
	"github.com/memshard/memshard/rangemap"
	"github.com/memshard/memshard/snapshot"
)

// ClaimKind labels a claimed range of the address space with the
// component that explained it.
type ClaimKind int

const (
	ClaimUnknown ClaimKind = iota
	ClaimStack
	ClaimHeapArena
	ClaimMainArena
	ClaimMmappedAllocation
	ClaimModule
)

// Partition classifies every byte of the address map as either claimed
// (some component has explained it) or unclaimed, bucketed by
// permission. Each allocator infrastructure finder claims the ranges it
// recognizes; whatever remains unclaimed at the end is reported as
// unknown, per spec: claiming is how componentized finders avoid
// double-counting the same bytes.
type Partition struct {
	snap *snapshot.Snapshot
	diag *diag.Sink

	unclaimedWritable     *rangemap.Mapper[struct{}]
	unclaimedExecOnly     *rangemap.Mapper[struct{}]
	unclaimedReadOnly     *rangemap.Mapper[struct{}]
	unclaimedInaccessible *rangemap.Mapper[struct{}]

	// unclaimedWritableWithImages tracks writable ranges that are also
	// backed by file contents (not anonymous), used to seed static
	// anchor candidates.
	unclaimedWritableWithImages *rangemap.Mapper[struct{}]
	staticAnchorCandidates      *rangemap.Mapper[struct{}]

	claimed *rangemap.Mapper[ClaimKind]
}

// NewPartition classifies every mapping in snap's address map into the
// appropriate unclaimed bucket. A nil sink is replaced with a no-op one.
func NewPartition(snap *snapshot.Snapshot, files *snapshot.FileMappedDirectory, sink *diag.Sink) *Partition {
	if sink == nil {
		sink = diag.NewSink(nil)
	}
	p := &Partition{
		snap:                        snap,
		diag:                        sink,
		unclaimedWritable:           rangemap.New[struct{}](),
		unclaimedExecOnly:           rangemap.New[struct{}](),
		unclaimedReadOnly:           rangemap.New[struct{}](),
		unclaimedInaccessible:       rangemap.New[struct{}](),
		unclaimedWritableWithImages: rangemap.New[struct{}](),
		staticAnchorCandidates:      rangemap.New[struct{}](),
		claimed:                     rangemap.New[ClaimKind](),
	}
	for _, m := range snap.Mappings() {
		base, size := uint64(m.Min), uint64(m.Size())
		switch {
		case m.Perm&snapshot.Write != 0:
			p.unclaimedWritable.MapRange(base, size, struct{}{})
			if files != nil {
				if _, ok := files.Find(m.Min); ok {
					p.unclaimedWritableWithImages.MapRange(base, size, struct{}{})
					p.staticAnchorCandidates.MapRange(base, size, struct{}{})
				}
			}
		case m.Perm&snapshot.Exec != 0:
			p.unclaimedExecOnly.MapRange(base, size, struct{}{})
		case m.Perm&snapshot.Read != 0:
			p.unclaimedReadOnly.MapRange(base, size, struct{}{})
		default:
			p.unclaimedInaccessible.MapRange(base, size, struct{}{})
		}
	}
	return p
}

func (p *Partition) unclaimedBucketFor(perm snapshot.Perm) *rangemap.Mapper[struct{}] {
	switch {
	case perm&snapshot.Write != 0:
		return p.unclaimedWritable
	case perm&snapshot.Exec != 0:
		return p.unclaimedExecOnly
	case perm&snapshot.Read != 0:
		return p.unclaimedReadOnly
	default:
		return p.unclaimedInaccessible
	}
}

// ClaimRange moves [base,base+size) from its unclaimed bucket to the
// claimed map under kind. If the range isn't represented in the address
// map at all (a hole), it is claimed anyway without touching any
// unclaimed bucket. If staticAnchorCandidate is false, the range is
// removed from the static-anchor-candidate set even if it was present.
//
// It reports false, and an inconsistency to the diagnostic sink, if
// [base,base+size) overlaps a range some other subsystem already
// claimed; the unclaimed buckets are left untouched in that case.
func (p *Partition) ClaimRange(base, size uint64, kind ClaimKind, staticAnchorCandidate bool) bool {
	if !p.claimed.MapRange(base, size, kind) {
		p.diag.Inconsistency("partition", "reason", "overlapping claim of the same byte range",
			"base", base, "size", size, "kind", kind)
		return false
	}
	m := p.snap.FindMapping(snapshot.Address(base))
	if m != nil {
		bucket := p.unclaimedBucketFor(m.Perm)
		bucket.UnmapRange(base, size)
	}
	if !staticAnchorCandidate {
		p.staticAnchorCandidates.UnmapRange(base, size)
	}
	return true
}

// ClaimUnclaimedRangesAsUnknown sweeps every remaining unclaimed byte
// into the claimed map as ClaimUnknown, so a final summary can report
// total coverage.
func (p *Partition) ClaimUnclaimedRangesAsUnknown() {
	for _, bucket := range []*rangemap.Mapper[struct{}]{
		p.unclaimedWritable, p.unclaimedExecOnly, p.unclaimedReadOnly, p.unclaimedInaccessible,
	} {
		var ranges [][2]uint64
		bucket.VisitRanges(func(base, size uint64, _ struct{}) bool {
			ranges = append(ranges, [2]uint64{base, size})
			return true
		})
		for _, r := range ranges {
			p.claimed.MapRange(r[0], r[1], ClaimUnknown)
			bucket.UnmapRange(r[0], r[1])
		}
	}
}

// ClaimKindAt returns the claim kind at address a, if the byte has been
// claimed.
func (p *Partition) ClaimKindAt(a snapshot.Address) (ClaimKind, bool) {
	return p.claimed.Find(uint64(a))
}

// IsStaticAnchorCandidate reports whether a lies in a writable, imaged
// range that hasn't been claimed by something that rules out static
// anchors (e.g. an mmapped heap arena).
func (p *Partition) IsStaticAnchorCandidate(a snapshot.Address) bool {
	_, ok := p.staticAnchorCandidates.Find(uint64(a))
	return ok
}

// VisitUnclaimedWritable visits every remaining unclaimed writable range.
func (p *Partition) VisitUnclaimedWritable(fn func(base, size uint64) bool) {
	p.unclaimedWritable.VisitRanges(func(base, size uint64, _ struct{}) bool { return fn(base, size) })
}
