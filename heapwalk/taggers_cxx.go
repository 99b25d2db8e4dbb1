package heapwalk

import "github.com/memshard/memshard/snapshot"

// cxxLongStringTagger recognizes an allocation that is just a
// std::string's heap-allocated character buffer: the short-string
// optimization means such an allocation only exists once the string
// outgrows its inline capacity, so the buffer itself carries no
// separate header, only the bytes plus a terminating NUL.
type cxxLongStringTagger struct{ taggerID }

func (*cxxLongStringTagger) Name() string                   { return "cxx_string" }
func (*cxxLongStringTagger) IsStrong() bool                  { return false }
func (*cxxLongStringTagger) SupportsFavoredReferences() bool { return false }

func (t *cxxLongStringTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != QuickInitialCheck {
		return true
	}
	a := ctx.Dir.AllocationAt(i)
	size := a.Size()
	if size == 0 || size > 1<<20 {
		return true
	}
	buf := make([]byte, size)
	if !ctx.Snap.ReadAt(buf, a.Address) {
		return true
	}
	if buf[size-1] != 0 {
		return true
	}
	for _, b := range buf[:size-1] {
		if b < 0x09 || (b > 0x0d && b < 0x20) || b == 0x7f {
			return true
		}
	}
	ctx.Tags.TagAllocation(i, t.tagIndex())
	return true
}

func (*cxxLongStringTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// cowStringTagger recognizes the older libstdc++ copy-on-write string
// representation: a control block of {length, capacity, refcount}
// immediately preceding the character data, all in one allocation.
type cowStringTagger struct{ taggerID }

func (*cowStringTagger) Name() string                   { return "cxx_cow_string" }
func (*cowStringTagger) IsStrong() bool                  { return false }
func (*cowStringTagger) SupportsFavoredReferences() bool { return false }

func (t *cowStringTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != MediumCheck {
		return phase == QuickInitialCheck
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	header := 3 * ptrSize
	if a.Size() <= header {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	length, ok1 := img.Uintptr(0)
	capacity, ok2 := img.Uintptr(ptrSize)
	if !ok1 || !ok2 || length > capacity || capacity != a.Size()-header-1 {
		return true
	}
	ctx.Tags.TagAllocation(i, t.tagIndex())
	return true
}

func (*cowStringTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// dequeMapTagger recognizes a std::deque's internal map: an array of
// pointers to same-sized fixed buffers.
type dequeMapTagger struct{ taggerID }

func (*dequeMapTagger) Name() string                   { return "cxx_deque_map" }
func (*dequeMapTagger) IsStrong() bool                  { return false }
func (*dequeMapTagger) SupportsFavoredReferences() bool { return true }

func (t *dequeMapTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != SlowCheck {
		return false
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	n := a.Size() / ptrSize
	if n < 2 || n > 4096 {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	var bufSize uint64
	matches := 0
	for k := uint64(0); k < n; k++ {
		v, ok := img.Uintptr(k * ptrSize)
		if !ok || v == 0 {
			continue
		}
		idx, ok := ctx.Dir.AllocationIndexOf(snapshot.Address(v))
		if !ok {
			continue
		}
		target := ctx.Dir.AllocationAt(idx)
		if bufSize == 0 {
			bufSize = target.Size()
		}
		if target.Size() == bufSize {
			matches++
		}
	}
	if matches >= 2 {
		ctx.Tags.TagAllocation(i, t.tagIndex())
	}
	return true
}

func (*dequeMapTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// MarkFavoredReferences flags every outgoing edge from a tagged deque
// map to one of its fixed-size buffers as favored: these are the
// references a summarizer should follow to reach the deque's element
// storage, as opposed to any other pointer-shaped word the map slot
// happens to resolve to.
func (t *dequeMapTagger) MarkFavoredReferences(ctx *TagContext, i int) {
	if ctx.Tags.GetTagIndex(i) != t.tagIndex() {
		return
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	n := a.Size() / ptrSize
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	var bufSize uint64
	for k := uint64(0); k < n; k++ {
		v, ok := img.Uintptr(k * ptrSize)
		if !ok || v == 0 {
			continue
		}
		idx, ok := ctx.Dir.AllocationIndexOf(snapshot.Address(v))
		if !ok {
			continue
		}
		if size := ctx.Dir.AllocationAt(idx).Size(); bufSize == 0 {
			bufSize = size
		}
	}
	if bufSize == 0 {
		return
	}
	ctx.Graph.ForEachOutgoing(i, func(slot, target int) bool {
		if ctx.Dir.AllocationAt(target).Size() == bufSize {
			ctx.Graph.MarkFavoredFrom(i, target)
		}
		return true
	})
}

// rbTreeNodeTagger recognizes a std::map/std::set red-black tree by its
// header: {color, root, leftmost, rightmost} followed, conventionally,
// by a node count. A lone node looks like any other four-pointer
// struct, so this tagger only ever renders a verdict on the header
// allocation, then walks the whole tree from root to confirm every
// node's parent link is consistent, the walk terminates, and both the
// recorded leftmost and rightmost nodes are actually reached — at which
// point the header and every node it found are tagged together. The
// node count is not read, and the number of nodes reached is not
// compared against it.
type rbTreeNodeTagger struct{ taggerID }

const rbHeaderSizeInWords = 4 // color, root, leftmost, rightmost
const rbMaxDepth = 128        // generous bound on a balanced tree's height

func (*rbTreeNodeTagger) Name() string                   { return "cxx_rb_tree_node" }
func (*rbTreeNodeTagger) IsStrong() bool                  { return true }
func (*rbTreeNodeTagger) SupportsFavoredReferences() bool { return true }

func (t *rbTreeNodeTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if ctx.Tags.IsStronglyTagged(i) {
		return true
	}
	if phase != SlowCheck {
		return false
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	if a.Size() < rbHeaderSizeInWords*ptrSize {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	color, ok := img.Uintptr(0)
	if !ok || color&^1 != 0 {
		return true
	}
	root, ok := img.Uintptr(ptrSize)
	if !ok || root == 0 || root%ptrSize != 0 {
		return true
	}
	leftmost, ok := img.Uintptr(2 * ptrSize)
	if !ok || leftmost == 0 || leftmost%ptrSize != 0 {
		return true
	}
	rightmost, ok := img.Uintptr(3 * ptrSize)
	if !ok || rightmost == 0 || rightmost%ptrSize != 0 {
		return true
	}
	rootIdx, ok := ctx.Dir.AllocationIndexOf(snapshot.Address(root))
	if !ok {
		return true
	}
	t.tagTree(ctx, i, a.Address, snapshot.Address(root), rootIdx,
		snapshot.Address(leftmost), snapshot.Address(rightmost))
	return true
}

func (*rbTreeNodeTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// rbNode is one node discovered during a successful tree walk, kept
// around so tags and favored-reference flags are only ever applied
// once the whole tree has validated.
type rbNode struct {
	idx        int
	parentNode int // index into the nodes slice, or -1 for the root
}

// tagTree walks the tree rooted at root, validating every node's color
// and parent link and collecting every node reached, then tags the
// header and every node and marks each parent/child edge (plus the
// header's edge to root) favored, but only if leftmost and rightmost
// were both actually visited during the walk.
func (t *rbTreeNodeTagger) tagTree(ctx *TagContext, headerIdx int, headerAddr, rootAddr snapshot.Address, rootIdx int, leftmost, rightmost snapshot.Address) {
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	var nodes []rbNode
	seen := map[snapshot.Address]bool{}
	var leftmostSeen, rightmostSeen bool

	var walk func(addr snapshot.Address, idx int, parentAddr snapshot.Address, parentNode, depth int) bool
	walk = func(addr snapshot.Address, idx int, parentAddr snapshot.Address, parentNode, depth int) bool {
		if depth > rbMaxDepth || seen[addr] {
			return false
		}
		seen[addr] = true
		a := ctx.Dir.AllocationAt(idx)
		if a.Address != addr || a.Size() < rbHeaderSizeInWords*ptrSize {
			return false
		}
		img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
		color, ok := img.Uintptr(0)
		if !ok || color&^1 != 0 {
			return false
		}
		parent, ok := img.Uintptr(ptrSize)
		if !ok || snapshot.Address(parent) != parentAddr {
			return false
		}
		if addr == leftmost {
			leftmostSeen = true
		}
		if addr == rightmost {
			rightmostSeen = true
		}
		self := len(nodes)
		nodes = append(nodes, rbNode{idx: idx, parentNode: parentNode})

		left, _ := img.Uintptr(2 * ptrSize)
		if left != 0 {
			if left%ptrSize != 0 {
				return false
			}
			li, ok := ctx.Dir.AllocationIndexOf(snapshot.Address(left))
			if !ok || !walk(snapshot.Address(left), li, addr, self, depth+1) {
				return false
			}
		}
		right, _ := img.Uintptr(3 * ptrSize)
		if right != 0 {
			if right%ptrSize != 0 {
				return false
			}
			ri, ok := ctx.Dir.AllocationIndexOf(snapshot.Address(right))
			if !ok || !walk(snapshot.Address(right), ri, addr, self, depth+1) {
				return false
			}
		}
		return true
	}

	if !walk(rootAddr, rootIdx, headerAddr, -1, 0) {
		return
	}
	if !leftmostSeen || !rightmostSeen {
		return
	}

	ctx.Tags.TagAllocation(headerIdx, t.tagIndex())
	for _, n := range nodes {
		ctx.Tags.TagAllocation(n.idx, t.tagIndex())
	}
	ctx.Graph.MarkFavoredFrom(headerIdx, rootIdx)
	for _, n := range nodes {
		if n.parentNode < 0 {
			continue
		}
		ctx.Graph.MarkFavoredFrom(nodes[n.parentNode].idx, n.idx)
	}
}

// unorderedMapBucketsTagger recognizes a hash table's bucket array: a
// power-of-two-sized pointer array where the non-null entries point at
// variably sized node allocations, not at fixed-size buffers (which
// would instead indicate a deque map).
type unorderedMapBucketsTagger struct{ taggerID }

func (*unorderedMapBucketsTagger) Name() string                   { return "cxx_unordered_map_buckets" }
func (*unorderedMapBucketsTagger) IsStrong() bool                  { return false }
func (*unorderedMapBucketsTagger) SupportsFavoredReferences() bool { return true }

func (t *unorderedMapBucketsTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != SlowCheck {
		return false
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	n := a.Size() / ptrSize
	if n < 4 || n&(n-1) != 0 {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	sizes := map[uint64]int{}
	nonNull := 0
	for k := uint64(0); k < n; k++ {
		v, ok := img.Uintptr(k * ptrSize)
		if !ok || v == 0 {
			continue
		}
		nonNull++
		idx, ok := ctx.Dir.AllocationIndexOf(snapshot.Address(v))
		if ok {
			sizes[ctx.Dir.AllocationAt(idx).Size()]++
		}
	}
	if nonNull >= 2 && len(sizes) >= 2 {
		ctx.Tags.TagAllocation(i, t.tagIndex())
	}
	return true
}

func (*unorderedMapBucketsTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// MarkFavoredReferences flags every non-null bucket entry of a tagged
// hash table as a favored reference to its node allocation: these are
// the edges that actually reach live elements, as opposed to whatever
// else a stale or reinterpreted bucket slot might resolve to.
func (t *unorderedMapBucketsTagger) MarkFavoredReferences(ctx *TagContext, i int) {
	if ctx.Tags.GetTagIndex(i) != t.tagIndex() {
		return
	}
	ctx.Graph.ForEachOutgoing(i, func(slot, target int) bool {
		ctx.Graph.MarkFavoredFrom(i, target)
		return true
	})
}

// listNodeTagger recognizes a std::list node: a pair of leading
// next/prev pointers, each pointing at another allocation of the same
// size. Unlike the other container taggers, a list node is only
// recognizable from the allocations it points at, since a node's own
// header looks like any other two-pointer-prefixed struct.
type listNodeTagger struct{ taggerID }

func (*listNodeTagger) Name() string                   { return "cxx_list_node" }
func (*listNodeTagger) IsStrong() bool                  { return false }
func (*listNodeTagger) SupportsFavoredReferences() bool { return false }

func (t *listNodeTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	if phase != MediumCheck {
		return phase == QuickInitialCheck
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	if a.Size() < 2*ptrSize {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	next, ok1 := img.Uintptr(0)
	prev, ok2 := img.Uintptr(ptrSize)
	if !ok1 || !ok2 || next == 0 || prev == 0 {
		return true
	}
	ni, ok1 := ctx.Dir.AllocationIndexOf(snapshot.Address(next))
	pi, ok2 := ctx.Dir.AllocationIndexOf(snapshot.Address(prev))
	if ok1 && ok2 && ctx.Dir.AllocationAt(ni).Size() == a.Size() && ctx.Dir.AllocationAt(pi).Size() == a.Size() {
		ctx.Tags.TagAllocation(i, t.tagIndex())
	}
	return true
}

func (*listNodeTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	return true
}
