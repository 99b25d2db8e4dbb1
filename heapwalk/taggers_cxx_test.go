package heapwalk

import (
	"testing"

	"github.com/memshard/memshard/snapshot"
)

// buildCxxTagContext lays out a single mapping and a set of allocations
// (each {addr, size}) over it, then returns a ready-to-use TagContext.
func buildCxxTagContext(t *testing.T, base, limit snapshot.Address, setup func(contents []byte), recs []fakeRecord) *TagContext {
	t.Helper()
	b := snapshot.NewBuilder(snapshot.Arch64LE)
	contents := make([]byte, uint64(limit-base))
	if setup != nil {
		setup(contents)
	}
	b.AddMapping(base, limit, snapshot.Read|snapshot.Write, contents)
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := NewDirectory()
	d.AddFinder(&fakeFinder{recs: recs})
	if err := d.ResolveAllocationBoundaries(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	g := BuildGraph(s, d)
	return &TagContext{
		Snap:  s,
		Dir:   d,
		Graph: g,
		Tags:  NewTagHolder(g, d.NumAllocations()),
		Sig:   NewSignatureDirectory(nil),
	}
}

func putPtr(contents []byte, off uint64, v uint64) {
	snapshot.Arch64LE.PutUintptr(contents[off:], v)
}

func TestDequeMapTaggerMarksFavoredBuffersOnly(t *testing.T) {
	// map at 0x1000 (three pointer slots): two to a 0x40 buffer, one to a
	// differently sized allocation that should not be favored.
	ctx := buildCxxTagContext(t, 0x1000, 0x4000, func(c []byte) {
		putPtr(c, 0x000, 0x2000) // map[0] -> buffer (0x40)
		putPtr(c, 0x008, 0x2000) // map[1] repeats -> counts toward the match vote
		putPtr(c, 0x010, 0x3000) // map[2] -> other allocation (0x20)
	}, []fakeRecord{
		{0x1000, 0x18, true},
		{0x2000, 0x40, true},
		{0x3000, 0x20, true},
	})
	tagger := &dequeMapTagger{}
	idx, err := ctx.Tags.RegisterTag(tagger.Name(), tagger.IsStrong(), tagger.SupportsFavoredReferences())
	if err != nil {
		t.Fatal(err)
	}
	tagger.setTagIndex(idx)

	mapIdx, _ := ctx.Dir.AllocationIndexOf(0x1000)
	bufIdx, _ := ctx.Dir.AllocationIndexOf(0x2000)

	if !tagger.TagFromAllocations(ctx, SlowCheck, mapIdx, true) {
		t.Fatal("expected TagFromAllocations to finish at SlowCheck")
	}
	if ctx.Tags.GetTagIndex(mapIdx) != idx {
		t.Fatal("expected map allocation tagged as deque map")
	}

	tagger.MarkFavoredReferences(ctx, mapIdx)
	found := false
	for s := 0; s < ctx.Graph.NumIncoming(bufIdx); s++ {
		if ctx.Graph.IsFavoredIncoming(bufIdx, s) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected buffer's incoming edge from the map marked favored")
	}
	otherIdx, _ := ctx.Dir.AllocationIndexOf(0x3000)
	for s := 0; s < ctx.Graph.NumIncoming(otherIdx); s++ {
		if ctx.Graph.IsFavoredIncoming(otherIdx, s) {
			t.Fatal("expected differently sized allocation's incoming edge not favored")
		}
	}
}

func TestDequeMapTaggerMarkFavoredReferencesNoopWhenUntagged(t *testing.T) {
	ctx := buildCxxTagContext(t, 0x1000, 0x4000, func(c []byte) {
		putPtr(c, 0x000, 0x2000)
	}, []fakeRecord{
		{0x1000, 0x10, true},
		{0x2000, 0x40, true},
	})
	tagger := &dequeMapTagger{}
	idx, _ := ctx.Tags.RegisterTag(tagger.Name(), tagger.IsStrong(), tagger.SupportsFavoredReferences())
	tagger.setTagIndex(idx)

	mapIdx, _ := ctx.Dir.AllocationIndexOf(0x1000)
	bufIdx, _ := ctx.Dir.AllocationIndexOf(0x2000)

	// Never tagged, so MarkFavoredReferences must do nothing.
	tagger.MarkFavoredReferences(ctx, mapIdx)
	for s := 0; s < ctx.Graph.NumIncoming(bufIdx); s++ {
		if ctx.Graph.IsFavoredIncoming(bufIdx, s) {
			t.Fatal("expected no favored edge for an untagged map")
		}
	}
}

func TestUnorderedMapBucketsTaggerMarksAllNonNullFavored(t *testing.T) {
	ctx := buildCxxTagContext(t, 0x1000, 0x5000, func(c []byte) {
		putPtr(c, 0x000, 0x3000) // bucket[0] -> node A (0x30)
		putPtr(c, 0x008, 0x4000) // bucket[1] -> node B (0x50)
		// bucket[2], bucket[3] stay nil
	}, []fakeRecord{
		{0x1000, 0x20, true}, // 4 pointer slots
		{0x3000, 0x30, true},
		{0x4000, 0x50, true},
	})
	tagger := &unorderedMapBucketsTagger{}
	idx, err := ctx.Tags.RegisterTag(tagger.Name(), tagger.IsStrong(), tagger.SupportsFavoredReferences())
	if err != nil {
		t.Fatal(err)
	}
	tagger.setTagIndex(idx)

	bucketIdx, _ := ctx.Dir.AllocationIndexOf(0x1000)
	nodeAIdx, _ := ctx.Dir.AllocationIndexOf(0x3000)
	nodeBIdx, _ := ctx.Dir.AllocationIndexOf(0x4000)

	if !tagger.TagFromAllocations(ctx, SlowCheck, bucketIdx, true) {
		t.Fatal("expected TagFromAllocations to finish at SlowCheck")
	}
	if ctx.Tags.GetTagIndex(bucketIdx) != idx {
		t.Fatal("expected bucket array tagged as a hash table")
	}

	tagger.MarkFavoredReferences(ctx, bucketIdx)
	for _, target := range []int{nodeAIdx, nodeBIdx} {
		favored := false
		for s := 0; s < ctx.Graph.NumIncoming(target); s++ {
			if ctx.Graph.IsFavoredIncoming(target, s) {
				favored = true
			}
		}
		if !favored {
			t.Fatalf("expected node allocation %d's incoming edge marked favored", target)
		}
	}
}

func TestRbTreeNodeTaggerTagsValidTreeAndMarksFavored(t *testing.T) {
	// Trivial one-node tree: header at 0x1000, root at 0x1100, root is
	// both leftmost and rightmost.
	ctx := buildCxxTagContext(t, 0x1000, 0x2000, func(c []byte) {
		// header: color, root, leftmost, rightmost
		putPtr(c, 0x000, 0)
		putPtr(c, 0x008, 0x1100)
		putPtr(c, 0x010, 0x1100)
		putPtr(c, 0x018, 0x1100)
		// root node: color, parent=header, left=0, right=0
		base := uint64(0x1100 - 0x1000)
		putPtr(c, base+0x000, 0)
		putPtr(c, base+0x008, 0x1000)
		putPtr(c, base+0x010, 0)
		putPtr(c, base+0x018, 0)
	}, []fakeRecord{
		{0x1000, 0x20, true},
		{0x1100, 0x20, true},
	})
	tagger := &rbTreeNodeTagger{}
	idx, err := ctx.Tags.RegisterTag(tagger.Name(), tagger.IsStrong(), tagger.SupportsFavoredReferences())
	if err != nil {
		t.Fatal(err)
	}
	tagger.setTagIndex(idx)

	headerIdx, _ := ctx.Dir.AllocationIndexOf(0x1000)
	rootIdx, _ := ctx.Dir.AllocationIndexOf(0x1100)

	if !tagger.TagFromAllocations(ctx, SlowCheck, headerIdx, true) {
		t.Fatal("expected TagFromAllocations to finish at SlowCheck")
	}
	if ctx.Tags.GetTagIndex(headerIdx) != idx {
		t.Fatal("expected header tagged")
	}
	if ctx.Tags.GetTagIndex(rootIdx) != idx {
		t.Fatal("expected root node tagged as part of the same tree")
	}

	favored := false
	for s := 0; s < ctx.Graph.NumIncoming(rootIdx); s++ {
		if ctx.Graph.IsFavoredIncoming(rootIdx, s) {
			favored = true
		}
	}
	if !favored {
		t.Fatal("expected header's edge to root marked favored")
	}
}

func TestRbTreeNodeTaggerRejectsBrokenParentLink(t *testing.T) {
	ctx := buildCxxTagContext(t, 0x1000, 0x2000, func(c []byte) {
		putPtr(c, 0x000, 0)
		putPtr(c, 0x008, 0x1100)
		putPtr(c, 0x010, 0x1100)
		putPtr(c, 0x018, 0x1100)
		base := uint64(0x1100 - 0x1000)
		putPtr(c, base+0x000, 0)
		putPtr(c, base+0x008, 0x9999) // wrong parent: doesn't point back at the header
		putPtr(c, base+0x010, 0)
		putPtr(c, base+0x018, 0)
	}, []fakeRecord{
		{0x1000, 0x20, true},
		{0x1100, 0x20, true},
	})
	tagger := &rbTreeNodeTagger{}
	idx, _ := ctx.Tags.RegisterTag(tagger.Name(), tagger.IsStrong(), tagger.SupportsFavoredReferences())
	tagger.setTagIndex(idx)

	headerIdx, _ := ctx.Dir.AllocationIndexOf(0x1000)
	rootIdx, _ := ctx.Dir.AllocationIndexOf(0x1100)

	tagger.TagFromAllocations(ctx, SlowCheck, headerIdx, true)
	if ctx.Tags.GetTagIndex(headerIdx) != 0 {
		t.Fatal("expected header left untagged when the root's parent link is broken")
	}
	if ctx.Tags.GetTagIndex(rootIdx) != 0 {
		t.Fatal("expected root left untagged when validation fails")
	}
}
