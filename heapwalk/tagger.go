package heapwalk

import "github.com/memshard/memshard/snapshot"

// Phase orders how much work a tagger is allowed to spend recognizing
// an allocation on a given pass. Cheaper checks run first so that an
// easy, confident match never pays for an expensive one.
type Phase int

const (
	QuickInitialCheck Phase = iota
	MediumCheck
	SlowCheck
	WeakCheck
)

// SignatureDirectory answers whether an allocation's leading word looks
// like a recognized vtable/type-info pointer: an address that falls
// inside a loaded module's range. Taggers consult it once per
// allocation, through TagContext, to decide whether "no known
// signature" should count as positive evidence (many native containers
// have no vtable at all) or as a reason to defer to a later phase.
type SignatureDirectory struct {
	modules *snapshot.ModuleDirectory
}

// NewSignatureDirectory builds a signature directory from a snapshot's
// module list.
func NewSignatureDirectory(modules *snapshot.ModuleDirectory) *SignatureDirectory {
	return &SignatureDirectory{modules: modules}
}

// IsUnsigned reports whether img's first pointer-sized word does not
// resolve into any known module, i.e. carries no recognizable
// vtable/type-info signature.
func (s *SignatureDirectory) IsUnsigned(img *ContiguousImage) bool {
	if s.modules == nil {
		return true
	}
	first, ok := img.FirstPointer()
	if !ok {
		return true
	}
	return s.modules.Find(first) == nil
}

// TagContext is the shared state every tagger and the runner itself
// operate over.
type TagContext struct {
	Snap   *snapshot.Snapshot
	Dir    *Directory
	Graph  *Graph
	Tags   *TagHolder
	Sig    *SignatureDirectory
	Stacks *StackRegistry
}

// Tagger recognizes one kind of native container, language object, or
// runtime structure. A tagger gets two independent chances to recognize
// an allocation: once driven purely by the allocation's own contents
// (TagFromAllocations), and once driven by the still-untagged
// allocations it references (TagFromReferenced) — some layouts (e.g. a
// list node) are only recognizable from what they point at.
// taggerID is embedded by concrete taggers to hold the tag index the
// runner assigns them at Register time, so TagFromAllocations /
// TagFromReferenced can call ctx.Tags.TagAllocation with their own
// identity without the registration order being wired in by hand.
type taggerID struct {
	idx int
}

func (t *taggerID) setTagIndex(idx int) { t.idx = idx }
func (t *taggerID) tagIndex() int       { return t.idx }

// MarkFavoredReferences is the default, no-op implementation shared by
// every tagger that embeds taggerID. Only a tagger whose
// SupportsFavoredReferences is true needs to override it.
func (t *taggerID) MarkFavoredReferences(ctx *TagContext, i int) {}

type Tagger interface {
	Name() string
	IsStrong() bool
	SupportsFavoredReferences() bool
	setTagIndex(idx int)
	tagIndex() int

	// TagFromAllocations inspects allocation i directly. It returns true
	// once it has reached a final verdict (tagged or definitively not a
	// match) for the current pass, so the runner can stop invoking it at
	// higher phases.
	TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool

	// TagFromReferenced inspects allocation i in light of its still-
	// unresolved outgoing references, given by index into the directory.
	TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool

	// MarkFavoredReferences runs once per used allocation after both
	// tagging passes have finished, letting a tagger that claimed i flag
	// which of i's outgoing edges is the canonical one to a given
	// target — e.g. a container control block's edge to its root or
	// head node, as opposed to edges to other allocations it merely
	// happens to reference. Most taggers have nothing to add here and
	// rely on taggerID's no-op default.
	MarkFavoredReferences(ctx *TagContext, i int)
}

// TagStats summarizes, per registered tag, how many live allocations
// carry it and how many bytes they occupy in total.
type TagStats struct {
	Name  string
	Count int
	Bytes uint64
}

// TaggerRunner drives every registered Tagger across both passes over
// the directory's used allocations.
type TaggerRunner struct {
	ctx        *TagContext
	taggers    []Tagger
	tagIndices []int
}

// NewTaggerRunner returns a runner bound to ctx. ctx.Tags must already
// be constructed with NewTagHolder over ctx.Dir's allocation count.
func NewTaggerRunner(ctx *TagContext) *TaggerRunner {
	return &TaggerRunner{ctx: ctx}
}

// Register adds t to the runner and allocates its tag identity.
func (r *TaggerRunner) Register(t Tagger) error {
	idx, err := r.ctx.Tags.RegisterTag(t.Name(), t.IsStrong(), t.SupportsFavoredReferences())
	if err != nil {
		return err
	}
	t.setTagIndex(idx)
	r.taggers = append(r.taggers, t)
	r.tagIndices = append(r.tagIndices, idx)
	return nil
}

var checkCascade = []Phase{QuickInitialCheck, MediumCheck, SlowCheck}

// TagFromAllocations runs the first pass: every used allocation is
// offered to every tagger, phase by phase, short-circuiting a tagger
// once it reaches a verdict, with an unconditional WeakCheck round for
// any tagger that never reached one.
func (r *TaggerRunner) TagFromAllocations() {
	n := r.ctx.Dir.NumAllocations()
	finished := make([]bool, len(r.taggers))
	for i := 0; i < n; i++ {
		a := r.ctx.Dir.AllocationAt(i)
		if !a.IsUsed() {
			continue
		}
		for j := range finished {
			finished[j] = false
		}
		img := NewContiguousImage(r.ctx.Snap, a.Address, a.Size())
		isUnsigned := r.ctx.Sig.IsUnsigned(img)

		for _, phase := range checkCascade {
			allDone := true
			for ti, t := range r.taggers {
				if finished[ti] {
					continue
				}
				if t.TagFromAllocations(r.ctx, phase, i, isUnsigned) {
					finished[ti] = true
				} else {
					allDone = false
				}
			}
			if allDone {
				break
			}
		}
		for ti, t := range r.taggers {
			if finished[ti] {
				continue
			}
			t.TagFromAllocations(r.ctx, WeakCheck, i, isUnsigned)
		}
	}
}

// TagFromReferenced runs the second pass: every used allocation with at
// least one still-unresolved (not strongly tagged) outgoing reference is
// offered, by that reference list, to every tagger through the same
// phase cascade.
func (r *TaggerRunner) TagFromReferenced() {
	n := r.ctx.Dir.NumAllocations()
	finished := make([]bool, len(r.taggers))
	for i := 0; i < n; i++ {
		a := r.ctx.Dir.AllocationAt(i)
		if !a.IsUsed() {
			continue
		}
		var unresolved []int
		r.ctx.Graph.ForEachOutgoing(i, func(slot, target int) bool {
			if !r.ctx.Tags.IsStronglyTagged(target) {
				unresolved = append(unresolved, target)
			}
			return true
		})
		if len(unresolved) == 0 {
			continue
		}
		for j := range finished {
			finished[j] = false
		}
		img := NewContiguousImage(r.ctx.Snap, a.Address, a.Size())
		isUnsigned := r.ctx.Sig.IsUnsigned(img)

		for _, phase := range checkCascade {
			allDone := true
			for ti, t := range r.taggers {
				if finished[ti] {
					continue
				}
				if t.TagFromReferenced(r.ctx, phase, i, unresolved, isUnsigned) {
					finished[ti] = true
				} else {
					allDone = false
				}
			}
			if allDone {
				break
			}
		}
		for ti, t := range r.taggers {
			if finished[ti] {
				continue
			}
			t.TagFromReferenced(r.ctx, WeakCheck, i, unresolved, isUnsigned)
		}
	}
}

// MarkFavoredReferences runs the third pass: every used allocation is
// offered, once, to every tagger that opted into favored-reference
// support, after tag assignment from both prior passes has settled.
func (r *TaggerRunner) MarkFavoredReferences() {
	n := r.ctx.Dir.NumAllocations()
	for i := 0; i < n; i++ {
		if !r.ctx.Dir.AllocationAt(i).IsUsed() {
			continue
		}
		for _, t := range r.taggers {
			if !t.SupportsFavoredReferences() {
				continue
			}
			t.MarkFavoredReferences(r.ctx, i)
		}
	}
}

// Run executes all three passes in order, matching the engine's
// documented flow: allocation-driven recognition first, then
// reference-driven recognition of whatever remains unresolved, then
// favored-reference marking once every tag has settled.
func (r *TaggerRunner) Run() {
	r.TagFromAllocations()
	r.TagFromReferenced()
	r.MarkFavoredReferences()
}

// Stats tallies live allocation counts and byte totals per registered
// tag.
func (r *TaggerRunner) Stats() []TagStats {
	stats := make([]TagStats, len(r.taggers))
	for ti, t := range r.taggers {
		stats[ti].Name = t.Name()
	}
	n := r.ctx.Dir.NumAllocations()
	for i := 0; i < n; i++ {
		idx := r.ctx.Tags.GetTagIndex(i)
		if idx == 0 {
			continue
		}
		for ti, tagIdx := range r.tagIndices {
			if tagIdx == idx {
				stats[ti].Count++
				stats[ti].Bytes += r.ctx.Dir.AllocationAt(i).Size()
				break
			}
		}
	}
	return stats
}
