package heapwalk

import (
	"github.com/memshard/memshard/diag"
	"github.com/memshard/memshard/pkg/config"
	"github.com/memshard/memshard/pkg/options"
	"github.com/memshard/memshard/snapshot"
)

// Config wires together everything Analyze needs besides the snapshot
// itself: tuning, where diagnostics go, and an optional operator-
// supplied override for a known allocator build.
type Config struct {
	Options   *options.Options
	Sink      *diag.Sink
	Overrides *config.Overrides
}

// applyOverrides seeds opts with any non-zero value from overrides,
// letting an operator who already knows the target's glibc build skip
// the parts of the voting scan those values would otherwise derive.
func applyOverrides(opts *options.Options, overrides *config.Overrides) {
	if overrides == nil {
		return
	}
	if overrides.MaxHeapSize > 0 {
		opts.MaxHeapSize = overrides.MaxHeapSize
	}
}

// Result is the fully reconstructed picture of a snapshot's native
// allocator state: every resolved allocation, the reference graph over
// them, which tag (if any) each one carries, and the address-space
// partition used to get there.
type Result struct {
	Partition *Partition
	Infra     *InfraFinder
	Directory *Directory
	Graph     *Graph
	Tags      *TagHolder
	Runner    *TaggerRunner
	Stacks    *StackRegistry
}

// Analyze runs the full reconstruction pipeline against snap: it builds
// the virtual memory partition, derives the allocator infrastructure by
// voting, resolves allocation boundaries from the heap, main-arena and
// mmap finders, builds the reference graph, then runs the tagger runner
// over the result. It is strictly single-threaded and makes one linear
// pass through each stage; nothing here is safe to call concurrently
// with itself over the same snapshot.
func Analyze(snap *snapshot.Snapshot, files *snapshot.FileMappedDirectory, cfg Config) (*Result, error) {
	if cfg.Options == nil {
		cfg.Options = options.NewDefaultOptions(snap.Arch())
	}
	if cfg.Sink == nil {
		cfg.Sink = diag.NewSink(nil)
	}
	applyOverrides(cfg.Options, cfg.Overrides)

	partition := NewPartition(snap, files, cfg.Sink)

	stacks := NewStackRegistry()
	stacks.DeriveFromThreads(snap, partition)

	infra := NewInfraFinder(snap, partition, cfg.Options, cfg.Sink)
	infra.SeedOffsets(cfg.Overrides)
	infra.Run()

	dir := NewDirectory()
	headerSize := int64(2 * snap.Arch().PointerSize)

	for _, arena := range infra.Arenas() {
		if arena.IsMain {
			start := arena.Address.Add(headerSize) // fallback anchor if the page-run lookup below misses
			if heapStart, _, ok := infra.MainHeapRange(arena); ok {
				start = heapStart
			}
			f := NewMainArenaFinder(snap, start, arena.Top)
			if err := dir.AddFinder(f); err != nil {
				return nil, err
			}
			continue
		}
	}
	for _, h := range infra.Heaps() {
		var owningTop snapshot.Address
		for _, a := range infra.Arenas() {
			if a.Address == h.Arena {
				owningTop = a.Top
			}
		}
		f := NewHeapFinder(snap, h, owningTop, headerSize)
		if err := dir.AddFinder(f); err != nil {
			return nil, err
		}
	}
	var mmapCandidates []*snapshot.Mapping
	for _, m := range snap.Mappings() {
		if kind, ok := partition.ClaimKindAt(m.Min); ok && kind != ClaimUnknown {
			continue
		}
		mmapCandidates = append(mmapCandidates, m)
	}
	if mf := NewMmapFinder(snap, mmapCandidates); mf != nil {
		if err := dir.AddFinder(mf); err != nil {
			return nil, err
		}
	}

	if err := dir.ResolveAllocationBoundaries(); err != nil {
		return nil, err
	}

	graph := BuildGraph(snap, dir)
	tags := NewTagHolder(graph, dir.NumAllocations())
	ctx := &TagContext{
		Snap:   snap,
		Dir:    dir,
		Graph:  graph,
		Tags:   tags,
		Sig:    NewSignatureDirectory(snap.Modules()),
		Stacks: stacks,
	}
	runner := NewTaggerRunner(ctx)
	for _, t := range defaultTaggers(cfg.Options) {
		if err := runner.Register(t); err != nil {
			return nil, err
		}
	}
	runner.Run()

	return &Result{
		Partition: partition,
		Infra:     infra,
		Directory: dir,
		Graph:     graph,
		Tags:      tags,
		Runner:    runner,
		Stacks:    stacks,
	}, nil
}

func defaultTaggers(opts *options.Options) []Tagger {
	all := []Tagger{
		&cxxLongStringTagger{},
		&cowStringTagger{},
		&dequeMapTagger{},
		&rbTreeNodeTagger{},
		&unorderedMapBucketsTagger{},
		&listNodeTagger{},
		&opensslObjectTagger{},
		&pythonDictKeysTagger{},
		&pthreadStackTagger{},
		&fiberStackTagger{},
	}
	if len(opts.EnabledTaggers) == 0 {
		return all
	}
	enabled := make(map[string]bool, len(opts.EnabledTaggers))
	for _, n := range opts.EnabledTaggers {
		enabled[n] = true
	}
	var out []Tagger
	for _, t := range all {
		if enabled[t.Name()] {
			out = append(out, t)
		}
	}
	return out
}
