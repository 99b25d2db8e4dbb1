package heapwalk

import (
	"testing"

	"github.com/memshard/memshard/pkg/config"
	"github.com/memshard/memshard/pkg/options"
	"github.com/memshard/memshard/snapshot"
)

func TestApplyOverridesSeedsMaxHeapSize(t *testing.T) {
	opts := options.NewDefaultOptions(snapshot.Arch64LE)
	before := opts.MaxHeapSize
	applyOverrides(opts, &config.Overrides{MaxHeapSize: before + 1})
	if opts.MaxHeapSize != before+1 {
		t.Fatalf("MaxHeapSize = %d, want %d", opts.MaxHeapSize, before+1)
	}
}

func TestApplyOverridesNilIsNoop(t *testing.T) {
	opts := options.NewDefaultOptions(snapshot.Arch64LE)
	before := opts.MaxHeapSize
	applyOverrides(opts, nil)
	if opts.MaxHeapSize != before {
		t.Fatalf("MaxHeapSize changed with nil overrides: got %d, want %d", opts.MaxHeapSize, before)
	}
}

func TestAnalyzeRunsEndToEndOnEmptySnapshot(t *testing.T) {
	s, err := snapshot.NewBuilder(snapshot.Arch64LE).
		AddMapping(0x1000, 0x2000, snapshot.Read|snapshot.Write, make([]byte, 0x1000)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	result, err := Analyze(s, nil, Config{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Partition == nil || result.Infra == nil || result.Directory == nil || result.Graph == nil || result.Tags == nil {
		t.Fatal("expected all Result fields populated")
	}
	if len(result.Infra.Arenas()) != 0 {
		t.Fatalf("expected no arenas discovered without a self-referential candidate, got %d", len(result.Infra.Arenas()))
	}
}

func TestAnalyzeAppliesOverrides(t *testing.T) {
	s, err := snapshot.NewBuilder(snapshot.Arch64LE).
		AddMapping(0x1000, 0x2000, snapshot.Read|snapshot.Write, make([]byte, 0x1000)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	opts := options.NewDefaultOptions(s.Arch())
	cfg := Config{Options: opts, Overrides: &config.Overrides{MaxHeapSize: 42}}
	if _, err := Analyze(s, nil, cfg); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if opts.MaxHeapSize != 42 {
		t.Fatalf("expected Options seeded from Overrides, got %d", opts.MaxHeapSize)
	}
}
