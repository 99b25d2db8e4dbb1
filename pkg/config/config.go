// Package config loads operator-supplied overrides for a known glibc
// build, letting analysis skip or seed the offset-voting scan when the
// target's allocator layout is already known.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides holds operator-supplied allocator-layout values. Zero values
// mean "let the voting scan derive it."
type Overrides struct {
	// ArenaNextOffset is the byte offset of malloc_state's "next" field,
	// if already known for this build.
	ArenaNextOffset int `yaml:"arena_next_offset"`

	// ArenaTopOffset is the byte offset of malloc_state's "top" field.
	ArenaTopOffset int `yaml:"arena_top_offset"`

	// HeapArenaOffset is the byte offset of heap_info's "ar_ptr" field.
	HeapArenaOffset int `yaml:"heap_arena_offset"`

	// MaxHeapSize overrides the default growth guess used for secondary
	// arenas; the heap scan may still double it to fit the heaps it finds.
	MaxHeapSize uint64 `yaml:"max_heap_size"`

	// PointerSize is parsed from the file, but nothing in the analysis
	// reads it; the pointer width always comes from the snapshot.
	PointerSize int `yaml:"pointer_size"`
}

// Load reads and parses an overrides file.
func Load(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &o, nil
}
