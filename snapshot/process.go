package snapshot

import (
	"errors"
	"sort"
)

var errUnalignedMapping = errors.New("snapshot: mapping not page-aligned")

// Snapshot is a read-only address-map provider: the minimal surface the
// rest of the engine needs from a captured process. It never parses a
// coredump or ELF file itself; Builder constructs one from caller-supplied
// bytes and ranges.
type Snapshot struct {
	arch     Architecture
	mappings []*Mapping
	table    pageTable0
	threads  []*Thread
	modules  *ModuleDirectory
}

// Arch returns the target architecture this snapshot was built for.
func (s *Snapshot) Arch() Architecture { return s.arch }

// Mappings returns all mappings in address order.
func (s *Snapshot) Mappings() []*Mapping { return s.mappings }

// Threads returns the captured threads, if any were recorded.
func (s *Snapshot) Threads() []*Thread { return s.threads }

// Modules returns the module directory, if one was recorded.
func (s *Snapshot) Modules() *ModuleDirectory { return s.modules }

// FindMapping returns the mapping containing a, or nil if a falls in a hole.
func (s *Snapshot) FindMapping(a Address) *Mapping {
	return s.table.find(a)
}

// ReadAt copies len(b) bytes starting at a into b. It returns false if any
// part of the requested range is unmapped or has no captured contents;
// mapping permissions are not checked.
func (s *Snapshot) ReadAt(b []byte, a Address) bool {
	for len(b) > 0 {
		m := s.table.find(a)
		if m == nil || m.Contents == nil {
			return false
		}
		off := a.Sub(m.Min)
		n := copy(b, m.Contents[off:])
		if n == 0 {
			return false
		}
		b = b[n:]
		a = a.Add(int64(n))
	}
	return true
}

// Readable reports whether a single byte at a is mapped and readable.
func (s *Snapshot) Readable(a Address) bool {
	m := s.table.find(a)
	return m != nil && m.Perm&Read != 0
}

// Uintptr reads one pointer-sized value at a, in the snapshot's byte order.
// The second return is false if the read falls outside any mapping.
func (s *Snapshot) Uintptr(a Address) (uint64, bool) {
	buf := make([]byte, s.arch.PointerSize)
	if !s.ReadAt(buf, a) {
		return 0, false
	}
	return s.arch.Uintptr(buf), true
}

// Builder assembles a Snapshot from caller-supplied mappings. It is the
// engine's substitute for a real ELF/coredump reader: production callers
// plug in their own reader ahead of Builder, and tests construct fixtures
// directly with it.
type Builder struct {
	arch     Architecture
	mappings []*Mapping
	threads  []*Thread
	modules  []*Module
}

// NewBuilder starts a snapshot under construction for the given architecture.
func NewBuilder(arch Architecture) *Builder {
	return &Builder{arch: arch}
}

// AddMapping records one mapping. Mappings may be added in any order;
// Build sorts them and rejects overlaps. Adjacent mappings are kept
// separate, even when their permissions match.
func (b *Builder) AddMapping(min, max Address, perm Perm, contents []byte) *Builder {
	b.mappings = append(b.mappings, &Mapping{Min: min, Max: max, Perm: perm, Contents: contents})
	return b
}

// AddThread records a captured thread's register state.
func (b *Builder) AddThread(t *Thread) *Builder {
	b.threads = append(b.threads, t)
	return b
}

// AddModule records a loaded module's address range.
func (b *Builder) AddModule(m *Module) *Builder {
	b.modules = append(b.modules, m)
	return b
}

// Build finalizes the snapshot, installing all mappings into the radix
// lookup table. It returns an error if any mapping is unaligned or
// overlaps another.
func (b *Builder) Build() (*Snapshot, error) {
	sort.Slice(b.mappings, func(i, j int) bool { return b.mappings[i].Min < b.mappings[j].Min })
	for i := 1; i < len(b.mappings); i++ {
		if b.mappings[i].Min < b.mappings[i-1].Max {
			return nil, errors.New("snapshot: overlapping mappings")
		}
	}
	s := &Snapshot{arch: b.arch, mappings: b.mappings, threads: b.threads}
	for _, m := range b.mappings {
		if err := s.table.add(m); err != nil {
			return nil, err
		}
	}
	s.modules = newModuleDirectory(b.modules)
	return s, nil
}
