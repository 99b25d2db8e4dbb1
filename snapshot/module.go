package snapshot

import "sort"

// Module is one loaded image (executable or shared library) mapped into
// the address space, identified by its load range and path. The engine
// never parses the image itself; Module is only used as a named range for
// the signature directory and for describing static-data anchors.
type Module struct {
	Name     string
	Min, Max Address
}

// Contains reports whether a falls within the module's load range.
func (m *Module) Contains(a Address) bool {
	return a >= m.Min && a < m.Max
}

// ModuleDirectory is a sorted, binary-searchable list of loaded modules,
// mirroring the "named-range directory" shape used throughout the
// teacher's module/function table lookups, generalized away from pclntab.
type ModuleDirectory struct {
	mods []*Module
}

func newModuleDirectory(mods []*Module) *ModuleDirectory {
	sort.Slice(mods, func(i, j int) bool { return mods[i].Min < mods[j].Min })
	return &ModuleDirectory{mods: mods}
}

// Find returns the module containing a, or nil.
func (d *ModuleDirectory) Find(a Address) *Module {
	i := sort.Search(len(d.mods), func(i int) bool { return d.mods[i].Max > a })
	if i < len(d.mods) && d.mods[i].Contains(a) {
		return d.mods[i]
	}
	return nil
}

// All returns every module in load-address order.
func (d *ModuleDirectory) All() []*Module { return d.mods }
