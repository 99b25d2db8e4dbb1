package heapwalk

// opensslObjectTagger recognizes an OpenSSL reference-counted object
// (SSL, SSL_CTX, EVP_PKEY, and similar) by its leading CRYPTO_refcount
// field: a small positive word followed, at a build-dependent but
// stable offset, by a lock pointer. Since the exact struct layout
// varies by OpenSSL version, this only asserts the refcount shape: a
// nonzero first word no larger than 1<<20. The lock pointer and the
// allocation's signature status are not checked.
type opensslObjectTagger struct{ taggerID }

func (*opensslObjectTagger) Name() string                   { return "openssl_object" }
func (*opensslObjectTagger) IsStrong() bool                  { return false }
func (*opensslObjectTagger) SupportsFavoredReferences() bool { return false }

func (t *opensslObjectTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != QuickInitialCheck {
		return true
	}
	if isUnsigned {
		// signed and unsigned allocations are treated alike.
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	if a.Size() < 2*ptrSize {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	refcount, ok := img.Uintptr(0)
	if !ok || refcount == 0 || refcount > 1<<20 {
		return true
	}
	ctx.Tags.TagAllocation(i, t.tagIndex())
	return true
}

func (*opensslObjectTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// pythonDictKeysTagger recognizes a CPython dict's combined keys table
// (PyDictKeysObject): a small header (dk_refcnt, dk_size, dk_lookup,
// dk_usable, dk_nentries) followed by the hash index and entries
// arrays. The header's dk_size field is always a power of two, and
// dk_usable/dk_nentries never exceed it — the same shape used here to
// recognize it without depending on any particular Python build's exact
// field widths.
type pythonDictKeysTagger struct{ taggerID }

func (*pythonDictKeysTagger) Name() string                   { return "python_dict_keys" }
func (*pythonDictKeysTagger) IsStrong() bool                  { return false }
func (*pythonDictKeysTagger) SupportsFavoredReferences() bool { return false }

func (t *pythonDictKeysTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != MediumCheck {
		return phase == QuickInitialCheck
	}
	a := ctx.Dir.AllocationAt(i)
	ptrSize := uint64(ctx.Snap.Arch().PointerSize)
	if a.Size() < 5*ptrSize {
		return true
	}
	img := NewContiguousImage(ctx.Snap, a.Address, a.Size())
	dkSize, ok := img.Uintptr(ptrSize)
	if !ok || dkSize == 0 || dkSize&(dkSize-1) != 0 || dkSize > 1<<20 {
		return true
	}
	dkUsable, ok := img.Uintptr(3 * ptrSize)
	if !ok || dkUsable > dkSize {
		return true
	}
	dkNentries, ok := img.Uintptr(4 * ptrSize)
	if !ok || dkNentries > dkSize {
		return true
	}
	ctx.Tags.TagAllocation(i, t.tagIndex())
	return true
}

func (*pythonDictKeysTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// pthreadStackTagger recognizes a secondary pthread's stack when it was
// carved out of a heap-backed region (as glibc's pthread implementation
// does for threads created without an explicit stack), by checking
// whether the allocation falls inside a range the stack registry
// already associated with a thread.
type pthreadStackTagger struct{ taggerID }

func (*pthreadStackTagger) Name() string                   { return "pthread_stack" }
func (*pthreadStackTagger) IsStrong() bool                  { return true }
func (*pthreadStackTagger) SupportsFavoredReferences() bool { return false }

func (t *pthreadStackTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != QuickInitialCheck {
		return true
	}
	if ctx.Stacks == nil {
		return true
	}
	a := ctx.Dir.AllocationAt(i)
	if info, ok := ctx.Stacks.Find(a.Address); ok && info.Source == "pthread" {
		ctx.Tags.TagAllocation(i, t.tagIndex())
	}
	return true
}

func (*pthreadStackTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}

// fiberStackTagger recognizes a Folly Fiber's heap-allocated stack by
// checking whether the allocation falls inside a range the stack
// registry holds with Source "fiber". It does not inspect the
// allocation's contents, and nothing in this package registers fiber
// ranges, so it tags only what a caller has registered.
type fiberStackTagger struct{ taggerID }

func (*fiberStackTagger) Name() string                   { return "folly_fiber_stack" }
func (*fiberStackTagger) IsStrong() bool                  { return false }
func (*fiberStackTagger) SupportsFavoredReferences() bool { return false }

func (t *fiberStackTagger) TagFromAllocations(ctx *TagContext, phase Phase, i int, isUnsigned bool) bool {
	if phase != WeakCheck {
		return false
	}
	if ctx.Stacks == nil {
		return true
	}
	a := ctx.Dir.AllocationAt(i)
	if info, ok := ctx.Stacks.Find(a.Address); ok && info.Source == "fiber" {
		ctx.Tags.TagAllocation(i, t.tagIndex())
	}
	return true
}

func (*fiberStackTagger) TagFromReferenced(ctx *TagContext, phase Phase, i int, unresolvedOutgoing []int, isUnsigned bool) bool {
	return true
}
