package heapwalk

import "github.com/memshard/memshard/memerr"

// maxTags is the cap on distinct registered tags. The packed
// Allocation/edge representation leaves room for far more, but a flat
// int slice keyed by allocation index is cheap to keep bounded and a
// real analysis never approaches anywhere near this many distinct
// container/language recognizers.
const maxTags = 255

// TagHolder records, per allocation, which tagger (if any) claimed it,
// and whether that claim is strong (derived from unambiguous evidence)
// or weak (a plausible guess that a stronger tag may still override).
type TagHolder struct {
	graph *Graph

	names            []string
	strong           []bool
	favoredSupported []bool

	tagIndex []int16 // 0 means untagged; index into names+1
}

// NewTagHolder returns an empty tag holder sized for n allocations.
func NewTagHolder(graph *Graph, n int) *TagHolder {
	return &TagHolder{graph: graph, tagIndex: make([]int16, n)}
}

// RegisterTag allocates a new tag identity. isStrong marks that a
// successful TagAllocation call with this tag should only ever be
// overwritten by another strong tag. supportsFavoredReferences marks
// that incoming edges to allocations carrying this tag may be flagged
// favored by the owning tagger.
func (h *TagHolder) RegisterTag(name string, isStrong, supportsFavoredReferences bool) (int, error) {
	if len(h.names) >= maxTags {
		return 0, &memerr.TagCapacityExceeded{Attempted: len(h.names) + 1, Limit: maxTags}
	}
	h.names = append(h.names, name)
	h.strong = append(h.strong, isStrong)
	h.favoredSupported = append(h.favoredSupported, supportsFavoredReferences)
	return len(h.names), nil // 1-based; 0 means untagged
}

// GetTagName returns the name registered for tagIndex, or "" if unknown.
func (h *TagHolder) GetTagName(tagIndex int) string {
	if tagIndex <= 0 || tagIndex > len(h.names) {
		return ""
	}
	return h.names[tagIndex-1]
}

// GetNumTags returns how many distinct tags have been registered.
func (h *TagHolder) GetNumTags() int { return len(h.names) }

// SupportsFavoredReferences reports whether tagIndex's tagger opted
// into favored-reference tracking.
func (h *TagHolder) SupportsFavoredReferences(tagIndex int) bool {
	if tagIndex <= 0 || tagIndex > len(h.favoredSupported) {
		return false
	}
	return h.favoredSupported[tagIndex-1]
}

// GetTagIndex returns the tag currently applied to allocation i, or 0.
func (h *TagHolder) GetTagIndex(i int) int { return int(h.tagIndex[i]) }

// IsStronglyTagged reports whether allocation i carries a strong tag.
func (h *TagHolder) IsStronglyTagged(i int) bool {
	t := h.GetTagIndex(i)
	return t > 0 && h.strong[t-1]
}

// TagAllocation applies tagIndex to allocation i, following the
// overwrite rule: an untagged allocation always accepts the new tag; a
// tagged allocation only accepts it if the new tag is strong and the
// existing one is not. When an overwrite happens, any favored-incoming
// flags the old tag was relying on are cleared (they described a
// relationship to a tag that no longer holds), and outgoing-tainted
// flags are always cleared on retag.
func (h *TagHolder) TagAllocation(i, tagIndex int) bool {
	old := h.GetTagIndex(i)
	if old != 0 {
		oldIsStrong := h.strong[old-1]
		newIsStrong := tagIndex > 0 && h.strong[tagIndex-1]
		if !(newIsStrong && !oldIsStrong) {
			return false
		}
		if h.favoredSupported[old-1] {
			h.graph.ClearFavoredIncoming(i)
		}
	}
	h.graph.ClearTaintedOutgoing(i)
	h.tagIndex[i] = int16(tagIndex)
	return true
}
