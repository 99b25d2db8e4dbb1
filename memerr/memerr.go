// Package memerr defines the engine's error taxonomy. There are four
// kinds of failure in a post-mortem analysis, each handled differently:
// an invariant violation is a bug in the engine itself and panics; a
// snapshot inconsistency is reported to the diagnostic sink and analysis
// continues around it; an out-of-bounds image access is a typed,
// non-exceptional condition callers check for; and running out of tag
// slots is fatal because the engine has no way to represent the result
// correctly beyond that point.
package memerr

import "fmt"

// InvariantViolation panics with a message identifying the broken
// invariant. It is for conditions the engine's own logic should make
// impossible; a caller can never recover from this meaningfully.
func InvariantViolation(component, detail string) {
	panic(fmt.Sprintf("memshard: invariant violated in %s: %s", component, detail))
}

// Inconsistency describes a snapshot inconsistency that does not stop
// analysis: data that contradicts the engine's assumptions about the
// target's allocator layout, but that can be worked around or skipped.
type Inconsistency struct {
	Component string
	Detail    string
}

func (e *Inconsistency) Error() string {
	return fmt.Sprintf("%s: %s", e.Component, e.Detail)
}

// NewInconsistency builds an Inconsistency for a diagnostic sink to
// report.
func NewInconsistency(component, detail string) *Inconsistency {
	return &Inconsistency{Component: component, Detail: detail}
}

// NotMapped indicates a read was attempted at an address the snapshot
// has no mapping for. It is a normal, queryable condition, not a fault:
// callers that walk allocator structures speculatively expect to see it.
type NotMapped struct {
	Address uint64
}

func (e *NotMapped) Error() string {
	return fmt.Sprintf("address %#x is not mapped", e.Address)
}

// TagCapacityExceeded is returned when a tagger tries to register more
// tags than the tag holder can represent. It is fatal: the remainder of
// the tagging pass cannot be trusted once tag identities can no longer
// be distinguished.
type TagCapacityExceeded struct {
	Attempted int
	Limit     int
}

func (e *TagCapacityExceeded) Error() string {
	return fmt.Sprintf("tag capacity exceeded: attempted to register tag %d, limit is %d", e.Attempted, e.Limit)
}
