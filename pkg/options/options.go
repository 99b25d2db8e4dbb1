// Package options configures the analysis engine via functional options.
package options

import "github.com/memshard/memshard/snapshot"

const (
	defaultMaxHeapSize    = 1 << 20 // glibc's default M_MMAP_THRESHOLD-derived heap growth guess
	defaultVoteThreshold  = 0.6
	defaultMaxVoteSamples = 64
)

// Options controls the allocator-infrastructure voting scan and which
// optional taggers run.
type Options struct {
	Arch snapshot.Architecture

	// MaxHeapSize seeds the initial guess for a secondary arena's heap
	// extent (spec §4.3). One value applies to every arena; the
	// infrastructure finder may double it to fit the heaps it finds.
	MaxHeapSize uint64

	// VoteThreshold is the minimum fraction of sampled candidates that
	// must agree on a field offset before the infrastructure finder
	// accepts it.
	VoteThreshold float64

	// MaxVoteSamples caps how many candidate arena base addresses the
	// offset-voting scan inspects, and how many heap headers the heap
	// scan considers, each counted over the whole snapshot.
	MaxVoteSamples int

	// EnabledTaggers restricts which concrete taggers the tagger runner
	// registers. A nil slice enables all of them.
	EnabledTaggers []string
}

// OptionFunc mutates an Options under construction.
type OptionFunc func(*Options)

// NewDefaultOptions returns Options with the engine's default tuning,
// for the given architecture.
func NewDefaultOptions(arch snapshot.Architecture, opts ...OptionFunc) *Options {
	o := &Options{
		Arch:           arch,
		MaxHeapSize:    defaultMaxHeapSize,
		VoteThreshold:  defaultVoteThreshold,
		MaxVoteSamples: defaultMaxVoteSamples,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxHeapSize overrides the initial heap-size guess. Values of zero
// are ignored.
func WithMaxHeapSize(n uint64) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.MaxHeapSize = n
		}
	}
}

// WithVoteThreshold overrides the offset-voting acceptance threshold.
// Values outside (0,1] are ignored.
func WithVoteThreshold(t float64) OptionFunc {
	return func(o *Options) {
		if t > 0 && t <= 1 {
			o.VoteThreshold = t
		}
	}
}

// WithMaxVoteSamples overrides MaxVoteSamples. Values of zero or less
// are ignored.
func WithMaxVoteSamples(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.MaxVoteSamples = n
		}
	}
}

// WithEnabledTaggers restricts the tagger runner to the named taggers.
func WithEnabledTaggers(names ...string) OptionFunc {
	return func(o *Options) {
		o.EnabledTaggers = names
	}
}
