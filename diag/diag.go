// Package diag provides the engine's diagnostic sink: a place recoverable
// errors and progress information are written to, independent of any
// fatal error path.
package diag

import "go.uber.org/zap"

// Sink is the diagnostic stream recoverable conditions are reported to.
// The engine never returns these as errors; it writes them here and
// continues.
type Sink struct {
	log *zap.SugaredLogger
}

// NewSink wraps a logger as a diagnostic sink. A nil logger is replaced
// with a no-op logger so callers never need a nil check.
func NewSink(log *zap.SugaredLogger) *Sink {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sink{log: log}
}

// Inconsistency reports a snapshot inconsistency: something the engine
// expected to hold didn't, but analysis can continue around it.
func (s *Sink) Inconsistency(component string, keysAndValues ...interface{}) {
	s.log.Infow("snapshot inconsistency", append([]interface{}{"component", component}, keysAndValues...)...)
}

// Skipped reports that some region or allocation was skipped due to
// unresolvable corruption.
func (s *Sink) Skipped(component string, keysAndValues ...interface{}) {
	s.log.Warnw("skipped during analysis", append([]interface{}{"component", component}, keysAndValues...)...)
}

// Progress reports non-error progress information, such as per-pass
// tagger statistics and infrastructure-finder vote tallies.
func (s *Sink) Progress(msg string, keysAndValues ...interface{}) {
	s.log.Debugw(msg, keysAndValues...)
}
