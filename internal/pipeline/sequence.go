// Package pipeline implements the packet normalization pipeline: the
// soft-fail payload decoder, the envelope unwrapper, the sequence
// counter, and the session object that ties them to the registry and
// the downstream sinks.
package pipeline

import "sync/atomic"

// Sequence produces unique, strictly increasing packet indices for the
// lifetime of a session. Fresh sessions start at 0; restoring persisted
// packets seeds the counter past the highest existing index; only an
// explicit clear resets it.
type Sequence struct {
	next atomic.Int64
}

// Next allocates the next index.
func (s *Sequence) Next() int64 {
	return s.next.Add(1) - 1
}

// Seed raises the counter to n if it is currently lower, so restored
// packets never collide with newly allocated indices.
func (s *Sequence) Seed(n int64) {
	for {
		cur := s.next.Load()
		if cur >= n {
			return
		}
		if s.next.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Reset returns the counter to 0. Only the explicit clear-all operation
// calls this.
func (s *Sequence) Reset() {
	s.next.Store(0)
}

// Peek returns the next index without allocating it.
func (s *Sequence) Peek() int64 {
	return s.next.Load()
}
