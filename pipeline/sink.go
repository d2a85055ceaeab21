package pipeline

import "sync"

// LatestSink keeps the newest result by frame timestamp. Results older than the one
// held are discarded.
type LatestSink struct {
	mu     sync.RWMutex
	latest Result
	ok     bool
	stale  uint64
	notify func(Result)
}

// NewLatestSink creates a sink. notify, if not nil, is called with every accepted
// result.
func NewLatestSink(notify func(Result)) *LatestSink {
	return &LatestSink{notify: notify}
}

// Consume stores r unless a newer result is already held.
func (s *LatestSink) Consume(r Result) {
	s.mu.Lock()
	if s.ok && r.Frame.Timestamp <= s.latest.Frame.Timestamp {
		s.stale++
		s.mu.Unlock()
		return
	}
	s.latest, s.ok = r, true
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(r)
	}
}

// Latest returns the newest result, false if none arrived yet.
func (s *LatestSink) Latest() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}

// Stale returns how many results were discarded as out of date.
func (s *LatestSink) Stale() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}
