package event

import (
	"sync"
	"time"
)

// Stamper hands out strictly increasing UTC timestamps, even when the clock
// stalls or steps backwards.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewStamper returns a Stamper reading from now. A nil now uses time.Now.
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

// Next returns a timestamp later than every previously returned one.
func (s *Stamper) Next() time.Time {
	t := s.now().UTC().Round(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}
