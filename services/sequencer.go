package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sequencer delivers items to a consumer strictly in key order without gaps.
// Items may be pushed in any order from any goroutine; the head of the pending
// buffer is delivered only while its key equals the next expected key.
type Sequencer[T any] struct {
	key     func(T) uint64
	consume func(context.Context, T) error

	pending  []T
	next     uint64
	primed   bool
	gapSince time.Time
	now      func() time.Time
	mu       sync.Mutex
}

func NewSequencer[T any](key func(T) uint64, consume func(context.Context, T) error) *Sequencer[T] {
	return &Sequencer[T]{
		key:     key,
		consume: consume,
		now:     time.Now,
	}
}

// Prime sets the key of the first item to deliver. Items pushed before
// priming are buffered. Priming an already primed sequencer is a no-op.
func (s *Sequencer[T]) Prime(first uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.primed {
		return
	}

	s.next = first
	s.primed = true
}

// Primed reports whether Prime was called.
func (s *Sequencer[T]) Primed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.primed
}

// Push adds items and delivers every deliverable head. Items whose key was
// already delivered are dropped. If the consumer fails, the item stays at the
// head and the error is returned; the next Push retries it.
func (s *Sequencer[T]) Push(ctx context.Context, items ...T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, items...)
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.key(s.pending[i]) < s.key(s.pending[j])
	})

	if !s.primed {
		return nil
	}

	defer s.trackGap()

	for len(s.pending) > 0 {
		head := s.pending[0]
		key := s.key(head)

		if key < s.next {
			s.pending = s.pending[1:]
			continue
		}

		if key > s.next {
			return nil
		}

		if err := s.consume(ctx, head); err != nil {
			return err
		}

		s.pending = s.pending[1:]
		s.next++
	}

	return nil
}

// trackGap must be called with mu held.
func (s *Sequencer[T]) trackGap() {
	if len(s.pending) == 0 || s.key(s.pending[0]) == s.next {
		s.gapSince = time.Time{}
		return
	}

	if s.gapSince.IsZero() {
		s.gapSince = s.now()
	}
}

// Next returns the key the sequencer waits for.
func (s *Sequencer[T]) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next
}

// Pending returns the number of buffered items.
func (s *Sequencer[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// GapSince returns when the head of the buffer started waiting for a missing key.
// The second value is false while nothing is blocked.
func (s *Sequencer[T]) GapSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gapSince, !s.gapSince.IsZero()
}
