package runtime

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxRetired = 10

// Store publishes the current value of T to concurrent readers. Swapped out
// values are retired and reaped once their last reader releases them;
// OnDrained runs once for each reaped value.
type Store[T any] struct {
	current    atomic.Pointer[Ref[T]]
	mu         sync.Mutex
	retired    []*Ref[T]
	maxRetired int
	onDrained  func(T)
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{maxRetired: defaultMaxRetired}
}

// OnDrained registers fn to run after a retired value has no readers left.
// fn runs without the store lock held.
func (s *Store[T]) OnDrained(fn func(T)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.onDrained = fn
	s.mu.Unlock()
}

func (s *Store[T]) Get() (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	ref := s.current.Load()
	if ref == nil {
		return zero, false
	}
	return ref.Value, true
}

// Acquire pins the current value. The caller must Release the returned ref.
func (s *Store[T]) Acquire() *Ref[T] {
	if s == nil {
		return nil
	}
	for {
		ref := s.current.Load()
		if ref == nil {
			return nil
		}
		ref.IncRef()
		if !ref.Retired() {
			return ref
		}
		// Retired between load and pin; try the new current value.
		s.Release(ref)
	}
}

func (s *Store[T]) Release(ref *Ref[T]) {
	if ref == nil {
		return
	}
	ref.DecRef()
	if ref.Retired() && ref.RefCount() == 0 {
		s.Reap()
	}
}

// Swap makes next current and retires the previous value, which is
// returned.
func (s *Store[T]) Swap(next T) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	ref := &Ref[T]{Value: next}

	s.mu.Lock()
	previous := s.current.Swap(ref)
	if previous != nil {
		previous.MarkRetired(time.Now())
		s.retired = append(s.retired, previous)
	}
	s.mu.Unlock()

	s.Reap()
	if previous == nil {
		return zero, false
	}
	return previous.Value, true
}

func (s *Store[T]) RetiredCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	count := len(s.retired)
	s.mu.Unlock()
	return count
}

// UnderPressure reports whether too many retired values are still pinned.
func (s *Store[T]) UnderPressure() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.maxRetired
	if limit <= 0 {
		limit = defaultMaxRetired
	}
	return len(s.retired) >= limit
}

func (s *Store[T]) SetMaxRetired(limit int) {
	if s == nil {
		return
	}
	if limit <= 0 {
		limit = defaultMaxRetired
	}
	s.mu.Lock()
	s.maxRetired = limit
	s.mu.Unlock()
}

func (s *Store[T]) Reap() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if len(s.retired) == 0 {
		s.mu.Unlock()
		return
	}
	var drained []T
	retained := s.retired[:0]
	for _, ref := range s.retired {
		if ref == nil {
			continue
		}
		if ref.RefCount() != 0 {
			retained = append(retained, ref)
			continue
		}
		drained = append(drained, ref.Value)
	}
	for i := len(retained); i < len(s.retired); i++ {
		s.retired[i] = nil
	}
	s.retired = retained
	onDrained := s.onDrained
	s.mu.Unlock()

	if onDrained == nil {
		return
	}
	for _, value := range drained {
		onDrained(value)
	}
}
