package runtime

import (
	"sync/atomic"
	"time"
)

// Ref pins one value held by a Store. Requests hold a Ref for as long as
// they use the value.
type Ref[T any] struct {
	Value     T
	refCount  atomic.Int64
	retiredAt atomic.Int64
}

func (r *Ref[T]) IncRef() {
	if r == nil {
		return
	}
	r.refCount.Add(1)
}

func (r *Ref[T]) DecRef() {
	if r == nil {
		return
	}
	r.refCount.Add(-1)
}

func (r *Ref[T]) RefCount() int64 {
	if r == nil {
		return 0
	}
	return r.refCount.Load()
}

func (r *Ref[T]) MarkRetired(now time.Time) {
	if r == nil {
		return
	}
	r.retiredAt.Store(now.UnixNano())
}

func (r *Ref[T]) Retired() bool {
	if r == nil {
		return false
	}
	return r.retiredAt.Load() > 0
}

func (r *Ref[T]) RetiredAt() time.Time {
	if r == nil {
		return time.Time{}
	}
	retiredAt := r.retiredAt.Load()
	if retiredAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, retiredAt)
}
