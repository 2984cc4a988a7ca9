package observation

import "iter"

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring[T any] struct {
	data []T
	head int
	n    int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{data: make([]T, capacity)}
}

// push appends v and reports the evicted element, if any.
func (r *ring[T]) push(v T) (evicted T, ok bool) {
	if len(r.data) == 0 {
		return v, true
	}
	if r.n == len(r.data) {
		evicted = r.data[r.head]
		r.data[r.head] = v
		r.head = (r.head + 1) % len(r.data)
		return evicted, true
	}
	r.data[(r.head+r.n)%len(r.data)] = v
	r.n++
	return evicted, false
}

func (r *ring[T]) front() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.data[r.head], true
}

func (r *ring[T]) popFront() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.data[r.head]
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.n--
	return v, true
}

func (r *ring[T]) len() int { return r.n }

func (r *ring[T]) reset() {
	clear(r.data)
	r.head, r.n = 0, 0
}

// all yields elements oldest first.
func (r *ring[T]) all() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := range r.n {
			if !yield(r.data[(r.head+i)%len(r.data)]) {
				return
			}
		}
	}
}
