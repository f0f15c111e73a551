package engine

// ring is a fixed-capacity FIFO that evicts the oldest entry on overflow.
// It is not safe for concurrent use; owners guard it with their own lock.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int {
	return r.size
}

// each visits entries oldest first until fn returns false.
func (r *ring[T]) each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

// reverse visits entries newest first until fn returns false.
func (r *ring[T]) reverse(fn func(T) bool) {
	for i := r.size - 1; i >= 0; i-- {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, 0, r.size)
	r.each(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}
