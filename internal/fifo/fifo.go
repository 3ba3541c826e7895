// File: internal/fifo/fifo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package fifo implements the bounded, non-thread-safe single-producer/
// single-consumer ring used behind the buffer queue's lock (spec §4.4).
// It wraps github.com/eapache/queue, an auto-growing deque, and rejects
// pushes past a fixed capacity established at construction instead of
// letting the backing deque grow — the teacher module declares this
// dependency but never imports it; this is the first real use of it.
package fifo

import "github.com/eapache/queue"

// FIFO is a fixed-capacity ring of buffer indices. Capacity is set at
// construction and never resized during a session's lifetime.
type FIFO struct {
	q   *queue.Queue
	cap int
}

// New returns an empty FIFO with the given fixed capacity.
func New(capacity int) *FIFO {
	return &FIFO{q: queue.New(), cap: capacity}
}

// Push appends v to the back of the ring. Returns false if the ring is
// already at capacity; the caller's push is rejected rather than
// silently growing the backing deque.
func (f *FIFO) Push(v int) bool {
	if f.q.Length() >= f.cap {
		return false
	}
	f.q.Add(v)
	return true
}

// Pop removes and returns the front element. Returns false if empty.
func (f *FIFO) Pop() (int, bool) {
	if f.q.Length() == 0 {
		return 0, false
	}
	v := f.q.Peek().(int)
	f.q.Remove()
	return v, true
}

// Front returns the front element without removing it.
func (f *FIFO) Front() (int, bool) {
	if f.q.Length() == 0 {
		return 0, false
	}
	return f.q.Peek().(int), true
}

// Size returns the current number of elements.
func (f *FIFO) Size() int { return f.q.Length() }

// Capacity returns the fixed capacity established at construction.
func (f *FIFO) Capacity() int { return f.cap }

// Drain removes and returns every element currently queued, oldest
// first, leaving the ring empty.
func (f *FIFO) Drain() []int {
	out := make([]int, 0, f.q.Length())
	for f.q.Length() > 0 {
		v := f.q.Peek().(int)
		f.q.Remove()
		out = append(out, v)
	}
	return out
}
