// File: internal/provider/loopback/mpmc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A bounded MPMC completion queue, adapted from the teacher's
// core/concurrency/lock_free_queue.go (Dmitry Vyukov's sequence-number
// ring) onto provider.Completion values. This is a legitimate
// concurrent delivery structure for completions produced by the
// dispatcher goroutine and drained by one or more Poll callers, unlike
// the Buffer Queue itself, which spec §4.4/§4.5 deliberately keeps
// mutex-based.
package loopback

import "sync/atomic"

const cacheLinePad = 64

type completionCell struct {
	sequence atomic.Uint64
	_        [cacheLinePad]byte
	data     completionPayload
}

type completionPayload struct {
	wrid     uint64
	status   error
	numBytes int
}

// completionRing is a fixed-capacity MPMC ring of pending completions.
type completionRing struct {
	head uint64
	_    [cacheLinePad]byte
	tail uint64
	_    [cacheLinePad]byte
	mask uint64
	cells []completionCell
}

func newCompletionRing(capacity int) *completionRing {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	r := &completionRing{mask: uint64(size - 1), cells: make([]completionCell, size)}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

func (r *completionRing) push(p completionPayload) bool {
	for {
		tail := atomic.LoadUint64(&r.tail)
		cell := &r.cells[tail&r.mask]
		seq := cell.sequence.Load()
		dif := int64(seq) - int64(tail)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&r.tail, tail, tail+1) {
				cell.data = p
				cell.sequence.Store(tail + 1)
				return true
			}
		} else if dif < 0 {
			return false // full
		}
	}
}

func (r *completionRing) pop() (completionPayload, bool) {
	for {
		head := atomic.LoadUint64(&r.head)
		cell := &r.cells[head&r.mask]
		seq := cell.sequence.Load()
		dif := int64(seq) - int64(head+1)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&r.head, head, head+1) {
				p := cell.data
				cell.sequence.Store(head + r.mask + 1)
				return p, true
			}
		} else if dif < 0 {
			var zero completionPayload
			return zero, false // empty
		}
	}
}
