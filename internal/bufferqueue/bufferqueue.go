// File: internal/bufferqueue/bufferqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package bufferqueue implements the per-direction buffer-region state
// machine (spec §4.5), the hard core of the streaming engine: a fixed
// pool of buffers cycling through Idle/User/WaitingCredit/Queued/
// Completed, with a sticky first-error-wins abort path and the
// application-level credit protocol's send-side throttling.
//
// Grounded on original_source/core/common/RdmaBufferQueue.h/.cpp in
// full: the five-state machine, putBackToIdleOnCompletion,
// Abort/QueueBuffer/AddCredit/HandleCompletion/WaitForIdleBuffer/
// WaitForCompletedBuffer, and the Multiple/Single buffer-type split.
package bufferqueue

import (
	"sync"
	"time"
	"unsafe"

	"github.com/momentics/easyrdma-go/internal/fifo"
	"github.com/momentics/easyrdma-go/internal/membuf"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// Direction mirrors spec §3 Direction, restricted here to the two
// concrete values a connected buffer queue can have.
type Direction int

const (
	Send Direction = iota
	Receive
)

// BufferType mirrors spec §3 BufferType.
type BufferType int

const (
	Multiple BufferType = iota
	Single
)

// State is a buffer's position in the five-state machine of spec §4.5.
type State int

const (
	Idle State = iota
	User
	WaitingCredit
	Queued
	Completed
)

// Callback is the public completion-callback contract: completion
// status, bytes transferred, and the two opaque context words the
// caller supplied with queue(). Invoked outside every internal lock
// from the completion dispatcher, never from the submitter's thread,
// and may re-enter the library.
type Callback func(status error, bytesTransferred int, ctx1, ctx2 unsafe.Pointer)

// Submitter is the provider boundary this queue hands buffers to once
// they are ready for the wire (spec §1: post_send/post_recv are
// provided by the verbs/CM provider, out of scope here).
type Submitter interface {
	// Submit posts buffer index idx (direction-appropriate: post_send
	// for Send queues, post_recv for Receive queues) for up to `used`
	// bytes (ignored on Receive, where the full capacity is posted).
	Submit(idx int, used int) error
}

type slot struct {
	index      int
	region     *membuf.Region
	base       []byte
	capacity   int
	used       int
	state      State
	userLinked bool
	callback   Callback
	ctx1, ctx2 unsafe.Pointer
}

// Queue is the per-direction, per-session buffer-region state machine.
type Queue struct {
	mu sync.Mutex

	direction  Direction
	bufferType BufferType
	usePolling bool
	submitter  Submitter
	pollHook   func(timeoutMs int) error

	slots []slot

	idleQ    *fifo.FIFO
	waitingQ *fifo.FIFO
	queuedQ  *fifo.FIFO
	completedQ *fifo.FIFO
	userSet  map[int]bool

	credits []int // available credit byte-capacities, oldest first

	putBackToIdleOnCompletion bool

	aborted    bool
	stickyErr  error

	idleSignal      chan struct{}
	completedSignal chan struct{}

	// external is the caller's full buffer, retained only for
	// BufferType==Single so SetRegion can re-slice an acquired slot
	// to an arbitrary overlapping sub-range before queueing it.
	external []byte
}

// Config parameterises queue construction (spec §4.5 first paragraph).
type Config struct {
	Direction  Direction
	BufferType BufferType
	NumBuffers int
	BufferSize int // size of each Multiple buffer, ignored for Single
	UsePolling bool
	Registrar  membuf.Registrar
	Submitter  Submitter
	// PollHook, when UsePolling is set, is invoked with the queue lock
	// released to drive the provider's poll_for_receive(timeoutMs) and
	// pump completions onto this queue from the caller's own goroutine.
	PollHook func(timeoutMs int) error

	// External is non-nil only for BufferType==Single: the caller's
	// contiguous buffer, leased as NumBuffers overlapping sub-ranges.
	External     []byte
	ExternalSize int // size of each leased sub-range
}

// New allocates the buffer pool and returns a ready Idle-populated
// queue. For Multiple/Internal it allocates NumBuffers 64-byte aligned
// regions of BufferSize each; for Single/External it leases NumBuffers
// overlapping windows of size ExternalSize into the caller's buffer.
func New(cfg Config) (*Queue, error) {
	q := &Queue{
		direction:  cfg.Direction,
		bufferType: cfg.BufferType,
		usePolling: cfg.UsePolling,
		submitter:  cfg.Submitter,
		pollHook:   cfg.PollHook,
		idleQ:      fifo.New(cfg.NumBuffers),
		waitingQ:   fifo.New(cfg.NumBuffers),
		queuedQ:    fifo.New(cfg.NumBuffers),
		completedQ: fifo.New(cfg.NumBuffers),
		userSet:    make(map[int]bool),
		idleSignal:      make(chan struct{}),
		completedSignal: make(chan struct{}),
	}
	q.putBackToIdleOnCompletion = cfg.Direction == Send || cfg.BufferType == Single

	var sharedExternal *membuf.Region
	if cfg.BufferType == Single {
		region, err := membuf.RegisterExternal(cfg.External, cfg.Registrar)
		if err != nil {
			return nil, err
		}
		sharedExternal = region
		q.external = cfg.External
	}

	q.slots = make([]slot, cfg.NumBuffers)
	for i := 0; i < cfg.NumBuffers; i++ {
		s := &q.slots[i]
		s.index = i
		s.state = Idle
		switch cfg.BufferType {
		case Multiple:
			region, err := membuf.AllocateAligned(cfg.BufferSize, cfg.Registrar)
			if err != nil {
				return nil, err
			}
			s.region = region
			s.base = region.Bytes()
			s.capacity = cfg.BufferSize
		case Single:
			start := i * cfg.ExternalSize
			s.region = sharedExternal
			s.base = cfg.External[start : start+cfg.ExternalSize]
			s.capacity = cfg.ExternalSize
		}
		q.idleQ.Push(i)
	}
	return q, nil
}

// SetRegion re-slices an Idle-acquired Single-type handle to an
// arbitrary overlapping sub-range [offset:offset+size) of the
// original external buffer, letting the caller address any location
// within their own registered memory for this submission rather than
// the fixed per-slot window New() assigned by default (spec §4.5
// External ownership; grounded on RdmaBufferExternal::SetBufferRegion).
func (q *Queue) SetRegion(h BufferHandle, offset, size int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.bufferType != Single {
		return rdmaerr.New(rdmaerr.OperationNotSupported, 0)
	}
	s := &q.slots[h]
	if s.state != User {
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	if offset < 0 || size < 0 || offset+size > len(q.external) {
		return rdmaerr.New(rdmaerr.InvalidSize, 0)
	}
	s.base = q.external[offset : offset+size]
	s.capacity = size
	return nil
}

// BufferHandle is the user-visible region identity: a buffer index
// validated against the owning queue on every entry (spec §9).
type BufferHandle int

// Capacity, Used, Base expose a slot's attributes to the session layer
// that builds application-facing regions on top of this queue.
func (q *Queue) Capacity(h BufferHandle) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[h].capacity
}

func (q *Queue) Used(h BufferHandle) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[h].used
}

func (q *Queue) Base(h BufferHandle) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[h].base
}

// Token returns the provider registration token backing h, for a
// Submitter to pass into post_send/post_recv.
func (q *Queue) Token(h BufferHandle) membuf.RegistrationToken {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[h].region.Token()
}

// Direction reports this queue's own direction (spec §3), distinct
// from the data direction of a session that may run an auxiliary
// queue in the opposite direction.
func (q *Queue) Direction() Direction { return q.direction }

// BufferType reports this queue's buffer type, fixed at construction.
func (q *Queue) BufferType() BufferType { return q.bufferType }

// SetUsed records how many bytes of the buffer the caller filled in
// before queueing (Send) or how many bytes a completion delivered
// (Receive, surfaced to the application after acquire_completed).
func (q *Queue) SetUsed(h BufferHandle, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := &q.slots[h]
	if n < 0 || n > s.capacity {
		return rdmaerr.New(rdmaerr.InvalidSize, 0)
	}
	s.used = n
	return nil
}

// NumBuffers returns the fixed pool size.
func (q *Queue) NumBuffers() int { return len(q.slots) }

// --- state queries used by the property surface and registry ---

// QueuedCount returns the number of buffers currently in Queued or
// WaitingCredit (the property surface's QueuedBuffers).
func (q *Queue) QueuedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint64(q.queuedQ.Size() + q.waitingQ.Size())
}

// UserCount returns the number of buffers held by the application.
func (q *Queue) UserCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint64(len(q.userSet))
}

// HasOutstandingUserBuffers reports whether any buffer is in User.
func (q *Queue) HasOutstandingUserBuffers() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.userSet) > 0
}

func broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

// waitUntil is the shared blocking-wait loop for acquire_idle and
// acquire_completed: poll on timeout==0, wait-forever on timeout<0,
// deadline-bounded otherwise. cond returns a pointer to the signal
// channel field so repeated waits observe fresh broadcasts.
func (q *Queue) waitUntil(timeout time.Duration, forever bool, poll bool, cond func() *chan struct{}, ready func() (int, bool)) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		if q.aborted {
			return 0, q.stickyErr
		}
		if idx, ok := ready(); ok {
			return idx, nil
		}
		if poll {
			return 0, rdmaerr.New(rdmaerr.Timeout, 0)
		}
		ch := *cond()
		q.mu.Unlock()
		if forever {
			<-ch
		} else {
			wait := time.Until(deadline)
			if wait <= 0 {
				q.mu.Lock()
				return 0, rdmaerr.New(rdmaerr.Timeout, 0)
			}
			select {
			case <-ch:
			case <-time.After(wait):
			}
		}
		q.mu.Lock()
		if !forever && !time.Now().Before(deadline) {
			if q.aborted {
				return 0, q.stickyErr
			}
			if idx, ok := ready(); ok {
				return idx, nil
			}
			return 0, rdmaerr.New(rdmaerr.Timeout, 0)
		}
	}
}

// AcquireIdle returns an Idle buffer and moves it to User. timeout==0
// is a poll; timeout<0 is wait-forever.
func (q *Queue) AcquireIdle(timeoutMs int) (BufferHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	forever := timeoutMs < 0
	poll := timeoutMs == 0
	idx, err := q.waitUntil(time.Duration(timeoutMs)*time.Millisecond, forever, poll,
		func() *chan struct{} { return &q.idleSignal },
		func() (int, bool) { return q.idleQ.Pop() })
	if err != nil {
		return 0, err
	}
	q.slots[idx].state = User
	q.slots[idx].userLinked = true
	q.userSet[idx] = true
	return BufferHandle(idx), nil
}

// AcquireCompleted returns a Completed buffer and moves it to User.
// Fails NoBuffersQueued if nothing is in flight at call time. If
// usePolling is set and Config.PollHook is non-nil, this call releases
// the lock, runs the hook once with timeoutMs on the calling goroutine,
// and then returns a Completed buffer if one is ready, or else the
// sticky error, the hook's error, or Timeout.
func (q *Queue) AcquireCompleted(timeoutMs int) (BufferHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.putBackToIdleOnCompletion {
		return 0, rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	if q.completedQ.Size() == 0 && q.aborted {
		return 0, q.stickyErr
	}
	if q.queuedQ.Size()+q.waitingQ.Size() == 0 && q.completedQ.Size() == 0 {
		return 0, rdmaerr.New(rdmaerr.NoBuffersQueued, 0)
	}
	if q.usePolling && q.pollHook != nil {
		q.mu.Unlock()
		pollErr := q.pollHook(timeoutMs)
		q.mu.Lock()
		if idx, ok := q.completedQ.Pop(); ok {
			q.slots[idx].state = User
			q.slots[idx].userLinked = true
			q.userSet[idx] = true
			return BufferHandle(idx), nil
		}
		if q.aborted {
			return 0, q.stickyErr
		}
		if pollErr != nil {
			return 0, rdmaerr.Wrap(pollErr)
		}
		return 0, rdmaerr.New(rdmaerr.Timeout, 0)
	}
	forever := timeoutMs < 0
	poll := timeoutMs == 0
	idx, err := q.waitUntil(time.Duration(timeoutMs)*time.Millisecond, forever, poll,
		func() *chan struct{} { return &q.completedSignal },
		func() (int, bool) { return q.completedQ.Pop() })
	if err != nil {
		if q.completedQ.Size() > 0 {
			if idx2, ok := q.completedQ.Pop(); ok {
				q.slots[idx2].state = User
				q.slots[idx2].userLinked = true
				q.userSet[idx2] = true
				return BufferHandle(idx2), nil
			}
		}
		return 0, err
	}
	q.slots[idx].state = User
	q.slots[idx].userLinked = true
	q.userSet[idx] = true
	return BufferHandle(idx), nil
}

// PollCompleted is a non-blocking drain used by the polling-mode
// receive path: it returns a Completed buffer if one is already
// available without waiting, distinguishing "nothing yet" from a
// sticky error.
func (q *Queue) PollCompleted() (BufferHandle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx, ok := q.completedQ.Pop()
	if !ok {
		return 0, false
	}
	q.slots[idx].state = User
	q.slots[idx].userLinked = true
	q.userSet[idx] = true
	return BufferHandle(idx), true
}

// UsePolling reports whether this queue was constructed with
// use_polling, for the session layer's acquire_completed drive loop.
func (q *Queue) UsePolling() bool { return q.usePolling }

// StickyError returns the latched abort error, if any.
func (q *Queue) StickyError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stickyErr
}

// Queue moves a User buffer into the send/receive pipeline. Send
// buffers with an available credit (unless ignoreCredits) go straight
// to the provider; without one they park in WaitingCredit. Receive
// buffers (or ignoreCredits==true, used by the credit protocol's own
// auxiliary queue) go directly to Queued and the provider.
func (q *Queue) Queue(h BufferHandle, ignoreCredits bool) error {
	q.mu.Lock()
	idx := int(h)
	s := &q.slots[idx]
	if s.state != User {
		q.mu.Unlock()
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	if q.aborted {
		q.mu.Unlock()
		return q.stickyErr
	}
	toSubmit := -1
	if q.direction == Send && !ignoreCredits {
		if len(q.credits) > 0 {
			credit := q.credits[0]
			if s.used > credit {
				err := rdmaerr.New(rdmaerr.SendTooLargeForRecvBuffer, 0)
				q.stickyErr = err
				q.mu.Unlock()
				return err
			}
			q.credits = q.credits[1:]
			s.state = Queued
			s.userLinked = false
			delete(q.userSet, idx)
			q.queuedQ.Push(idx)
			toSubmit = idx
		} else {
			s.state = WaitingCredit
			s.userLinked = false
			delete(q.userSet, idx)
			q.waitingQ.Push(idx)
		}
	} else {
		s.state = Queued
		s.userLinked = false
		delete(q.userSet, idx)
		q.queuedQ.Push(idx)
		toSubmit = idx
	}
	used := s.used
	q.mu.Unlock()

	if toSubmit >= 0 {
		if err := q.submitter.Submit(toSubmit, used); err != nil {
			return rdmaerr.Wrap(err)
		}
	}
	return nil
}

// AddCredit records that the peer has posted a receive buffer with the
// given byte capacity. If a buffer is parked in WaitingCredit, it is
// popped (oldest first) and handed to the provider immediately;
// otherwise the credit is banked for a future Queue call.
func (q *Queue) AddCredit(bytes int) error {
	q.mu.Lock()
	idx, ok := q.waitingQ.Pop()
	if !ok {
		q.credits = append(q.credits, bytes)
		q.mu.Unlock()
		return nil
	}
	s := &q.slots[idx]
	if s.used > bytes {
		err := rdmaerr.New(rdmaerr.SendTooLargeForRecvBuffer, 0)
		q.stickyErr = err
		q.mu.Unlock()
		return err
	}
	s.state = Queued
	q.queuedQ.Push(idx)
	used := s.used
	q.mu.Unlock()

	if err := q.submitter.Submit(idx, used); err != nil {
		return rdmaerr.Wrap(err)
	}
	return nil
}

// Release returns a User buffer straight back to Idle without
// queueing it to the provider.
func (q *Queue) Release(h BufferHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := int(h)
	s := &q.slots[idx]
	if s.state != User {
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	s.state = Idle
	s.userLinked = false
	s.used = 0
	delete(q.userSet, idx)
	q.idleQ.Push(idx)
	broadcast(&q.idleSignal)
	return nil
}

// HandleCompletion is invoked by the completion dispatcher when the
// provider reports a work completion for buffer idx, which must be at
// the head of Queued (completions are delivered in FIFO order).
func (q *Queue) HandleCompletion(idx int, completionStatus error, bytesTransferred int) {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return
	}
	head, ok := q.queuedQ.Front()
	if !ok || head != idx {
		// Out-of-order completion: should not happen per spec §4.5
		// precondition; surface as an internal error on the sticky
		// status rather than silently corrupting state.
		q.stickyErr = rdmaerr.New(rdmaerr.InternalError, 0)
		q.aborted = true
		q.mu.Unlock()
		return
	}
	q.queuedQ.Pop()
	s := &q.slots[idx]
	cb, ctx1, ctx2 := s.callback, s.ctx1, s.ctx2
	s.callback = nil
	s.ctx1, s.ctx2 = nil, nil
	if completionStatus != nil {
		s.used = 0
		if q.stickyErr == nil {
			q.stickyErr = completionStatus
		}
	} else {
		s.used = bytesTransferred
	}
	if q.putBackToIdleOnCompletion {
		s.state = Idle
		q.idleQ.Push(idx)
		broadcast(&q.idleSignal)
	} else {
		s.state = Completed
		q.completedQ.Push(idx)
		broadcast(&q.completedSignal)
	}
	q.mu.Unlock()

	if cb != nil {
		cb(completionStatus, bytesTransferred, ctx1, ctx2)
	}
}

// SetCallback attaches the per-buffer completion callback and its two
// opaque context words, called by the session layer immediately before
// Queue.
func (q *Queue) SetCallback(h BufferHandle, cb Callback, ctx1, ctx2 unsafe.Pointer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := &q.slots[h]
	s.callback = cb
	s.ctx1, s.ctx2 = ctx1, ctx2
}

// Abort is idempotent: it stamps the sticky status (first error wins),
// drains every Queued and WaitingCredit buffer into Idle, firing their
// callbacks with the abort error and zero bytes, and wakes both
// condition variables so blocked waiters observe the failure.
func (q *Queue) Abort(err error) {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return
	}
	q.aborted = true
	q.stickyErr = err

	type firing struct {
		cb         Callback
		ctx1, ctx2 unsafe.Pointer
	}
	var toFire []firing

	for _, idx := range q.queuedQ.Drain() {
		s := &q.slots[idx]
		toFire = append(toFire, firing{s.callback, s.ctx1, s.ctx2})
		s.callback = nil
		s.used = 0
		s.state = Idle
		q.idleQ.Push(idx)
	}
	for _, idx := range q.waitingQ.Drain() {
		s := &q.slots[idx]
		toFire = append(toFire, firing{s.callback, s.ctx1, s.ctx2})
		s.callback = nil
		s.used = 0
		s.state = Idle
		q.idleQ.Push(idx)
	}
	broadcast(&q.idleSignal)
	broadcast(&q.completedSignal)
	q.mu.Unlock()

	for _, f := range toFire {
		if f.cb != nil {
			f.cb(err, 0, f.ctx1, f.ctx2)
		}
	}
}
