package bufferqueue

import (
	"testing"
	"time"
	"unsafe"

	"github.com/momentics/easyrdma-go/internal/membuf"
)

type nopRegistrar struct{}

func (nopRegistrar) Register(buf []byte) (membuf.RegistrationToken, error) { return buf, nil }
func (nopRegistrar) Deregister(tok membuf.RegistrationToken) error        { return nil }

type recordingSubmitter struct {
	submitted []int
}

func (s *recordingSubmitter) Submit(idx int, used int) error {
	s.submitted = append(s.submitted, idx)
	return nil
}

func newSendQueue(t *testing.T, n, size int) (*Queue, *recordingSubmitter) {
	t.Helper()
	sub := &recordingSubmitter{}
	q, err := New(Config{
		Direction:  Send,
		BufferType: Multiple,
		NumBuffers: n,
		BufferSize: size,
		Registrar:  nopRegistrar{},
		Submitter:  sub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, sub
}

func TestAcquireIdleMovesToUser(t *testing.T) {
	q, _ := newSendQueue(t, 2, 64)
	h, err := q.AcquireIdle(0)
	if err != nil {
		t.Fatalf("AcquireIdle: %v", err)
	}
	if !q.HasOutstandingUserBuffers() {
		t.Fatal("buffer should be in User set")
	}
	_ = h
}

func TestAcquireIdleTimeoutWhenExhausted(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	if _, err := q.AcquireIdle(0); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := q.AcquireIdle(0); err == nil {
		t.Fatal("expected Timeout on poll of exhausted idle pool")
	}
}

func TestQueueWithoutCreditParksInWaitingCredit(t *testing.T) {
	q, sub := newSendQueue(t, 1, 64)
	h, _ := q.AcquireIdle(0)
	q.SetUsed(h, 10)
	if err := q.Queue(h, false); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(sub.submitted) != 0 {
		t.Fatal("buffer with no credit must not reach the provider yet")
	}
	if q.QueuedCount() != 1 {
		t.Fatalf("QueuedCount=%d want 1 (WaitingCredit counts as queued)", q.QueuedCount())
	}
}

func TestAddCreditReleasesWaitingBuffer(t *testing.T) {
	q, sub := newSendQueue(t, 1, 64)
	h, _ := q.AcquireIdle(0)
	q.SetUsed(h, 10)
	q.Queue(h, false)
	if err := q.AddCredit(100); err != nil {
		t.Fatalf("AddCredit: %v", err)
	}
	if len(sub.submitted) != 1 || sub.submitted[0] != int(h) {
		t.Fatalf("expected buffer %d submitted once, got %v", h, sub.submitted)
	}
}

func TestQueueWithAvailableCreditGoesStraightToProvider(t *testing.T) {
	q, sub := newSendQueue(t, 1, 64)
	if err := q.AddCredit(100); err != nil {
		t.Fatalf("AddCredit: %v", err)
	}
	h, _ := q.AcquireIdle(0)
	q.SetUsed(h, 10)
	if err := q.Queue(h, false); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(sub.submitted) != 1 {
		t.Fatal("buffer should have been submitted immediately")
	}
}

func TestSendTooLargeForCreditSticksError(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	q.AddCredit(5)
	h, _ := q.AcquireIdle(0)
	q.SetUsed(h, 10)
	err := q.Queue(h, false)
	if err == nil {
		t.Fatal("expected SendTooLargeForRecvBuffer")
	}
	if q.StickyError() == nil {
		t.Fatal("expected sticky error to be latched")
	}
}

func TestHandleCompletionFiresCallbackAndReturnsToIdle(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	q.AddCredit(100)
	h, _ := q.AcquireIdle(0)
	q.SetUsed(h, 10)

	fired := make(chan struct{}, 1)
	q.SetCallback(h, func(status error, n int, c1, c2 unsafe.Pointer) { fired <- struct{}{} }, nil, nil)
	q.Queue(h, false)
	q.HandleCompletion(int(h), nil, 10)
	select {
	case <-fired:
	default:
		t.Fatal("completion callback did not fire")
	}
	// buffer must be back in Idle (Send queue: putBackToIdleOnCompletion)
	h2, err := q.AcquireIdle(0)
	if err != nil {
		t.Fatalf("expected idle buffer available after completion: %v", err)
	}
	if h2 != h {
		t.Fatalf("expected same buffer index back from idle, got %d want %d", h2, h)
	}
}

func TestAbortDrainsQueuedAndWaitingWithCallback(t *testing.T) {
	q, _ := newSendQueue(t, 2, 64)
	h1, _ := q.AcquireIdle(0)
	q.SetUsed(h1, 1)
	q.Queue(h1, false) // no credit -> WaitingCredit

	var gotErr error
	done := make(chan struct{})
	q.SetCallback(h1, func(status error, n int, c1, c2 unsafe.Pointer) { gotErr = status }, nil, nil)
	abortErr := testAbortError()
	q.Abort(abortErr)
	close(done)

	if q.StickyError() != abortErr {
		t.Fatal("sticky error should be the abort error")
	}
	if gotErr != abortErr {
		t.Fatalf("drained buffer's callback got %v, want the abort error", gotErr)
	}
	if n := q.QueuedCount(); n != 0 {
		t.Fatalf("QueuedCount=%d after Abort, want 0", n)
	}
	// an aborted queue reports its sticky status instead of handing out buffers
	if _, err := q.AcquireIdle(0); err != abortErr {
		t.Fatalf("AcquireIdle after Abort returned %v, want the abort error", err)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	e1 := testAbortError()
	e2 := testAbortError()
	q.Abort(e1)
	q.Abort(e2)
	if q.StickyError() != e1 {
		t.Fatal("first abort error should win")
	}
}

func TestReleaseRequiresUserState(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	if err := q.Release(0); err == nil {
		t.Fatal("release of an Idle buffer should fail")
	}
	h, _ := q.AcquireIdle(0)
	if err := q.Release(h); err != nil {
		t.Fatalf("release of a User buffer should succeed: %v", err)
	}
}

func TestAcquireIdleWaitForeverWakesOnRelease(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	h, _ := q.AcquireIdle(0)

	resultCh := make(chan error, 1)
	go func() {
		_, err := q.AcquireIdle(-1)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("blocked AcquireIdle should succeed after Release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked AcquireIdle did not wake up after Release")
	}
}

func TestSetRegionReslicesSingleBufferOverlappingRange(t *testing.T) {
	external := make([]byte, 256)
	sub := &recordingSubmitter{}
	q, err := New(Config{
		Direction:    Send,
		BufferType:   Single,
		NumBuffers:   2,
		Registrar:    nopRegistrar{},
		Submitter:    sub,
		External:     external,
		ExternalSize: 64,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := q.AcquireIdle(0)
	if err != nil {
		t.Fatalf("AcquireIdle: %v", err)
	}
	if err := q.SetRegion(h, 100, 32); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	if q.Capacity(h) != 32 {
		t.Fatalf("Capacity=%d want 32", q.Capacity(h))
	}
	base := q.Base(h)
	if len(base) != 32 {
		t.Fatalf("Base len=%d want 32", len(base))
	}
	base[0] = 0xAB
	if external[100] != 0xAB {
		t.Fatal("SetRegion's slice should overlap the original external buffer")
	}
}

func TestSetRegionRejectsOutOfRangeOffset(t *testing.T) {
	external := make([]byte, 64)
	sub := &recordingSubmitter{}
	q, err := New(Config{
		Direction:    Send,
		BufferType:   Single,
		NumBuffers:   1,
		Registrar:    nopRegistrar{},
		Submitter:    sub,
		External:     external,
		ExternalSize: 32,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, _ := q.AcquireIdle(0)
	if err := q.SetRegion(h, 50, 32); err == nil {
		t.Fatal("expected InvalidSize for a range past the external buffer's end")
	}
}

func TestSetRegionRejectsNonSingleQueue(t *testing.T) {
	q, _ := newSendQueue(t, 1, 64)
	h, _ := q.AcquireIdle(0)
	if err := q.SetRegion(h, 0, 8); err == nil {
		t.Fatal("expected OperationNotSupported on a Multiple-type queue")
	}
}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func testAbortError() error { return &testErr{s: "aborted"} }
