package rdma

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newLoopbackEngine() *Engine {
	return NewEngine(NewLoopbackFactory(16, []string{"127.0.0.1"}))
}

func connectPair(t *testing.T, e *Engine) (senderH, receiverH Handle) {
	t.Helper()
	addr := Address{Host: "loopback", Port: 9}

	listenerH, err := e.CreateListenerSession(addr)
	if err != nil {
		t.Fatalf("CreateListenerSession: %v", err)
	}
	connectorH, err := e.CreateConnectorSession(addr)
	if err != nil {
		t.Fatalf("CreateConnectorSession: %v", err)
	}

	var wg sync.WaitGroup
	var acceptedH Handle
	var acceptErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptedH, acceptErr = e.Accept(listenerH, Receive, -1)
	}()

	if err := e.Connect(connectorH, Send, addr, -1); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	wg.Wait()
	if acceptErr != nil {
		t.Fatalf("Accept: %v", acceptErr)
	}
	return connectorH, acceptedH
}

func TestEnumerateReturnsFactoryAddresses(t *testing.T) {
	e := newLoopbackEngine()
	addrs, err := e.Enumerate(0)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Fatalf("Enumerate = %v", addrs)
	}
}

func TestConnectAcceptSendReceiveRoundTrip(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(senderH, 0)
	defer e.CloseSession(receiverH, 0)

	if err := e.ConfigureBuffers(receiverH, 128, 4); err != nil {
		t.Fatalf("receiver ConfigureBuffers: %v", err)
	}
	if err := e.ConfigureBuffers(senderH, 128, 4); err != nil {
		t.Fatalf("sender ConfigureBuffers: %v", err)
	}

	region, err := e.AcquireSendRegion(senderH, 1000)
	if err != nil {
		t.Fatalf("AcquireSendRegion: %v", err)
	}
	payload := []byte("hello over the public api")
	copy(region.Base, payload)

	type callbackResult struct {
		status error
		n      int
		ctx    any
	}
	cbCh := make(chan callbackResult, 1)
	if err := e.QueueBufferRegion(senderH, region, len(payload), func(status error, n int, ctx1, ctx2 any) {
		cbCh <- callbackResult{status, n, ctx1}
	}, "send-tag", nil); err != nil {
		t.Fatalf("QueueBufferRegion: %v", err)
	}

	recvRegion, err := e.AcquireReceivedRegion(receiverH, 2000)
	if err != nil {
		t.Fatalf("AcquireReceivedRegion: %v", err)
	}
	if recvRegion.Used != len(payload) {
		t.Fatalf("Used=%d want %d", recvRegion.Used, len(payload))
	}
	if string(recvRegion.Base[:recvRegion.Used]) != string(payload) {
		t.Fatalf("received %q want %q", recvRegion.Base[:recvRegion.Used], payload)
	}
	if err := e.ReleaseReceivedBufferRegion(receiverH, recvRegion); err != nil {
		t.Fatalf("ReleaseReceivedBufferRegion: %v", err)
	}

	select {
	case res := <-cbCh:
		if res.status != nil {
			t.Fatalf("send completion status: %v", res.status)
		}
		if res.n != len(payload) {
			t.Fatalf("completion bytesTransferred=%d want %d", res.n, len(payload))
		}
		if res.ctx != "send-tag" {
			t.Fatalf("completion ctx1=%v want %q", res.ctx, "send-tag")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send completion callback never fired")
	}
}

func TestSendLargerThanRecvBufferFails(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(senderH, 0)
	defer e.CloseSession(receiverH, 0)

	if err := e.ConfigureBuffers(receiverH, 8, 2); err != nil {
		t.Fatalf("receiver ConfigureBuffers: %v", err)
	}
	if err := e.ConfigureBuffers(senderH, 64, 2); err != nil {
		t.Fatalf("sender ConfigureBuffers: %v", err)
	}
	// Give the receiver's auto-posted credit update time to reach the
	// sender's ack handler so Queue takes the synchronous
	// already-has-credit path below instead of parking in
	// WaitingCredit and failing asynchronously on AddCredit instead.
	time.Sleep(100 * time.Millisecond)

	region, err := e.AcquireSendRegion(senderH, 1000)
	if err != nil {
		t.Fatalf("AcquireSendRegion: %v", err)
	}
	payload := make([]byte, 64)
	copy(region.Base, payload)

	err = e.QueueBufferRegion(senderH, region, len(payload), nil, nil, nil)
	if err == nil {
		t.Fatal("expected SendTooLargeForRecvBuffer")
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindSendTooLargeForRecvBuffer {
		t.Fatalf("expected KindSendTooLargeForRecvBuffer, got %v", err)
	}
}

func TestCloseSessionOnInvalidHandleIsSilentNoOp(t *testing.T) {
	e := newLoopbackEngine()
	if err := e.CloseSession(InvalidHandle, 0); err != nil {
		t.Fatalf("CloseSession(InvalidHandle) should be a silent no-op: %v", err)
	}
}

func TestCloseSessionOnUnknownHandleFails(t *testing.T) {
	e := newLoopbackEngine()
	if err := e.CloseSession(Handle(12345), 0); err == nil {
		t.Fatal("expected InvalidSession for an unregistered handle")
	}
}

func TestAbortSessionLeavesHandleRegistered(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(receiverH, 0)

	if err := e.AbortSession(senderH); err != nil {
		t.Fatalf("AbortSession: %v", err)
	}
	if e.NumOpenedSessions() != 2 {
		t.Fatalf("AbortSession must not remove the handle from the registry, NumOpenedSessions=%d", e.NumOpenedSessions())
	}
	if err := e.CloseSession(senderH, 0); err != nil {
		t.Fatalf("CloseSession after Abort: %v", err)
	}
}

func TestGetLocalAndRemoteAddress(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(senderH, 0)
	defer e.CloseSession(receiverH, 0)

	local, err := e.GetLocalAddress(senderH)
	if err != nil {
		t.Fatalf("GetLocalAddress: %v", err)
	}
	remote, err := e.GetRemoteAddress(senderH)
	if err != nil {
		t.Fatalf("GetRemoteAddress: %v", err)
	}
	if local.Host == "" || remote.Host == "" {
		t.Fatalf("expected non-empty addresses, got local=%+v remote=%+v", local, remote)
	}
}

func TestGetSetPropertyConnectionState(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(senderH, 0)
	defer e.CloseSession(receiverH, 0)

	data, err := e.GetProperty(senderH, Connected)
	if err != nil {
		t.Fatalf("GetProperty(Connected): %v", err)
	}
	connected, err := data.Bool()
	if err != nil || !connected {
		t.Fatalf("expected Connected=true, got %v (err=%v)", connected, err)
	}
}

func TestNumOpenedSessionsTracksCreateAndClose(t *testing.T) {
	e := newLoopbackEngine()
	if e.NumOpenedSessions() != 0 {
		t.Fatalf("expected 0 open sessions initially, got %d", e.NumOpenedSessions())
	}
	h, err := e.CreateConnectorSession(Address{Host: "loopback", Port: 1})
	if err != nil {
		t.Fatalf("CreateConnectorSession: %v", err)
	}
	if e.NumOpenedSessions() != 1 {
		t.Fatalf("expected 1 open session, got %d", e.NumOpenedSessions())
	}
	if err := e.CloseSession(h, 0); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if e.NumOpenedSessions() != 0 {
		t.Fatalf("expected 0 open sessions after close, got %d", e.NumOpenedSessions())
	}
}

// TestCloseDuringReceiveCancelsPromptly is spec §8 boundary scenario 4:
// closing a session out from under a long, still-pending
// AcquireReceivedRegion must unblock the caller with OperationCancelled
// well before its own timeout expires.
func TestCloseDuringReceiveCancelsPromptly(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(senderH, 0)

	if err := e.ConfigureBuffers(receiverH, 128, 4); err != nil {
		t.Fatalf("receiver ConfigureBuffers: %v", err)
	}

	type result struct {
		err      error
		duration time.Duration
	}
	resCh := make(chan result, 1)
	start := time.Now()
	go func() {
		_, err := e.AcquireReceivedRegion(receiverH, 5000)
		resCh <- result{err, time.Since(start)}
	}()

	time.Sleep(100 * time.Millisecond)
	if err := e.CloseSession(receiverH, 0); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	select {
	case res := <-resCh:
		if res.duration > 500*time.Millisecond {
			t.Fatalf("AcquireReceivedRegion took %v, want under 500ms", res.duration)
		}
		var rerr *Error
		if !errors.As(res.err, &rerr) || rerr.Kind != KindOperationCancelled {
			t.Fatalf("expected KindOperationCancelled, got %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("AcquireReceivedRegion never returned after CloseSession")
	}
}

// TestFlowControlThrottledReaderRoundTripsInOrder is spec §8 boundary
// scenario 6: with 5 send buffers racing against a single receive
// buffer and a throttled reader, credit-based flow control must still
// deliver every transfer in order with no data loss.
func TestFlowControlThrottledReaderRoundTripsInOrder(t *testing.T) {
	e := newLoopbackEngine()
	senderH, receiverH := connectPair(t, e)
	defer e.CloseSession(senderH, 0)
	defer e.CloseSession(receiverH, 0)

	if err := e.ConfigureBuffers(receiverH, 64, 1); err != nil {
		t.Fatalf("receiver ConfigureBuffers: %v", err)
	}
	if err := e.ConfigureBuffers(senderH, 64, 5); err != nil {
		t.Fatalf("sender ConfigureBuffers: %v", err)
	}

	const transfers = 15
	sendErrCh := make(chan error, 1)
	go func() {
		for i := 0; i < transfers; i++ {
			region, err := e.AcquireSendRegion(senderH, 2000)
			if err != nil {
				sendErrCh <- err
				return
			}
			region.Base[0] = byte(i)
			if err := e.QueueBufferRegion(senderH, region, 1, nil, nil, nil); err != nil {
				sendErrCh <- err
				return
			}
		}
		sendErrCh <- nil
	}()

	for i := 0; i < transfers; i++ {
		// Throttled reader: pace acquisitions so the sender's 5 send
		// buffers genuinely queue up against the receiver's 1 credit.
		time.Sleep(10 * time.Millisecond)
		recvRegion, err := e.AcquireReceivedRegion(receiverH, 2000)
		if err != nil {
			t.Fatalf("transfer %d: AcquireReceivedRegion: %v", i, err)
		}
		if recvRegion.Used != 1 || recvRegion.Base[0] != byte(i) {
			t.Fatalf("transfer %d: got byte %v (used=%d), want %d", i, recvRegion.Base[:recvRegion.Used], recvRegion.Used, i)
		}
		if err := e.ReleaseReceivedBufferRegion(receiverH, recvRegion); err != nil {
			t.Fatalf("transfer %d: ReleaseReceivedBufferRegion: %v", i, err)
		}
	}

	select {
	case err := <-sendErrCh:
		if err != nil {
			t.Fatalf("sender goroutine: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sender goroutine never finished")
	}
}
