package session

import (
	"testing"
	"time"

	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/provider"
	"github.com/momentics/easyrdma-go/internal/provider/loopback"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// connectPair builds a Connected sender/receiver session pair over the
// loopback fabric, mirroring how the top-level rdma package composes
// CreateConnectorSession/CreateListenerSession/Connect/Accept.
func connectPair(t *testing.T) (sender, receiver *Session) {
	t.Helper()
	reg := loopback.NewRegistry(16)
	addr := provider.Address{Host: "loopback", Port: 7}

	listener := NewListener(ListenerConfig{
		LocalAddr: addr,
		Listener:  reg.Listen(addr),
		Registrar: loopback.NewRegistrar(),
	})

	connector := NewConnector(ConnectorConfig{
		LocalAddr: addr,
		Connector: reg.Connector(),
		Registrar: loopback.NewRegistrar(),
	})

	acceptedCh := make(chan *Session, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		tok, err := listener.Access().Acquire(true, accessmgr.NoToken)
		if err != nil {
			acceptErrCh <- err
			return
		}
		child, err := listener.Accept(tok, Receive, -1)
		listener.Access().Release(tok)
		acceptedCh <- child
		acceptErrCh <- err
	}()

	tok, err := connector.Access().Acquire(true, accessmgr.NoToken)
	if err != nil {
		t.Fatalf("connector Acquire: %v", err)
	}
	if err := connector.Connect(tok, Send, addr, int((5 * time.Second).Milliseconds())); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	connector.Access().Release(tok)

	receiver = <-acceptedCh
	if err := <-acceptErrCh; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return connector, receiver
}

func TestConnectAcceptNegotiatesOppositeDirections(t *testing.T) {
	sender, receiver := connectPair(t)
	defer sender.Cancel()
	defer receiver.Cancel()

	if !sender.IsConnected() || !receiver.IsConnected() {
		t.Fatal("both sides should be connected")
	}
	if sender.direction != Send || receiver.direction != Receive {
		t.Fatalf("unexpected directions: sender=%v receiver=%v", sender.direction, receiver.direction)
	}
}

func TestSecondConnectFailsAlreadyConnected(t *testing.T) {
	sender, receiver := connectPair(t)
	defer sender.Cancel()
	defer receiver.Cancel()

	tok, _ := sender.Access().Acquire(true, accessmgr.NoToken)
	defer sender.Access().Release(tok)
	err := sender.Connect(tok, Send, provider.Address{}, 0)
	if rerr, ok := err.(*rdmaerr.Error); !ok || rerr.Kind != rdmaerr.AlreadyConnected {
		t.Fatalf("expected AlreadyConnected on second Connect, got %v", err)
	}
}

func TestConfigureBuffersAutoPostsReceivesAndRoundTripsData(t *testing.T) {
	sender, receiver := connectPair(t)
	defer sender.Cancel()
	defer receiver.Cancel()

	if err := receiver.ConfigureBuffers(64, 4); err != nil {
		t.Fatalf("receiver ConfigureBuffers: %v", err)
	}
	if err := sender.ConfigureBuffers(64, 4); err != nil {
		t.Fatalf("sender ConfigureBuffers: %v", err)
	}

	tok, _ := sender.Access().Acquire(true, accessmgr.NoToken)
	h, err := sender.AcquireSendRegion(tok, int((time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("AcquireSendRegion: %v", err)
	}
	base, _, _, _ := sender.RegionInfo(h)
	payload := []byte("hello over rdma")
	copy(base, payload)
	if err := sender.QueueBufferRegion(h, len(payload), nil, nil, nil); err != nil {
		t.Fatalf("QueueBufferRegion: %v", err)
	}
	sender.Access().Release(tok)

	rtok, _ := receiver.Access().Acquire(true, accessmgr.NoToken)
	rh, err := receiver.AcquireReceivedRegion(rtok, int((2 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("AcquireReceivedRegion: %v", err)
	}
	rbase, _, used, _ := receiver.RegionInfo(rh)
	if used != len(payload) {
		t.Fatalf("used=%d want %d", used, len(payload))
	}
	if string(rbase[:used]) != string(payload) {
		t.Fatalf("received %q want %q", rbase[:used], payload)
	}
	if err := receiver.ReleaseReceivedBufferRegion(rh); err != nil {
		t.Fatalf("ReleaseReceivedBufferRegion: %v", err)
	}
	receiver.Access().Release(rtok)
}

func TestCancelIsIdempotentAndUnblocksWaiters(t *testing.T) {
	sender, receiver := connectPair(t)
	defer receiver.Cancel()

	if err := sender.ConfigureBuffers(64, 1); err != nil {
		t.Fatalf("ConfigureBuffers: %v", err)
	}

	if err := sender.Cancel(); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := sender.Cancel(); err != nil {
		t.Fatalf("second Cancel should be a no-op: %v", err)
	}
	if !sender.Closed() {
		t.Fatal("session should report Closed after Cancel")
	}
}

func TestHasOutstandingUserBuffersTracksAcquiredRegions(t *testing.T) {
	sender, receiver := connectPair(t)
	defer sender.Cancel()
	defer receiver.Cancel()

	if err := sender.ConfigureBuffers(64, 2); err != nil {
		t.Fatalf("ConfigureBuffers: %v", err)
	}
	if sender.HasOutstandingUserBuffers() {
		t.Fatal("no buffers should be outstanding yet")
	}
	tok, _ := sender.Access().Acquire(true, accessmgr.NoToken)
	h, err := sender.AcquireSendRegion(tok, 0)
	if err != nil {
		t.Fatalf("AcquireSendRegion: %v", err)
	}
	if !sender.HasOutstandingUserBuffers() {
		t.Fatal("acquired buffer should count as outstanding")
	}
	if err := sender.ReleaseUserBufferRegionToIdle(h); err != nil {
		t.Fatalf("ReleaseUserBufferRegionToIdle: %v", err)
	}
	sender.Access().Release(tok)
	if sender.HasOutstandingUserBuffers() {
		t.Fatal("released buffer should no longer count as outstanding")
	}
}
