package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/easyrdma-go/internal/provider"
)

func TestPairRoundTrip(t *testing.T) {
	local, remote := Pair(16, []byte("local-pd"), []byte("remote-pd"))

	if string(local.PeerPrivateData) != "remote-pd" {
		t.Fatalf("local peer private data = %q", local.PeerPrivateData)
	}
	if string(remote.PeerPrivateData) != "local-pd" {
		t.Fatalf("remote peer private data = %q", remote.PeerPrivateData)
	}

	recvBuf := make([]byte, 32)
	if err := remote.QP.PostRecv(1, recvBuf, nil); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	payload := []byte("hello rdma")
	sendBuf := make([]byte, 32)
	copy(sendBuf, payload)
	if err := local.QP.PostSend(7, sendBuf, nil, len(payload)); err != nil {
		t.Fatalf("PostSend: %v", err)
	}

	ctx := context.Background()
	out := make([]provider.Completion, 4)

	n, err := local.Completions.Poll(ctx, time.Second, out)
	if err != nil || n != 1 || out[0].WRID != 7 || out[0].NumBytes != len(payload) {
		t.Fatalf("sender completion = %d, %v, %+v", n, err, out[0])
	}

	n, err = remote.Completions.Poll(ctx, time.Second, out)
	if err != nil || n != 1 || out[0].WRID != 1 || out[0].NumBytes != len(payload) {
		t.Fatalf("receiver completion = %d, %v, %+v", n, err, out[0])
	}
	if string(recvBuf[:len(payload)]) != string(payload) {
		t.Fatalf("recv buf = %q", recvBuf[:len(payload)])
	}
}

func TestPairSendBeforeRecvStillMatches(t *testing.T) {
	local, remote := Pair(16, nil, nil)

	payload := []byte("early")
	sendBuf := make([]byte, 16)
	copy(sendBuf, payload)
	if err := local.QP.PostSend(1, sendBuf, nil, len(payload)); err != nil {
		t.Fatalf("PostSend: %v", err)
	}

	recvBuf := make([]byte, 16)
	if err := remote.QP.PostRecv(2, recvBuf, nil); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	out := make([]provider.Completion, 1)
	n, err := remote.Completions.Poll(context.Background(), time.Second, out)
	if err != nil || n != 1 || out[0].NumBytes != len(payload) {
		t.Fatalf("receiver completion = %d, %v, %+v", n, err, out[0])
	}
}

func TestPollTimesOutWithoutPanicking(t *testing.T) {
	local, _ := Pair(4, nil, nil)
	out := make([]provider.Completion, 1)
	n, err := local.Completions.Poll(context.Background(), 10*time.Millisecond, out)
	if err != nil || n != 0 {
		t.Fatalf("expected empty timeout, got %d, %v", n, err)
	}
}

func TestCloseFailsOutstandingPostings(t *testing.T) {
	local, remote := Pair(4, nil, nil)

	recvBuf := make([]byte, 8)
	if err := remote.QP.PostRecv(1, recvBuf, nil); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}
	if err := remote.QP.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := make([]provider.Completion, 1)
	n, err := remote.Completions.Poll(context.Background(), time.Second, out)
	if err != nil || n != 1 || out[0].Status == nil {
		t.Fatalf("expected failed completion after close, got %d, %v, %+v", n, err, out[0])
	}
	_ = local
}

func TestRegistryConnectAccept(t *testing.T) {
	reg := NewRegistry(16)
	addr := provider.Address{Host: "loopback", Port: 42}
	listener := reg.Listen(addr)
	defer listener.Close()

	acceptResult := make(chan provider.ConnectResult, 1)
	acceptErr := make(chan error, 1)
	go func() {
		res, err := listener.Accept(context.Background(), []byte("server-pd"), -1)
		acceptResult <- res
		acceptErr <- err
	}()

	connector := reg.Connector()
	clientRes, err := connector.Connect(context.Background(), addr, []byte("client-pd"), time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if string(clientRes.PeerPrivateData) != "server-pd" {
		t.Fatalf("client peer private data = %q", clientRes.PeerPrivateData)
	}

	serverRes := <-acceptResult
	if err := <-acceptErr; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if string(serverRes.PeerPrivateData) != "client-pd" {
		t.Fatalf("server peer private data = %q", serverRes.PeerPrivateData)
	}

	if _, err := connector.Connect(context.Background(), addr, nil, time.Second); err == nil {
		t.Fatalf("expected second Connect to fail")
	}
}

func TestRegistryConnectTimesOutWithNoListener(t *testing.T) {
	reg := NewRegistry(16)
	connector := reg.Connector()
	_, err := connector.Connect(context.Background(), provider.Address{}, nil, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
