// File: internal/provider/loopback/loopback.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package loopback is an in-process provider test double: two
// sessions wired together by Go channels and the bounded completion
// ring in mpmc.go, instead of real verbs/CM hardware. It is grounded
// on the teacher's fake/ package (transport.go, buffer.go,
// fakereactor.go), which plays the identical role for the teacher's
// own WebSocket engine, reshaped here for RDMA send/recv/private-data
// semantics (spec §1, §4.7).
package loopback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/momentics/easyrdma-go/internal/provider"
)

type token struct{ buf []byte }

// registrar is the loopback MemoryRegistrar: registration is a no-op
// beyond handing back an opaque token, since there is no real hardware
// to pin pages against.
type registrar struct{}

func NewRegistrar() provider.MemoryRegistrar { return registrar{} }

func (registrar) Register(buf []byte) (provider.RegistrationToken, error) {
	return token{buf: buf}, nil
}

func (registrar) Deregister(provider.RegistrationToken) error { return nil }

type posting struct {
	wrid uint64
	buf  []byte // for recv: destination; for send: already-sliced source data
}

// fabric is the shared state of one direction of a connected pair:
// pending recv buffers waiting for data, and pending send payloads
// waiting for a receive buffer to land in, FIFO-matched in posting
// order the way a reliable-connected queue pair matches them.
type fabric struct {
	mu          sync.Mutex
	pendingRecv []posting
	pendingSend []posting
	senderCQ    *completionRing
	receiverCQ  *completionRing
	closed      bool
}

func newFabric(cqDepth int) *fabric {
	return &fabric{
		senderCQ:   newCompletionRing(cqDepth),
		receiverCQ: newCompletionRing(cqDepth),
	}
}

func (f *fabric) postSend(wrid uint64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.senderCQ.push(completionPayload{wrid: wrid, status: errClosed, numBytes: 0})
		return
	}
	f.pendingSend = append(f.pendingSend, posting{wrid: wrid, buf: data})
	f.match()
}

func (f *fabric) postRecv(wrid uint64, buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.receiverCQ.push(completionPayload{wrid: wrid, status: errClosed, numBytes: 0})
		return
	}
	f.pendingRecv = append(f.pendingRecv, posting{wrid: wrid, buf: buf})
	f.match()
}

// match pairs the oldest pending send with the oldest pending receive
// buffer, copies the payload, and posts a completion to both sides.
// Caller must hold f.mu.
func (f *fabric) match() {
	for len(f.pendingSend) > 0 && len(f.pendingRecv) > 0 {
		s := f.pendingSend[0]
		r := f.pendingRecv[0]
		f.pendingSend = f.pendingSend[1:]
		f.pendingRecv = f.pendingRecv[1:]
		n := copy(r.buf, s.buf)
		f.senderCQ.push(completionPayload{wrid: s.wrid, status: nil, numBytes: len(s.buf)})
		f.receiverCQ.push(completionPayload{wrid: r.wrid, status: nil, numBytes: n})
	}
}

func (f *fabric) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, s := range f.pendingSend {
		f.senderCQ.push(completionPayload{wrid: s.wrid, status: errClosed})
	}
	for _, r := range f.pendingRecv {
		f.receiverCQ.push(completionPayload{wrid: r.wrid, status: errClosed})
	}
	f.pendingSend = nil
	f.pendingRecv = nil
}

var errClosed = errors.New("loopback: queue pair closed")

// queuePair is one side's view of a fabric: PostSend enqueues into the
// fabric as a sender, PostRecv as a receiver.
type queuePair struct {
	f        *fabric
	isLeft   bool
}

func (qp *queuePair) PostSend(wrid uint64, buf []byte, _ provider.RegistrationToken, used int) error {
	if used < 0 || used > len(buf) {
		return errors.New("loopback: used out of range")
	}
	data := make([]byte, used)
	copy(data, buf[:used])
	if qp.isLeft {
		qp.f.postSend(wrid, data)
	} else {
		qp.f.postSend(wrid, data)
	}
	return nil
}

func (qp *queuePair) PostRecv(wrid uint64, buf []byte, _ provider.RegistrationToken) error {
	qp.f.postRecv(wrid, buf)
	return nil
}

func (qp *queuePair) Close() error {
	qp.f.close()
	return nil
}

// completionChannel drains one direction's completion ring, blocking
// (with polling backoff) until data is available, ctx is cancelled, or
// timeout elapses.
type completionChannel struct {
	ring *completionRing
}

func (c *completionChannel) Poll(ctx context.Context, timeout time.Duration, out []provider.Completion) (int, error) {
	deadline := time.Time{}
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	n := 0
	for n < len(out) {
		p, ok := c.ring.pop()
		if ok {
			out[n] = provider.Completion{WRID: p.wrid, Status: p.status, NumBytes: p.numBytes}
			n++
			continue
		}
		if n > 0 {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		if hasDeadline && time.Now().After(deadline) {
			return n, nil
		}
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (c *completionChannel) Close() error { return nil }

// Pair builds two connected ConnectResults sharing a single fabric in
// each direction, as if a Connector and a Listener had just completed
// a handshake (spec §4.7). cqDepth bounds each direction's completion
// ring.
func Pair(cqDepth int, localPrivateData, remotePrivateData []byte) (provider.ConnectResult, provider.ConnectResult) {
	fwd := newFabric(cqDepth) // local -> remote
	rev := newFabric(cqDepth) // remote -> local

	localDisconnect := make(chan struct{})
	remoteDisconnect := make(chan struct{})

	local := provider.ConnectResult{
		QP:              &dualQueuePair{send: &queuePair{f: fwd, isLeft: true}, recv: &queuePair{f: rev, isLeft: true}},
		Completions:     &dualCompletionChannel{send: &completionChannel{ring: fwd.senderCQ}, recv: &completionChannel{ring: rev.receiverCQ}},
		Local:           provider.Address{Host: "loopback", Port: 1},
		Remote:          provider.Address{Host: "loopback", Port: 2},
		PeerPrivateData: remotePrivateData,
		Disconnect:      localDisconnect,
	}
	remote := provider.ConnectResult{
		QP:              &dualQueuePair{send: &queuePair{f: rev, isLeft: false}, recv: &queuePair{f: fwd, isLeft: false}},
		Completions:     &dualCompletionChannel{send: &completionChannel{ring: rev.senderCQ}, recv: &completionChannel{ring: fwd.receiverCQ}},
		Local:           provider.Address{Host: "loopback", Port: 2},
		Remote:          provider.Address{Host: "loopback", Port: 1},
		PeerPrivateData: localPrivateData,
		Disconnect:      remoteDisconnect,
	}
	return local, remote
}

// dualQueuePair multiplexes PostSend/PostRecv onto the appropriate
// fabric direction, since a real queue pair carries both in one
// handle.
type dualQueuePair struct {
	send *queuePair
	recv *queuePair
}

func (d *dualQueuePair) PostSend(wrid uint64, buf []byte, tok provider.RegistrationToken, used int) error {
	return d.send.PostSend(wrid, buf, tok, used)
}

func (d *dualQueuePair) PostRecv(wrid uint64, buf []byte, tok provider.RegistrationToken) error {
	return d.recv.PostRecv(wrid, buf, tok)
}

func (d *dualQueuePair) Close() error {
	errSend := d.send.Close()
	errRecv := d.recv.Close()
	if errSend != nil {
		return errSend
	}
	return errRecv
}

// dualCompletionChannel multiplexes send and receive completions into
// a single Poll call, mirroring a provider that shares one completion
// queue across both work-request kinds.
type dualCompletionChannel struct {
	send *completionChannel
	recv *completionChannel
}

func (d *dualCompletionChannel) Poll(ctx context.Context, timeout time.Duration, out []provider.Completion) (int, error) {
	n, err := d.recv.Poll(ctx, 0, out)
	if err != nil || n > 0 {
		return n, err
	}
	n, err = d.send.Poll(ctx, 0, out)
	if err != nil || n > 0 {
		return n, err
	}
	if timeout == 0 {
		return 0, nil
	}
	deadline := time.Time{}
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if n, err := d.recv.Poll(ctx, 0, out); n > 0 || err != nil {
			return n, err
		}
		if n, err := d.send.Poll(ctx, 0, out); n > 0 || err != nil {
			return n, err
		}
		if hasDeadline && time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *dualCompletionChannel) Close() error {
	errSend := d.send.Close()
	errRecv := d.recv.Close()
	if errSend != nil {
		return errSend
	}
	return errRecv
}
