// File: internal/provider/loopback/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loopback

import (
	"context"
	"time"

	"github.com/momentics/easyrdma-go/internal/provider"
)

// Registry is an in-process rendezvous point standing in for the real
// CM's listen/connect matching (spec §4.7 items 1-4): a Listener and a
// Connector from the same Registry hand each other a connected
// provider.ConnectResult built from Pair. Addresses are not matched:
// every Listener of a Registry shares one accept channel, and a
// Connector reaches whichever Listener accepts first, whatever address
// it dials.
type Registry struct {
	cqDepth int
	accept  chan acceptRequest
}

type acceptRequest struct {
	privateData []byte
	resultCh    chan provider.ConnectResult
}

// NewRegistry constructs a fabric registry. cqDepth bounds each
// connection's completion rings (see Pair).
func NewRegistry(cqDepth int) *Registry {
	return &Registry{cqDepth: cqDepth, accept: make(chan acceptRequest)}
}

// listenerImpl is the passive side: Accept blocks until a Connect call
// arrives, then negotiates a Pair.
type listenerImpl struct {
	reg    *Registry
	addr   provider.Address
	closed chan struct{}
}

func (r *Registry) Listen(addr provider.Address) provider.Listener {
	return &listenerImpl{reg: r, addr: addr, closed: make(chan struct{})}
}

func (l *listenerImpl) Accept(ctx context.Context, privateData []byte, timeout time.Duration) (provider.ConnectResult, error) {
	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case req := <-l.reg.accept:
		local, remote := Pair(l.reg.cqDepth, privateData, req.privateData)
		local.Local = l.addr
		req.resultCh <- remote
		return local, nil
	case <-ctx.Done():
		return provider.ConnectResult{}, ctx.Err()
	case <-timeoutCh:
		return provider.ConnectResult{}, errTimeout
	case <-l.closed:
		return provider.ConnectResult{}, errClosed
	}
}

func (l *listenerImpl) Addr() provider.Address { return l.addr }

func (l *listenerImpl) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

// connectorImpl is the active side. Each connectorImpl may connect
// exactly once, matching spec §4.7's non-reusable-connector decision;
// the second call fails with errAlreadyConnected.
type connectorImpl struct {
	reg  *Registry
	used bool
}

func (r *Registry) Connector() provider.Connector { return &connectorImpl{reg: r} }

func (c *connectorImpl) Connect(ctx context.Context, _ provider.Address, privateData []byte, timeout time.Duration) (provider.ConnectResult, error) {
	if c.used {
		return provider.ConnectResult{}, errAlreadyConnected
	}
	c.used = true

	resultCh := make(chan provider.ConnectResult, 1)
	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case c.reg.accept <- acceptRequest{privateData: privateData, resultCh: resultCh}:
	case <-ctx.Done():
		return provider.ConnectResult{}, ctx.Err()
	case <-timeoutCh:
		return provider.ConnectResult{}, errTimeout
	}
	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return provider.ConnectResult{}, ctx.Err()
	case <-timeoutCh:
		return provider.ConnectResult{}, errTimeout
	}
}

var (
	errTimeout          = &loopbackError{"loopback: connect timed out"}
	errAlreadyConnected = &loopbackError{"loopback: connector already used"}
)

type loopbackError struct{ msg string }

func (e *loopbackError) Error() string { return e.msg }
