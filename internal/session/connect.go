// File: internal/session/connect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/credit"
	"github.com/momentics/easyrdma-go/internal/provider"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

func durationFromMs(timeoutMs int) time.Duration {
	if timeoutMs < 0 {
		return -1
	}
	return time.Duration(timeoutMs) * time.Millisecond
}

// withBlockingWait enforces the single-blocking-wait-per-session guard
// (spec §4.7 "a per-session flag prevents two threads from
// simultaneously performing a blocking buffer wait"; supplemented
// feature 4 in SPEC_FULL.md) and suspends tok's access around fn,
// resuming it before returning (spec §4.2 SuspendAccess/ResumeAccess,
// §4.7's BufferWaitAccessSuspender).
func (s *Session) withBlockingWait(tok accessmgr.Token, fn func() error) error {
	if !s.blockingWait.CompareAndSwap(false, true) {
		return rdmaerr.New(rdmaerr.BufferWaitInProgress, 0)
	}
	defer s.blockingWait.Store(false)

	if err := s.access.SuspendAccess(tok); err != nil {
		return err
	}
	err := fn()
	if rerr := s.access.ResumeAccess(tok); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Connect transitions this Connector session in place into Connected
// (spec §3 invariant: a Connector transitions at most once). Any
// second call, whether the first attempt succeeded or failed, returns
// AlreadyConnected (DESIGN.md Open Question 2).
//
// Grounded on original_source/core/linux/RdmaConnector.cpp's Connect:
// PreConnect, resolve/route/connect handshake collapsed here into the
// single provider.Connector.Connect call (the address-resolution and
// route-resolution steps are internal to the out-of-scope provider),
// then ValidateConnectionData/PostConnect.
func (s *Session) Connect(tok accessmgr.Token, direction Direction, remoteAddr provider.Address, timeoutMs int) error {
	s.mu.Lock()
	if s.connectUsed {
		s.mu.Unlock()
		return rdmaerr.New(rdmaerr.AlreadyConnected, 0)
	}
	if s.variant != VariantConnector {
		s.mu.Unlock()
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	s.connectUsed = true
	s.mu.Unlock()

	localData := s.connectionDataOrDefault(direction)

	var res provider.ConnectResult
	err := s.withBlockingWait(tok, func() error {
		var connErr error
		res, connErr = s.connector.Connect(s.ctx, remoteAddr, localData, durationFromMs(timeoutMs))
		return connErr
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return rdmaerr.New(rdmaerr.OperationCancelled, 0)
		}
		if _, ok := err.(*rdmaerr.Error); ok {
			return err
		}
		return rdmaerr.New(rdmaerr.UnableToConnect, 0)
	}

	if verr := validateConnectionData(res.PeerPrivateData, direction); verr != nil {
		res.QP.Close()
		res.Completions.Close()
		return verr
	}

	s.mu.Lock()
	s.variant = VariantConnected
	s.direction = direction
	s.qp = res.QP
	s.completions = res.Completions
	s.localAddr = res.Local
	s.remoteAddr = res.Remote
	s.mu.Unlock()
	s.logger = newLogger("connected:" + fmtAddr(res.Remote))

	return s.postConnect(res.Disconnect)
}

// Accept blocks for one inbound connection attempt on a Listener
// session and returns a brand-new Connected Session for the caller to
// register under a fresh handle (spec §3: "accepting produces a fresh
// Connected session").
//
// Grounded on RdmaListenerBase and the provider.Listener boundary's
// Accept, which performs the out-of-scope CM accept handshake and
// returns the negotiated private data for validation here.
func (s *Session) Accept(tok accessmgr.Token, direction Direction, timeoutMs int) (*Session, error) {
	s.mu.Lock()
	if s.variant != VariantListener {
		s.mu.Unlock()
		return nil, rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	s.mu.Unlock()

	localData := s.connectionDataOrDefault(direction)

	var res provider.ConnectResult
	err := s.withBlockingWait(tok, func() error {
		var acceptErr error
		res, acceptErr = s.listener.Accept(s.ctx, localData, durationFromMs(timeoutMs))
		return acceptErr
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, rdmaerr.New(rdmaerr.OperationCancelled, 0)
		}
		if _, ok := err.(*rdmaerr.Error); ok {
			return nil, err
		}
		return nil, rdmaerr.New(rdmaerr.ConnectionRefused, 0)
	}

	if verr := validateConnectionData(res.PeerPrivateData, direction); verr != nil {
		res.QP.Close()
		res.Completions.Close()
		return nil, verr
	}

	child := &Session{
		variant:     VariantConnected,
		access:      accessmgr.New(),
		direction:   direction,
		registrar:   s.registrar,
		qp:          res.QP,
		completions: res.Completions,
		localAddr:   res.Local,
		remoteAddr:  res.Remote,
		logger:      newLogger("connected:" + fmtAddr(res.Remote)),
	}
	child.ctx, child.cancel = context.WithCancel(context.Background())
	if err := child.postConnect(res.Disconnect); err != nil {
		return nil, err
	}
	return child, nil
}

// postConnect performs spec §4.7 item 3 ("set connected, start
// connection-change watcher, start completion dispatcher, start ack
// handler; cache peer address") plus the credit protocol's pre-connect
// construction (spec §4.6 ¶1-2), grounded on
// RdmaConnectedSessionBase::PreConnect/PostConnect and AckHandlerThread.
func (s *Session) postConnect(disconnect <-chan struct{}) error {
	xferSub := &wrSubmitter{qp: s.qp, direction: s.direction, wridBase: xferWRIDBase}
	s.xferSub = xferSub

	auxSub := &wrSubmitter{qp: s.qp, direction: oppositeDirection(s.direction), wridBase: auxWRIDBase}
	cp, err := credit.New(s.direction, s.registrar, auxSub)
	if err != nil {
		return rdmaerr.Wrap(err)
	}
	auxSub.queue = cp.AuxQueue()
	s.creditProto = cp

	if err := cp.PrePostAll(); err != nil {
		return rdmaerr.Wrap(err)
	}

	s.connected.Store(true)

	g, ctx := errgroup.WithContext(s.ctx)
	s.workers = g
	g.Go(func() error { s.runDisconnectWatcher(ctx, disconnect); return nil })
	g.Go(func() error { s.runCompletionDispatcher(ctx); return nil })
	g.Go(func() error { cp.RunAckHandler(); return nil })

	return nil
}

func (s *Session) connectionDataOrDefault(direction Direction) []byte {
	s.mu.Lock()
	explicit := s.explicitConnectionData
	s.mu.Unlock()
	if len(explicit) > 0 {
		return explicit
	}
	return encodeConnectionData(direction)
}

func oppositeDirection(d Direction) Direction {
	if d == bufferqueue.Send {
		return bufferqueue.Receive
	}
	return bufferqueue.Send
}
