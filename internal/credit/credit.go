// File: internal/credit/credit.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package credit implements the out-of-band credit protocol of spec
// §4.6: an auxiliary buffer queue, flowing opposite to the session's
// data direction, that carries big-endian u64 byte-capacities of
// posted receive buffers so the send side can fail an over-size send
// locally at queue time instead of tearing down the connection on a
// remote completion error.
//
// Grounded on original_source/core/common/RdmaConnectedSessionBase.cpp's
// PreConnect/AddCredit/AckHandlerThread/PostConfigure/SendCreditUpdate/
// ProcessPreConfigureCredits.
package credit

import (
	"encoding/binary"
	"sync"

	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/membuf"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// MaxCreditsPerMessage is the spec's 100-credit batching limit
// (kMaxCreditsPerBuffer in the original).
const MaxCreditsPerMessage = 100

// MessageSize is the fixed size, in bytes, of one credit message: up
// to MaxCreditsPerMessage big-endian u64 capacities.
const MessageSize = MaxCreditsPerMessage * 8

// AuxDepth is the fixed depth of the auxiliary credit queue (spec
// §4.6: "a fixed auxiliary queue of 100 internally-allocated credit
// messages").
const AuxDepth = 100

// TransferQueue is the subset of *bufferqueue.Queue the credit
// protocol needs on the data-carrying queue.
type TransferQueue interface {
	AddCredit(bytes int) error
}

// Protocol owns the auxiliary credit queue for one connected session
// and the pending-credit staging list used before configure_buffers
// has built the transfer queue.
type Protocol struct {
	aux *bufferqueue.Queue

	mu      sync.Mutex
	pending []int // credits arrived before the transfer queue existed
	xfer    TransferQueue
}

// New builds the auxiliary queue (opposite direction to dataDirection)
// and returns a Protocol ready to pre-post its 100 messages once the
// caller calls PrePostAll.
func New(dataDirection bufferqueue.Direction, registrar membuf.Registrar, submitter bufferqueue.Submitter) (*Protocol, error) {
	auxDirection := bufferqueue.Receive
	if dataDirection == bufferqueue.Receive {
		auxDirection = bufferqueue.Send
	}
	q, err := bufferqueue.New(bufferqueue.Config{
		Direction:  auxDirection,
		BufferType: bufferqueue.Multiple,
		NumBuffers: AuxDepth,
		BufferSize: MessageSize,
		Registrar:  registrar,
		Submitter:  submitter,
	})
	if err != nil {
		return nil, err
	}
	return &Protocol{aux: q}, nil
}

// AuxQueue exposes the auxiliary queue for the session's completion
// dispatcher to wire HandleCompletion calls into.
func (p *Protocol) AuxQueue() *bufferqueue.Queue { return p.aux }

// PrePostAll pre-posts all AuxDepth auxiliary buffers as receive slots
// to catch incoming credit messages. It is a no-op unless this
// session's aux queue direction is Receive (i.e. the data direction is
// Send): the peer side's aux queue direction is Send, and it has
// nothing to transmit yet — its real sends happen later via
// SendCreditUpdate once buffers are configured and posted.
//
// Grounded on RdmaConnectedSessionBase::PreConnect's
// `if (direction == Direction::Send)` guard, which is the only case
// that pre-posts the credit-receive buffers and starts the ack
// handler.
func (p *Protocol) PrePostAll() error {
	if p.aux.Direction() != bufferqueue.Receive {
		return nil
	}
	for i := 0; i < AuxDepth; i++ {
		h, err := p.aux.AcquireIdle(0)
		if err != nil {
			return err
		}
		if err := p.aux.Queue(h, true); err != nil {
			return err
		}
	}
	return nil
}

// RunAckHandler blocks, repeatedly draining completed aux buffers and
// applying their credits, until the aux queue is aborted (disconnect
// or cancellation). It is only meaningful on the side whose aux queue
// direction is Receive (data direction Send); on the other side it
// returns immediately. Grounded on AckHandlerThread's
// `while (!_closing) { WaitForCompletedBuffer(-1); ... }` loop.
func (p *Protocol) RunAckHandler() {
	if p.aux.Direction() != bufferqueue.Receive {
		return
	}
	for {
		h, err := p.aux.AcquireCompleted(-1)
		if err != nil {
			return
		}
		if err := p.HandleAckCompletion(h); err != nil {
			return
		}
	}
}

// BindTransferQueue attaches the data-carrying transfer queue. Any
// credits that arrived before this call (staged via the pending list)
// are replayed in arrival order exactly once.
func (p *Protocol) BindTransferQueue(xfer TransferQueue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.xfer = xfer
	pending := p.pending
	p.pending = nil
	for _, bytes := range pending {
		if err := xfer.AddCredit(bytes); err != nil {
			return err
		}
	}
	return nil
}

// AddCredit records one received buffer's byte capacity. If the
// transfer queue is not yet bound, the credit is staged and replayed
// by BindTransferQueue in arrival order. p.mu is held across the call
// into xfer so a concurrent BindTransferQueue replay and a concurrent
// AddCredit (from the always-running ack handler) can never apply
// credits to the transfer queue out of arrival order.
func (p *Protocol) AddCredit(bytes int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.xfer == nil {
		p.pending = append(p.pending, bytes)
		return nil
	}
	return p.xfer.AddCredit(bytes)
}

// SendCreditUpdate encodes bufferLengths as big-endian u64 values, up
// to MaxCreditsPerMessage per message, and queues one message per chunk
// on the auxiliary queue (ignoring application-level credits: the aux
// queue's own flow control is bounded by its fixed 100-message pool).
func (p *Protocol) SendCreditUpdate(bufferLengths []int) error {
	for len(bufferLengths) > 0 {
		n := len(bufferLengths)
		if n > MaxCreditsPerMessage {
			n = MaxCreditsPerMessage
		}
		chunk := bufferLengths[:n]
		bufferLengths = bufferLengths[n:]

		h, err := p.aux.AcquireIdle(-1)
		if err != nil {
			return err
		}
		buf := p.aux.Base(h)
		for i, length := range chunk {
			binary.BigEndian.PutUint64(buf[i*8:(i+1)*8], uint64(length))
		}
		if err := p.aux.SetUsed(h, n*8); err != nil {
			return err
		}
		if err := p.aux.Queue(h, true); err != nil {
			return err
		}
	}
	return nil
}

// HandleAckCompletion is the ack-handler's per-completion callback: it
// decodes the arrived credit message, applies each credit in order,
// and re-posts the auxiliary buffer so the peer's flow continues.
func (p *Protocol) HandleAckCompletion(h bufferqueue.BufferHandle) error {
	used := p.aux.Used(h)
	if used%8 != 0 {
		return rdmaerr.New(rdmaerr.InternalError, 0)
	}
	buf := p.aux.Base(h)[:used]
	numCredits := used / 8
	for i := 0; i < numCredits; i++ {
		bytes := binary.BigEndian.Uint64(buf[i*8 : (i+1)*8])
		if err := p.AddCredit(int(bytes)); err != nil {
			return err
		}
	}
	return p.aux.Queue(h, true)
}
