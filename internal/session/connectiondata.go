// File: internal/session/connectiondata.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"encoding/binary"

	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// connectionDataLen is the packed, big-endian on-wire size of
// ConnectionData (spec §3): protocolId(4) + protocolVersion(1) +
// oldestCompatibleVersion(1) + direction(1).
const connectionDataLen = 7

// protocolID is the fixed "RDMA" magic, 0x52444D41, grounded on
// original_source/core/common/RdmaConnectionData.h's
// kConnectionDataProtocol.
const protocolID uint32 = 0x52444D41

const (
	protocolVersion         uint8 = 1
	oldestCompatibleVersion uint8 = 1
)

// directionWire mirrors easyrdma_Direction_{Send,Receive} plus the
// Unknown sentinel used before a session's direction is fixed.
type directionWire uint8

const (
	wireDirectionSend    directionWire = 0
	wireDirectionReceive directionWire = 1
	wireDirectionUnknown directionWire = 0xFF
)

func toWireDirection(d bufferqueue.Direction) directionWire {
	if d == bufferqueue.Send {
		return wireDirectionSend
	}
	return wireDirectionReceive
}

// encodeConnectionData builds the outbound private-data blob carrying
// this session's declared direction (spec §3).
func encodeConnectionData(dir bufferqueue.Direction) []byte {
	buf := make([]byte, connectionDataLen)
	binary.BigEndian.PutUint32(buf[0:4], protocolID)
	buf[4] = protocolVersion
	buf[5] = oldestCompatibleVersion
	buf[6] = byte(toWireDirection(dir))
	return buf
}

// validateConnectionData checks an inbound private-data blob against
// this session's own direction, per spec §3: matching protocolId,
// oldestCompatibleVersion <= local protocolVersion, and the peer's
// declared direction must be the opposite of ours. Extra trailing
// bytes are ignored for forward compatibility.
//
// Grounded on RdmaConnectionData.cpp's ValidateConnectionData.
func validateConnectionData(buf []byte, myDirection bufferqueue.Direction) error {
	if len(buf) < connectionDataLen {
		return rdmaerr.New(rdmaerr.IncompatibleProtocol, 0)
	}
	if binary.BigEndian.Uint32(buf[0:4]) != protocolID {
		return rdmaerr.New(rdmaerr.IncompatibleProtocol, 0)
	}
	peerOldest := buf[5]
	if peerOldest > protocolVersion {
		return rdmaerr.New(rdmaerr.IncompatibleVersion, 0)
	}
	wantPeerDir := wireDirectionReceive
	if myDirection == bufferqueue.Receive {
		wantPeerDir = wireDirectionSend
	}
	if directionWire(buf[6]) != wantPeerDir {
		return rdmaerr.New(rdmaerr.InvalidDirection, 0)
	}
	return nil
}
