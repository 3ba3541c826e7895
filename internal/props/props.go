// File: internal/props/props.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package props implements the uniform typed property get/set surface
// of spec §4.9 and the ID/payload table of spec §6: a self-describing
// small buffer that validates the caller's size, and distinct errors
// for write-only, read-only, and unknown properties.
//
// Grounded on original_source/core/common/RdmaSession.h's PropertyData/
// CopyToOutput (self-describing sized copy, InvalidSize on too-small
// caller buffer) and the property table in
// original_source/core/api/easyrdma.h.
package props

import (
	"encoding/binary"

	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// ID is one of the fixed property identifiers of spec §6.
type ID uint32

const (
	QueuedBuffers              ID = 0x100
	Connected                  ID = 0x101
	UserBuffers                ID = 0x102
	UseRxPolling               ID = 0x103
	NumOpenedSessions          ID = 0x200
	NumPendingDestructionSessions ID = 0x201
	ConnectionData             ID = 0x202
)

// Access describes whether a property may be read, written, or both.
type Access int

const (
	ReadOnly Access = iota
	WriteOnly
	ReadWrite
)

// Descriptor records a property's fixed directionality; the payload
// type itself is opaque bytes, self-describing via its length.
type Descriptor struct {
	Access Access
}

var table = map[ID]Descriptor{
	QueuedBuffers:                 {Access: ReadOnly},
	Connected:                     {Access: ReadOnly},
	UserBuffers:                   {Access: ReadOnly},
	UseRxPolling:                  {Access: ReadWrite},
	NumOpenedSessions:             {Access: ReadOnly},
	NumPendingDestructionSessions: {Access: ReadOnly},
	ConnectionData:                {Access: WriteOnly},
}

// Data is a self-describing property payload (spec §4.9): a byte
// buffer whose length is the authoritative size, copied to the
// caller's buffer with an InvalidSize check rather than the unsafe
// narrow-copy the original's CopyToOutput performs.
type Data struct {
	bytes []byte
}

// FromUint64 builds a little payload carrying v, matching the u64
// payload properties of spec §6's table.
func FromUint64(v uint64) Data {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return Data{bytes: b}
}

// FromBool builds a one-byte boolean payload.
func FromBool(v bool) Data {
	b := byte(0)
	if v {
		b = 1
	}
	return Data{bytes: []byte{b}}
}

// FromBytes wraps an opaque blob payload (e.g. ConnectionData).
func FromBytes(b []byte) Data { return Data{bytes: b} }

// Uint64 decodes an 8-byte payload.
func (d Data) Uint64() (uint64, error) {
	if len(d.bytes) != 8 {
		return 0, rdmaerr.New(rdmaerr.InvalidSize, 0)
	}
	return binary.LittleEndian.Uint64(d.bytes), nil
}

// Bool decodes a one-byte boolean payload.
func (d Data) Bool() (bool, error) {
	if len(d.bytes) != 1 {
		return false, rdmaerr.New(rdmaerr.InvalidSize, 0)
	}
	return d.bytes[0] != 0, nil
}

// Bytes returns the raw payload.
func (d Data) Bytes() []byte { return d.bytes }

// CopyToOutput copies the payload into out and returns the number of
// bytes written. Fails InvalidSize if out is smaller than the
// payload, rather than silently truncating.
func (d Data) CopyToOutput(out []byte) (int, error) {
	if len(out) < len(d.bytes) {
		return 0, rdmaerr.New(rdmaerr.InvalidSize, 0)
	}
	n := copy(out, d.bytes)
	return n, nil
}

// Validate checks a property ID against the fixed table, returning
// the kind of error mandated for write-only/read-only/unknown
// mismatches, or nil if the requested direction is legal.
func Validate(id ID, wantWrite bool) error {
	desc, ok := table[id]
	if !ok {
		return rdmaerr.New(rdmaerr.InvalidProperty, 0)
	}
	switch desc.Access {
	case ReadOnly:
		if wantWrite {
			return rdmaerr.New(rdmaerr.ReadOnlyProperty, 0)
		}
	case WriteOnly:
		if !wantWrite {
			return rdmaerr.New(rdmaerr.WriteOnlyProperty, 0)
		}
	}
	return nil
}
