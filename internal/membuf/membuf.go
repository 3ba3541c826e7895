// File: internal/membuf/membuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package membuf owns the aligned backing memory for buffer regions
// and a provider-opaque registration token (spec §4.3, §3 Buffer).
//
// Two ownership modes (spec §3 BufferOwnership), each handled here one
// Region at a time:
//   - Internal: the library allocates and 64-byte aligns the backing
//     memory of a region.
//   - External: the caller supplies one contiguous buffer, registered
//     as a region without copying.
//
// Building the pool of N buffers, or leasing sub-ranges of an external
// buffer, is done by internal/bufferqueue, not by this package.
//
// Grounded on original_source/core/common/RdmaBuffer.h/.cpp
// (AllocateAlignedMemory(size, 64), RdmaBufferInternal/RdmaBufferExternal)
// and adapted onto the teacher's pool/ allocate-and-slice convention.
package membuf

import (
	"sync"
	"unsafe"

	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// Alignment is the mandatory alignment, in bytes, for internally
// allocated buffer memory (spec §4.3).
const Alignment = 64

// RegistrationToken identifies a provider-level memory registration.
// It is an opaque value a concrete provider implementation produces
// from a byte slice; this package does not interpret it.
type RegistrationToken any

// Registrar is the provider boundary this package calls to register
// and release memory for RDMA work requests (spec §1: "memory
// registration" is provided by the RDMA verbs/CM provider).
type Registrar interface {
	Register(buf []byte) (RegistrationToken, error)
	Deregister(tok RegistrationToken) error
}

// Region is one scoped memory registration over a contiguous block.
// Release is mandatory and must be called only after every work
// request referring to the memory has completed.
type Region struct {
	mu       sync.Mutex
	registrar Registrar
	raw      []byte // over-allocated backing storage (Internal only)
	aligned  []byte // the 64-byte aligned slice callers actually use
	token    RegistrationToken
	released bool
}

// AllocateAligned allocates size bytes aligned to Alignment and
// registers them with registrar, returning a ready-to-use Region.
func AllocateAligned(size int, registrar Registrar) (*Region, error) {
	if size < 0 {
		return nil, rdmaerr.New(rdmaerr.InvalidArgument, 0)
	}
	raw := make([]byte, size+Alignment)
	off := alignOffset(raw)
	aligned := raw[off : off+size]
	tok, err := registrar.Register(aligned)
	if err != nil {
		return nil, rdmaerr.Wrap(err)
	}
	return &Region{registrar: registrar, raw: raw, aligned: aligned, token: tok}, nil
}

// RegisterExternal registers a caller-supplied contiguous buffer
// without copying or reallocating it.
func RegisterExternal(buf []byte, registrar Registrar) (*Region, error) {
	tok, err := registrar.Register(buf)
	if err != nil {
		return nil, rdmaerr.Wrap(err)
	}
	return &Region{registrar: registrar, aligned: buf, token: tok}, nil
}

// Bytes returns the aligned, registered byte slice backing this region.
func (r *Region) Bytes() []byte { return r.aligned }

// Token returns the provider registration token for use in work
// requests referencing this memory.
func (r *Region) Token() RegistrationToken { return r.token }

// Release deregisters the memory. Safe to call more than once; the
// second and later calls are no-ops. Callers must guarantee no work
// request referring to this memory is still outstanding.
func (r *Region) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	return r.registrar.Deregister(r.token)
}

func alignOffset(raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(&raw[0]))
	rem := int(addr % Alignment)
	if rem == 0 {
		return 0
	}
	return Alignment - rem
}
