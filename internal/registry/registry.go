// File: internal/registry/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package registry implements the session-handle table of spec §3/§4.8:
// mapping opaque handles to *session.Session, acquiring/releasing the
// per-session access gate around every call, and the deferred-close
// flow that lets DestroySession leave a session alive until its last
// outstanding user buffer is released.
//
// Grounded on original_source/core/api/rdma_api_common.h's
// SessionManager: RegisterSession/GetSession/DestroySession/
// CheckDeferredSessionDestructionReady/GetOpenedSessions/
// GetDeferredCloseSessions, adapted to Go's explicit-token access
// gate (internal/accessmgr) in place of tAccessManagedRef's RAII
// acquire-on-construction, release-on-destruction pattern.
package registry

import (
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
	"github.com/momentics/easyrdma-go/internal/session"
)

// Handle is the opaque session identity returned by Register (spec §3
// "Handle"). The zero value never names a real session.
type Handle uint64

// InvalidHandle is the reserved never-issued sentinel (spec §3).
const InvalidHandle Handle = 0

// CloseFlags mirrors spec §6's close/destroy flag bits.
type CloseFlags uint32

// DeferWhileUserBuffersOutstanding postpones a session's actual
// teardown until every buffer the application currently holds (state
// User) has been released, instead of failing or forcibly yanking
// memory out from under an in-flight AcquireSendRegion/
// AcquireReceivedRegion caller (spec §4.8).
const DeferWhileUserBuffersOutstanding CloseFlags = 0x01

type entry struct {
	sess    *session.Session
	debugID string
}

// Registry is the process-wide (or test-scoped) session table.
type Registry struct {
	mu       sync.Mutex
	open     map[Handle]*entry
	deferred map[Handle]*entry
	next     uint64

	logger *log.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		open:     make(map[Handle]*entry),
		deferred: make(map[Handle]*entry),
		next:     1,
		logger:   log.New(os.Stderr, "[rdma:registry] ", log.LstdFlags),
	}
}

// Register assigns a fresh handle to sess (spec §6
// create_connector_session/create_listener_session/accept). The debug
// correlation id is a random UUID, logged once here and again at every
// Destroy/CheckDeferredReady completion so a session's whole lifetime
// can be grepped out of the registry's log stream by id, never as part
// of the wire protocol or public API.
func (r *Registry) Register(sess *session.Session) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Handle(r.next)
	r.next++
	id := uuid.NewString()
	r.open[h] = &entry{sess: sess, debugID: id}
	r.logger.Printf("register handle=%d id=%s", h, id)
	return h
}

// lookup resolves h to its entry without touching the access gate.
// Callers that go on to acquire access must do so after releasing
// r.mu (spec.md's "callers never hold the registry lock across
// session-level waits"), protecting the entry against a concurrent
// Destroy with AddPendingReference first.
func (r *Registry) lookup(h Handle, allowDeferred bool) (*entry, error) {
	if e, ok := r.open[h]; ok {
		return e, nil
	}
	if allowDeferred {
		if e, ok := r.deferred[h]; ok {
			return e, nil
		}
	}
	return nil, rdmaerr.New(rdmaerr.InvalidSession, 0)
}

// Acquire resolves h to its session and acquires the session's access
// gate (spec §4.2), returning the token the caller must thread through
// every blocking call and pass back to Release. allowDeferred permits
// resolving a handle whose destruction is pending (only
// ReleaseUserBufferRegionToIdle does this, per
// easyrdma_ReleaseUserBufferRegionToIdle's tCheckDeferredCloseTable::Yes).
//
// The lookup and the pending-reference bump that keeps the session
// alive against a concurrent Destroy happen in one critical section
// under r.mu (spec §4.8's "look-up acquires access on the found
// session under the registry lock"); the potentially-blocking gate
// acquire itself runs after r.mu is released, since the same
// paragraph requires that no caller ever hold the registry lock across
// a session-level wait.
//
// Grounded on SessionManager::GetSession.
func (r *Registry) Acquire(h Handle, exclusive bool, allowDeferred bool) (*session.Session, accessmgr.Token, error) {
	r.mu.Lock()
	e, err := r.lookup(h, allowDeferred)
	if err != nil {
		r.mu.Unlock()
		return nil, accessmgr.NoToken, err
	}
	e.sess.Access().AddPendingReference()
	r.mu.Unlock()

	tok, err := e.sess.Access().Acquire(exclusive, accessmgr.NoToken)
	e.sess.Access().RemovePendingReference()
	if err != nil {
		return nil, accessmgr.NoToken, err
	}
	return e.sess, tok, nil
}

// Release gives back access acquired by Acquire.
func (r *Registry) Release(h Handle, tok accessmgr.Token, allowDeferred bool) error {
	r.mu.Lock()
	e, err := r.lookup(h, allowDeferred)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = e.sess.Access().Release(tok)
	return err
}

// Destroy removes h from the live table and cancels its session. With
// DeferWhileUserBuffersOutstanding set and outstanding user buffers
// present, the session moves to the deferred table instead of being
// waited on synchronously; CheckDeferredReady (called after every
// ReleaseUserBufferRegionToIdle) finishes the teardown once the last
// buffer comes back.
//
// Matches spec §4.8's four-step procedure, adapted at the one point
// where a literal reading would deadlock: step 1's "acquire exclusive
// on the session" is implemented as a pending reference on the access
// manager's independent ref-count (AddPendingReference), taken in the
// same critical section as removing h from open, rather than as a
// blocking exclusive grant through the same gate ordinary calls use.
// A real exclusive grant would have to wait for any call already using
// the gate to release it first — including a call parked in a long
// blocking wait (AcquireReceivedRegion with nothing to receive) that
// itself only ever unblocks once cancel() aborts its queue, which
// cancel() cannot do until Destroy finishes acquiring. Spec §4.7 step 7
// requires teardown to "not deadlock even if a worker is blocked on a
// completion wait," which rules that reading out. The registry lock is
// dropped before cancel() runs (step 3), matching "callers never hold
// the registry lock across session-level waits." For the deferred path
// (step 2), the same pending reference stands in for "keep the
// exclusive reference": it holds the ref-count above zero without
// blocking the later ReleaseUserBufferRegionToIdle call that must
// itself acquire the gate to release the buffer the deferred condition
// is waiting on. CheckDeferredReady drops that reference once the
// condition clears (step 4, deferred).
//
// Grounded on SessionManager::DestroySession.
func (r *Registry) Destroy(h Handle, flags CloseFlags) error {
	r.mu.Lock()
	e, ok := r.open[h]
	if !ok {
		r.mu.Unlock()
		return rdmaerr.New(rdmaerr.InvalidSession, 0)
	}
	delete(r.open, h)
	e.sess.Access().AddPendingReference()

	deferred := flags&DeferWhileUserBuffersOutstanding != 0 && !e.sess.CheckDeferredDestructionConditionsMet()
	if deferred {
		r.deferred[h] = e
	}
	r.mu.Unlock()

	e.sess.Cancel()

	if !deferred {
		e.sess.Access().RemovePendingReference()
		r.logger.Printf("destroy handle=%d id=%s", h, e.debugID)
		return e.sess.Access().WaitForAllReferencesReleased(-1)
	}
	r.logger.Printf("destroy handle=%d id=%s deferred=true", h, e.debugID)
	return nil
}

// CheckDeferredReady re-checks a deferred session's outstanding-buffer
// condition, completing its teardown once satisfied. Called after
// ReleaseUserBufferRegionToIdle on any handle that might be pending
// deferred destruction.
//
// Grounded on SessionManager::CheckDeferredSessionDestructionReady.
func (r *Registry) CheckDeferredReady(h Handle) error {
	r.mu.Lock()
	e, ok := r.deferred[h]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if !e.sess.CheckDeferredDestructionConditionsMet() {
		r.mu.Unlock()
		return nil
	}
	delete(r.deferred, h)
	r.mu.Unlock()

	e.sess.Access().RemovePendingReference()
	r.logger.Printf("deferred destroy complete handle=%d id=%s", h, e.debugID)
	return e.sess.Access().WaitForAllReferencesReleased(-1)
}

// IsDeferred reports whether h is currently in the deferred-close
// table, used by callers to decide whether a post-release recheck is
// worthwhile.
func (r *Registry) IsDeferred(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.deferred[h]
	return ok
}

// NumOpenedSessions backs the global property of the same name (spec
// §6): sessions live in the open table, not yet destroyed.
func (r *Registry) NumOpenedSessions() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.open))
}

// NumPendingDestructionSessions backs the global property of the same
// name: sessions destroyed but awaiting their last outstanding buffer.
func (r *Registry) NumPendingDestructionSessions() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.deferred))
}

// DebugID returns h's random correlation id, the same one that appears
// on every log line this registry prints for h, empty if h names no
// session.
func (r *Registry) DebugID(h Handle) string {
	r.mu.Lock()
	e, err := r.lookup(h, true)
	r.mu.Unlock()
	if err != nil {
		return ""
	}
	return e.debugID
}
