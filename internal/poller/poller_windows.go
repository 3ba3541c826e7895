//go:build windows
// +build windows

// File: internal/poller/poller_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package poller

import (
	"time"

	"golang.org/x/sys/windows"
)

// windowsPoller waits on a provider HANDLE alongside a manual-reset
// cancel event, the Windows analogue of the self-pipe trick (spec
// §4.7 item 7: teardown is delivered via CancelOverlappedRequests or a
// provider channel abort on this platform).
type windowsPoller struct {
	handle     windows.Handle
	cancelEvt  windows.Handle
}

// New constructs a Poller that waits on fd (a Windows HANDLE narrowed
// to int at the FDSource boundary so callers stay platform-agnostic)
// alongside an internal cancellation event.
func New(fd int) (Poller, error) {
	evt, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, err
	}
	return &windowsPoller{handle: windows.Handle(fd), cancelEvt: evt}, nil
}

func (p *windowsPoller) Wait(timeout time.Duration) (bool, bool, error) {
	handles := []windows.Handle{p.handle, p.cancelEvt}
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout / time.Millisecond)
	}
	idx, err := windows.WaitForMultipleObjects(handles, false, ms)
	if err != nil {
		return false, false, err
	}
	switch idx {
	case windows.WAIT_TIMEOUT:
		return false, false, nil
	case windows.WAIT_OBJECT_0:
		return true, false, nil
	case windows.WAIT_OBJECT_0 + 1:
		windows.ResetEvent(p.cancelEvt)
		return false, true, nil
	default:
		return false, false, err
	}
}

func (p *windowsPoller) Cancel() {
	windows.SetEvent(p.cancelEvt)
}

func (p *windowsPoller) Close() error {
	return windows.CloseHandle(p.cancelEvt)
}
