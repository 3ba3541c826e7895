//go:build !linux && !windows
// +build !linux,!windows

// File: internal/poller/poller_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package poller

import (
	"errors"
	"time"
)

type stubPoller struct{}

// New returns an error: this platform's provider boundary is out of
// scope for this module (spec §1 lists only Linux verbs/CM and
// Windows providers as concrete collaborators).
func New(fd int) (Poller, error) {
	return nil, errors.New("poller: unsupported platform")
}

func (stubPoller) Wait(timeout time.Duration) (bool, bool, error) { return false, false, nil }
func (stubPoller) Cancel()                                        {}
func (stubPoller) Close() error                                   { return nil }
