//go:build linux
// +build linux

// File: internal/poller/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// linuxPoller multiplexes a provider fd with a self-pipe cancel fd
// using the poll(2) syscall, mirroring
// original_source/core/linux/FdPoller.h.
type linuxPoller struct {
	fd       int
	pipeR    int
	pipeW    int
	cancelled bool
}

// New constructs a Poller that waits on fd alongside an internal
// self-pipe cancellation channel.
func New(fd int) (Poller, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &linuxPoller{fd: fd, pipeR: fds[0], pipeW: fds[1]}, nil
}

func (p *linuxPoller) Wait(timeout time.Duration) (bool, bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.pipeR), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, false, nil
		}
		return false, false, err
	}
	if n == 0 {
		return false, false, nil
	}
	if fds[1].Revents&unix.POLLIN != 0 {
		var buf [64]byte
		unix.Read(p.pipeR, buf[:])
		return false, true, nil
	}
	return fds[0].Revents&unix.POLLIN != 0, false, nil
}

func (p *linuxPoller) Cancel() {
	unix.Write(p.pipeW, []byte{0})
}

func (p *linuxPoller) Close() error {
	unix.Close(p.pipeR)
	unix.Close(p.pipeW)
	return nil
}
