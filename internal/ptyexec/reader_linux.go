//go:build linux

package ptyexec

import (
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

type readerOpsUnixKevent_t = any
type readerOpsEpollEvent_t = unix.EpollEvent

func (x *readerOps) init() {
	x.epollCreate1 = unix.EpollCreate1
	x.epollCtl = unix.EpollCtl
	x.epollWait = unix.EpollWait
}

func (r *reader) initPoller() error {
	epfd, err := r.ops.epollCreate1(0)
	if err != nil {
		return err
	}
	r.pollFD = epfd

	var fds [2]int
	if err := r.ops.pipe(fds[:]); err != nil {
		_ = r.ops.closeFD(r.pollFD)
		r.pollFD = -1
		return err
	}
	r.wakeR = fds[0]
	r.wakeW = fds[1]

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.fd)}
	if err := r.ops.epollCtl(r.pollFD, unix.EPOLL_CTL_ADD, r.fd, &event); err != nil {
		r.teardownPollerFDs()
		return err
	}

	wakeEvent := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wakeR)}
	if err := r.ops.epollCtl(r.pollFD, unix.EPOLL_CTL_ADD, r.wakeR, &wakeEvent); err != nil {
		r.teardownPollerFDs()
		return err
	}
	return nil
}

func (r *reader) teardownPollerFDs() {
	_ = r.ops.closeFD(r.pollFD)
	r.pollFD = -1
	_ = r.ops.closeFD(r.wakeR)
	_ = r.ops.closeFD(r.wakeW)
	r.wakeR = -1
	r.wakeW = -1
}

func (r *reader) closePoller() error {
	var firstErr error
	if r.pollFD >= 0 {
		if err := r.ops.closeFD(r.pollFD); err != nil && firstErr == nil {
			firstErr = err
		}
		r.pollFD = -1
	}
	if r.wakeR >= 0 {
		if err := r.ops.closeFD(r.wakeR); err != nil && firstErr == nil {
			firstErr = err
		}
		r.wakeR = -1
	}
	if r.wakeW >= 0 {
		if err := r.ops.closeFD(r.wakeW); err != nil && firstErr == nil {
			firstErr = err
		}
		r.wakeW = -1
	}
	return firstErr
}

func (r *reader) waitForRead() error {
	var events [2]unix.EpollEvent
	n, err := r.ops.epollWait(r.pollFD, events[:], -1)
	if err != nil {
		if err == syscall.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		if int(events[i].Fd) == r.fd && events[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			return io.EOF
		}
		if int(events[i].Fd) == r.wakeR {
			var buf [128]byte
			_, _ = r.ops.read(r.wakeR, buf[:])
		}
	}
	return nil
}

func (r *reader) shouldInterpretAsEOF(err error) bool {
	return err == syscall.EIO
}
