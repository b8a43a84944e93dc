//go:build darwin

package ptyexec

import (
	"syscall"

	"golang.org/x/sys/unix"
)

type readerOpsUnixKevent_t = unix.Kevent_t
type readerOpsEpollEvent_t = any

func (x *readerOps) init() {
	x.kqueue = unix.Kqueue
	x.kevent = unix.Kevent
}

func (r *reader) initPoller() error {
	kq, err := r.ops.kqueue()
	if err != nil {
		return err
	}
	r.pollFD = kq

	var fds [2]int
	if err := r.ops.pipe(fds[:]); err != nil {
		_ = r.ops.closeFD(r.pollFD)
		r.pollFD = -1
		return err
	}
	r.wakeR = fds[0]
	r.wakeW = fds[1]

	events := []unix.Kevent_t{{Ident: uint64(r.fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE}}
	if _, err := r.ops.kevent(r.pollFD, events, nil, nil); err != nil {
		r.teardownPollerFDs()
		return err
	}

	wakeEvents := []unix.Kevent_t{{Ident: uint64(r.wakeR), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE}}
	if _, err := r.ops.kevent(r.pollFD, wakeEvents, nil, nil); err != nil {
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
	var events [2]unix.Kevent_t
	n, err := r.ops.kevent(r.pollFD, nil, events[:], nil)
	if err != nil {
		if err == syscall.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		if int(events[i].Ident) == r.wakeR {
			var buf [128]byte
			_, _ = r.ops.read(r.wakeR, buf[:])
		}
	}
	return nil
}

func (r *reader) shouldInterpretAsEOF(err error) bool {
	return err == syscall.EIO
}
