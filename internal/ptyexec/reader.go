//go:build unix

package ptyexec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// readerOps collects the platform and syscall operations used by reader, so
// tests can inject mocks per-instance instead of mutating package globals.
type readerOps struct {
	setNonblock func(int, bool) error
	tcgetattr   func(uintptr) (*unix.Termios, error)
	tcsetattr   func(uintptr, uintptr, *unix.Termios) error
	read        func(int, []byte) (int, error)
	initPoller  func(*reader) error
	waitForRead func(*reader) error
	pipe        func([]int) error
	closeFD     func(int) error

	//lint:ignore U1000 unused depending on platform
	kqueue func() (int, error)
	//lint:ignore U1000 unused depending on platform
	kevent func(int, []readerOpsUnixKevent_t, []readerOpsUnixKevent_t, *unix.Timespec) (int, error)

	//lint:ignore U1000 unused depending on platform
	epollCreate1 func(int) (int, error)
	//lint:ignore U1000 unused depending on platform
	epollCtl func(int, int, int, *readerOpsEpollEvent_t) error
	//lint:ignore U1000 unused depending on platform
	epollWait func(int, []readerOpsEpollEvent_t, int) (int, error)
}

func newReaderOps() *readerOps {
	x := readerOps{
		setNonblock: syscall.SetNonblock,
		tcgetattr:   termios.Tcgetattr,
		tcsetattr:   termios.Tcsetattr,
		read:        syscall.Read,
		initPoller:  func(r *reader) error { return r.initPoller() },
		waitForRead: func(r *reader) error { return r.waitForRead() },
		pipe:        unix.Pipe,
		closeFD:     unix.Close,
	}
	x.init()
	return &x
}

// reader drives non-blocking reads off a PTY master, parking the calling
// goroutine in the platform poller between reads instead of busy-looping.
//
// VMIN=0, VTIME=0 means a read with no data returns (0, nil), not EOF; EOF
// is reported after an explicit Close, or when the PTY reports EIO or a
// hang-up/error condition (the child side has gone away).
type reader struct {
	file      *os.File
	fd        int
	pollFD    int
	wakeR     int
	wakeW     int
	closed    bool
	mu        sync.Mutex
	closeOnce sync.Once
	ops       *readerOps
}

func newReader(file *os.File) *reader {
	return &reader{
		file:   file,
		fd:     -1,
		pollFD: -1,
		wakeR:  -1,
		wakeW:  -1,
		ops:    newReaderOps(),
	}
}

func (r *reader) Open() error {
	if r.file == nil {
		return fmt.Errorf("ptyexec: reader has no file")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fd = int(r.file.Fd())

	if err := r.ops.setNonblock(r.fd, true); err != nil {
		return fmt.Errorf("ptyexec: set non-blocking: %w", err)
	}

	term, err := r.ops.tcgetattr(uintptr(r.fd))
	if err != nil {
		return fmt.Errorf("ptyexec: get terminal attributes: %w", err)
	}
	term.Cc[unix.VMIN] = 0
	term.Cc[unix.VTIME] = 0
	if err := r.ops.tcsetattr(uintptr(r.fd), termios.TCSANOW, term); err != nil {
		return fmt.Errorf("ptyexec: set VMIN=0: %w", err)
	}
	if err := r.ops.initPoller(r); err != nil {
		return fmt.Errorf("ptyexec: init poller: %w", err)
	}
	return nil
}

func (r *reader) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true
		if r.wakeW >= 0 {
			_, _ = unix.Write(r.wakeW, []byte("x"))
		}
		_ = r.closePoller()
		r.file = nil
		r.fd = -1
	})
	return nil
}

func (r *reader) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		if r.closed || r.fd < 0 {
			r.mu.Unlock()
			return 0, io.EOF
		}

		n, err := r.ops.read(r.fd, p)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				r.mu.Unlock()
				if werr := r.waitAndCheckClosed(); werr != nil {
					return 0, werr
				}
				continue
			}
			r.mu.Unlock()
			if n > 0 {
				if r.shouldInterpretAsEOF(err) {
					return n, io.EOF
				}
				return n, err
			}
			if r.shouldInterpretAsEOF(err) {
				return 0, io.EOF
			}
			return 0, err
		}

		if n == 0 {
			r.mu.Unlock()
			if werr := r.waitAndCheckClosed(); werr != nil {
				return 0, werr
			}
			continue
		}

		r.mu.Unlock()
		return n, nil
	}
}

// waitAndCheckClosed blocks until readable (or woken), called with the lock
// released, and folds a concurrent Close into io.EOF.
func (r *reader) waitAndCheckClosed() error {
	if err := r.ops.waitForRead(r); err != nil {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return io.EOF
		}
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return io.EOF
	}
	return nil
}
