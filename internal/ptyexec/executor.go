// Package ptyexec drives one interactive child process through a
// pseudo-terminal: it streams the child's output, injects input that looks
// human-typed, and exposes interrupt/kill controls. It does not interpret
// the child's output; readiness and verification are the caller's concern.
package ptyexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creack/pty"

	"github.com/pfin/nova-mcp/internal/logging"
)

// ByteChunk is delivered to an OnBytes consumer. Seq is strictly increasing
// per Executor, starting at 1, with no gaps: delivery is in-order and
// at-most-once.
type ByteChunk struct {
	Seq  uint64
	Data []byte
}

// ExitReason classifies why an Executor's child process is no longer
// running.
type ExitReason string

const (
	ExitReasonNormal    ExitReason = "normal"
	ExitReasonKilled    ExitReason = "killed"
	ExitReasonIOFailure ExitReason = "io_failure"
)

// Event is the union of lifecycle notifications an Executor emits, mirroring
// spec names: ExecutionExited, ExecutionIOError, WriterStalled.
type Event interface{ isExecEvent() }

type ExecutionExited struct {
	Code   int
	Reason ExitReason
	Err    error
}

type ExecutionIOError struct{ Err error }

type WriterStalled struct{ Blocked time.Duration }

func (ExecutionExited) isExecEvent()  {}
func (ExecutionIOError) isExecEvent() {}
func (WriterStalled) isExecEvent()    {}

// Options configure Start.
type Options struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Rows    uint16
	Cols    uint16

	MinByteDelay time.Duration
	MaxByteDelay time.Duration

	// WriterStallThreshold is how long a Write call may block on the PTY
	// before a WriterStalled event is emitted. Zero disables the check.
	WriterStallThreshold time.Duration
}

func (o *Options) setDefaults() {
	if o.Rows == 0 {
		o.Rows = 24
	}
	if o.Cols == 0 {
		o.Cols = 80
	}
	if o.MaxByteDelay == 0 {
		o.MinByteDelay = 40 * time.Millisecond
		o.MaxByteDelay = 150 * time.Millisecond
	}
	if o.WriterStallThreshold == 0 {
		o.WriterStallThreshold = 2 * time.Second
	}
}

// Executor owns one child process attached to a PTY.
type Executor struct {
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	ptm      *os.File
	rd       *reader
	writer   *humanWriter
	started  bool
	closed   bool
	seq      atomic.Uint64
	lastByte atomic.Int64 // unix nano of last non-whitespace byte seen

	consumer   func(ByteChunk)
	consumerMu sync.Mutex

	events chan Event

	lastInterrupt atomic.Int64 // unix nano, for idempotency window

	cancelHeartbeat context.CancelFunc

	exitOnce sync.Once
	exitCh   chan struct{}
	exitCode int
	exitErr  error
}

// New constructs an Executor; call Start to spawn the child.
func New(opts Options, log *logging.Logger) *Executor {
	opts.setDefaults()
	return &Executor{
		opts:   opts,
		log:    log,
		events: make(chan Event, 32),
		exitCh: make(chan struct{}),
	}
}

// Events returns the channel Event values are published on. It is closed
// once the reader loop has exited for good and the child has exited, after
// ExecutionExited has been published.
func (e *Executor) Events() <-chan Event { return e.events }

// Start spawns the child under a PTY and begins streaming its output.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true

	cmd := exec.CommandContext(ctx, e.opts.Command, e.opts.Args...)
	cmd.Env = append(os.Environ(), e.opts.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	if e.opts.Dir != "" {
		cmd.Dir = e.opts.Dir
	}

	ws := &pty.Winsize{Rows: e.opts.Rows, Cols: e.opts.Cols}
	ptm, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	rd := newReader(ptm)
	if err := rd.Open(); err != nil {
		_ = ptm.Close()
		_ = cmd.Process.Kill()
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	e.cmd = cmd
	e.ptm = ptm
	e.rd = rd
	e.writer = newHumanWriter(ptm, e.opts.MinByteDelay, e.opts.MaxByteDelay)
	e.mu.Unlock()

	go e.readLoop()
	go e.waitLoop()

	return nil
}

// OnBytes registers the sole consumer of output chunks. Must be called
// before output is expected to be observed; only one consumer is supported
// per Executor (fan-out, if needed, belongs to the caller).
func (e *Executor) OnBytes(fn func(ByteChunk)) {
	e.consumerMu.Lock()
	defer e.consumerMu.Unlock()
	e.consumer = fn
}

func (e *Executor) readLoop() {
	defer func() {
		<-e.exitCh
		close(e.events)
	}()
	buf := make([]byte, 4096)
	for {
		n, err := e.rd.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if isNonWhitespace(chunk) {
				e.lastByte.Store(time.Now().UnixNano())
			}
			e.consumerMu.Lock()
			consumer := e.consumer
			e.consumerMu.Unlock()
			if consumer != nil {
				consumer(ByteChunk{Seq: e.seq.Add(1), Data: chunk})
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			reopenErr := e.reopen()
			e.publish(ExecutionIOError{Err: err})
			if reopenErr != nil {
				return
			}
			continue
		}
	}
}

// reopen implements the retry-with-backoff-after-IO-error policy: on any
// read failure short of clean EOF, attempt to reopen the reader immediately
// and, if that fails, once more after a 50ms backoff interval before giving
// up.
func (e *Executor) reopen() error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1)
	return backoff.Retry(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.ptm == nil {
			return backoff.Permanent(ErrReopenFailed)
		}
		_ = e.rd.Close()
		rd := newReader(e.ptm)
		if err := rd.Open(); err != nil {
			return fmt.Errorf("%w: %v", ErrReopenFailed, err)
		}
		e.rd = rd
		return nil
	}, b)
}

func (e *Executor) waitLoop() {
	e.exitOnce.Do(func() {
		err := e.cmd.Wait()
		code := 0
		reason := ExitReasonNormal
		if err != nil {
			reason = ExitReasonKilled
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
				reason = ExitReasonNormal
			} else {
				code = -1
			}
		}
		e.mu.Lock()
		e.exitCode = code
		e.exitErr = err
		e.mu.Unlock()
		e.publish(ExecutionExited{Code: code, Reason: reason, Err: err})
		close(e.exitCh)
	})
}

func (e *Executor) publish(ev Event) {
	select {
	case e.events <- ev:
	default:
		// events channel saturated; the consumer is not draining fast
		// enough. Dropping a lifecycle event is preferable to blocking the
		// reader loop indefinitely.
	}
}

// Write enqueues bytes to the child's controlling terminal as if a human
// typed them, followed by the submission sequence. Injection is atomic:
// concurrent Write calls never interleave.
func (e *Executor) Write(b []byte) error {
	e.mu.Lock()
	w := e.writer
	e.mu.Unlock()
	if w == nil {
		return ErrNotStarted
	}

	done := make(chan error, 1)
	go func() { done <- w.Inject(b) }()

	if e.opts.WriterStallThreshold > 0 {
		select {
		case err := <-done:
			return err
		case <-time.After(e.opts.WriterStallThreshold):
			e.publish(WriterStalled{Blocked: e.opts.WriterStallThreshold})
			return <-done
		}
	}
	return <-done
}

// Interrupt sends the platform interrupt key sequence. Idempotent within
// 100ms: a second call inside that window is a no-op.
func (e *Executor) Interrupt() error {
	now := time.Now().UnixNano()
	last := e.lastInterrupt.Load()
	if last != 0 && time.Duration(now-last) < 100*time.Millisecond {
		return nil
	}
	e.lastInterrupt.Store(now)

	e.mu.Lock()
	w := e.writer
	e.mu.Unlock()
	if w == nil {
		return ErrNotStarted
	}
	_, err := w.Raw([]byte(interruptSeq))
	return err
}

// Kill sends SIGTERM, waits up to grace for exit, then SIGKILL. The PTY is
// always released, regardless of how the child exits.
func (e *Executor) Kill(grace time.Duration) error {
	e.mu.Lock()
	cmd := e.cmd
	ptm := e.ptm
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}

	defer func() {
		if ptm != nil {
			_ = ptm.Close()
		}
	}()

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-e.exitCh:
		return nil
	case <-time.After(grace):
	}
	return cmd.Process.Kill()
}

// Heartbeat periodically writes a zero-width no-op to the child to defeat
// idle-timeout heuristics, disabling itself once the child has produced
// non-whitespace output within the last interval. Returns a stop function.
func (e *Executor) Heartbeat(interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelHeartbeat = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				last := e.lastByte.Load()
				if last != 0 && time.Since(time.Unix(0, last)) < interval {
					continue
				}
				e.mu.Lock()
				w := e.writer
				e.mu.Unlock()
				if w != nil {
					_, _ = w.Raw(nil)
				}
			}
		}
	}()
	return cancel
}

// Close releases the PTY and stops the reader loop without killing the
// child; callers that want to terminate the child should call Kill first.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	rd := e.rd
	ptm := e.ptm
	hb := e.cancelHeartbeat
	e.mu.Unlock()

	if hb != nil {
		hb()
	}
	if rd != nil {
		_ = rd.Close()
	}
	if ptm != nil {
		_ = ptm.Close()
	}
	return nil
}

func isNonWhitespace(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return true
		}
	}
	return false
}
