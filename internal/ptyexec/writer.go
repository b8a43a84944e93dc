package ptyexec

import (
	"math/rand"
	"os"
	"sync"
	"time"
)

const (
	// interruptSeq is the byte conventionally used to cancel the child's
	// current line of input (SIGINT's terminal-driver key, Ctrl-C).
	interruptSeq = "\x03"
	// submitSeq terminates an injected line, matching the "enter" mapping
	// used across the pack's own PTY drivers (\r, not \n).
	submitSeq = "\r"
)

// humanWriter serializes writes to a PTY master with randomized inter-byte
// delay, so injected input looks like a human typing rather than a paste.
// Injection is atomic per call: concurrent Inject calls cannot interleave.
type humanWriter struct {
	mu       sync.Mutex
	file     *os.File
	minDelay time.Duration
	maxDelay time.Duration
	rng      *rand.Rand
	rngMu    sync.Mutex
}

func newHumanWriter(file *os.File, minDelay, maxDelay time.Duration) *humanWriter {
	return &humanWriter{
		file:     file,
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Raw writes p to the PTY unchanged, with no delay or submission sequence.
// Used for control sequences such as interrupt, which must pass through
// instantly.
func (w *humanWriter) Raw(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Write(p)
}

// Inject writes b one byte at a time with a randomized delay in
// [minDelay, maxDelay] between bytes, then writes the submission sequence.
// The whole call holds the lock, so it cannot interleave with a concurrent
// Inject or Raw.
func (w *humanWriter) Inject(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, c := range b {
		if _, err := w.file.Write([]byte{c}); err != nil {
			return err
		}
		if i != len(b)-1 {
			time.Sleep(w.jitter())
		}
	}
	_, err := w.file.WriteString(submitSeq)
	return err
}

func (w *humanWriter) jitter() time.Duration {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	if w.maxDelay <= w.minDelay {
		return w.minDelay
	}
	span := int64(w.maxDelay - w.minDelay)
	return w.minDelay + time.Duration(w.rng.Int63n(span+1))
}
