//go:build unix

package ptyexec

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pfin/nova-mcp/internal/logging"
)

func newTestExecutor(t *testing.T, opts Options) *Executor {
	t.Helper()
	opts.MinByteDelay = time.Millisecond
	opts.MaxByteDelay = 2 * time.Millisecond
	e := New(opts, logging.New(nil))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecutorStreamsOutput(t *testing.T) {
	e := newTestExecutor(t, Options{Command: "sh", Args: []string{"-c", "echo hello"}})

	var mu sync.Mutex
	var buf bytes.Buffer
	done := make(chan struct{})
	e.OnBytes(func(c ByteChunk) {
		mu.Lock()
		buf.Write(c.Data)
		mu.Unlock()
		if bytes.Contains(buf.Bytes(), []byte("hello")) {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child output")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, buf.String(), "hello")
}

func TestExecutorByteChunksAreOrderedWithNoGaps(t *testing.T) {
	e := newTestExecutor(t, Options{Command: "sh", Args: []string{"-c", "for i in 1 2 3; do echo line$i; done"}})

	var mu sync.Mutex
	var seqs []uint64
	done := make(chan struct{})
	e.OnBytes(func(c ByteChunk) {
		mu.Lock()
		seqs = append(seqs, c.Seq)
		mu.Unlock()
	})
	go func() {
		<-e.exitCh
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child exit")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range seqs {
		require.Equal(t, uint64(i+1), s)
	}
}

func TestExecutorWriteEchoesInput(t *testing.T) {
	e := newTestExecutor(t, Options{Command: "cat"})

	var mu sync.Mutex
	var buf bytes.Buffer
	e.OnBytes(func(c ByteChunk) {
		mu.Lock()
		buf.Write(c.Data)
		mu.Unlock()
	})

	require.NoError(t, e.Write([]byte("ping")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Contains(buf.Bytes(), []byte("ping"))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExecutorInterruptIsIdempotentWithinWindow(t *testing.T) {
	e := newTestExecutor(t, Options{Command: "sleep", Args: []string{"5"}})

	require.NoError(t, e.Interrupt())
	first := e.lastInterrupt.Load()
	require.NoError(t, e.Interrupt())
	require.Equal(t, first, e.lastInterrupt.Load())
}

func TestExecutorKillAlwaysReleasesPTY(t *testing.T) {
	e := newTestExecutor(t, Options{Command: "sleep", Args: []string{"30"}})

	require.NoError(t, e.Kill(100*time.Millisecond))

	select {
	case <-e.exitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit after Kill")
	}
	_, err := e.ptm.Write([]byte("x"))
	require.Error(t, err)
}

func TestExecutorStartTwiceFails(t *testing.T) {
	e := newTestExecutor(t, Options{Command: "sleep", Args: []string{"1"}})
	require.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}

func TestExecutorWriteBeforeStartFails(t *testing.T) {
	e := New(Options{Command: "cat"}, logging.New(nil))
	require.ErrorIs(t, e.Write([]byte("x")), ErrNotStarted)
}
