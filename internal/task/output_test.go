package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputBufferTracksLifetimeTotal(t *testing.T) {
	b := newOutputBuffer(1024)
	b.Append([]byte("hello "))
	total := b.Append([]byte("world"))
	require.Equal(t, int64(11), total)
}

func TestOutputBufferEvictsBeyondRecentCap(t *testing.T) {
	b := newOutputBuffer(4)
	b.Append([]byte("abcdef"))
	require.Equal(t, []byte("cdef"), b.Tail(0))
	require.Equal(t, int64(6), b.Total())
}

func TestOutputBufferTailReturnsLastNLines(t *testing.T) {
	b := newOutputBuffer(1024)
	b.Append([]byte("one\ntwo\nthree\n"))
	require.Equal(t, []byte("two\nthree\n"), b.Tail(2))
}

func TestOutputBufferTailZeroReturnsEverything(t *testing.T) {
	b := newOutputBuffer(1024)
	b.Append([]byte("only line"))
	require.Equal(t, []byte("only line"), b.Tail(0))
}
