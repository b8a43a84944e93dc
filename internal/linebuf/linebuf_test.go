package linebuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeedSplitsCompleteLines(t *testing.T) {
	var buf Buffer
	lines := buf.Feed([]byte("foo\nbar\nba"))
	require.Len(t, lines, 2)
	require.Equal(t, "foo", string(lines[0].Text))
	require.Equal(t, "bar", string(lines[1].Text))
	require.Equal(t, "ba", string(buf.Pending()))
}

func TestFeedAcrossCalls(t *testing.T) {
	var buf Buffer
	require.Empty(t, buf.Feed([]byte("par")))
	lines := buf.Feed([]byte("tial\n"))
	require.Len(t, lines, 1)
	require.Equal(t, "partial", string(lines[0].Text))
}

func TestFeedStripsTrailingCR(t *testing.T) {
	var buf Buffer
	lines := buf.Feed([]byte("windows\r\n"))
	require.Len(t, lines, 1)
	require.Equal(t, "windows", string(lines[0].Text))
}

func TestLineStartOffsetsAreAbsolute(t *testing.T) {
	var buf Buffer
	buf.Feed([]byte("aaaa\n"))
	lines := buf.Feed([]byte("bbbb\n"))
	require.Equal(t, int64(5), lines[0].Start)
}

func TestFlushReturnsRemainingPartial(t *testing.T) {
	var buf Buffer
	buf.Feed([]byte("no newline yet"))
	line, ok := buf.Flush()
	require.True(t, ok)
	require.Equal(t, "no newline yet", string(line.Text))

	_, ok = buf.Flush()
	require.False(t, ok)
}
