package ledger

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-longpoll"
	"github.com/stretchr/testify/require"

	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/logging"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, 0, logging.New(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAssignsStrictlyIncreasingSeq(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	seq1, err := l.Append(ctx, Event{Kind: KindExecutionStarted, TaskID: ids.TaskID("t1")})
	require.NoError(t, err)
	seq2, err := l.Append(ctx, Event{Kind: KindExecutionExited, TaskID: ids.TaskID("t1")})
	require.NoError(t, err)

	require.Equal(t, uint64(1), seq1)
	require.Equal(t, uint64(2), seq2)
}

func TestSinceReturnsEventsAfterSeq(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, Event{Kind: KindScannerMatch})
		require.NoError(t, err)
	}

	events, err := l.Since(2)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(3), events[0].Seq)
}

func TestSubscribeReceivesLiveAppends(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	_, err := l.Append(ctx, Event{Kind: KindExecutionStarted})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		require.Equal(t, KindExecutionStarted, evt.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := newTestLedger(t)
	ch, unsubscribe := l.Subscribe()
	unsubscribe()

	_, ok := <-ch
	require.False(t, ok)
}

func TestRetentionCapCompactsOldestEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, 3, logging.New(nil))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, Event{Kind: KindScannerMatch})
		require.NoError(t, err)
	}

	events, err := l.Since(0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(events), 3)
}

func TestPollBatchDrainsAvailableEvents(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, Event{Kind: KindScannerMatch})
		require.NoError(t, err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	events, err := PollBatch(pollCtx, ch, &longpoll.ChannelConfig{MaxSize: 10, MinSize: 1, PartialTimeout: 100 * time.Millisecond})
	require.True(t, err == nil || err == io.EOF)
	require.NotEmpty(t, events)
}
