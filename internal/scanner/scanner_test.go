package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pfin/nova-mcp/internal/ids"
)

func newTestScanner(t *testing.T) (*Scanner, *[]Match) {
	t.Helper()
	s := New(ids.ExecutionID("exec-1"), DefaultRules(), 0, 0, 50*time.Millisecond)
	var matches []Match
	s.OnMatch(func(m Match) { matches = append(matches, m) })
	return s, &matches
}

func TestPlanningStallFires(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("Let me outline the approach first.\n"))
	require.Len(t, *matches, 1)
	require.Equal(t, FamilyPlanningStall, (*matches)[0].Family)
	require.False(t, (*matches)[0].Suppressed)
}

func TestPlanningStallSuppressedInCodeBlock(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("```\n"))
	s.Append([]byte("i will plan the steps\n"))
	s.Append([]byte("```\n"))
	for _, m := range *matches {
		require.NotEqual(t, FamilyPlanningStall, m.Family)
	}
}

func TestFalseCompletionNotSuppressedInCodeBlock(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("```\n"))
	s.Append([]byte("Everything is working now.\n"))
	s.Append([]byte("```\n"))
	var fc []Match
	for _, m := range *matches {
		if m.Family == FamilyFalseCompletion {
			fc = append(fc, m)
		}
	}
	require.Len(t, fc, 1)
	require.False(t, fc[0].Suppressed)
}

func TestCooldownSuppressesRepeatedMatchesWithinWindow(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("let me explore the options\n"))
	s.Append([]byte("let me explore more things\n"))
	require.Len(t, *matches, 2)
	require.False(t, (*matches)[0].Suppressed)
	require.True(t, (*matches)[1].Suppressed)
	require.Equal(t, 1, s.SuppressedCount("research-loop-indefinite"))
}

func TestCooldownExpiresAfterWindow(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("let me explore the options\n"))
	time.Sleep(60 * time.Millisecond)
	s.Append([]byte("let me explore more things\n"))
	require.Len(t, *matches, 2)
	require.False(t, (*matches)[1].Suppressed)
}

func TestEmptyTODOFiresWhenUnfollowed(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("TODO: handle this later\n"))
	for i := 0; i < defaultTODOLookahead; i++ {
		s.Append([]byte("just some more talk\n"))
	}
	found := false
	for _, m := range *matches {
		if m.Family == FamilyEmptyTODO {
			found = true
		}
	}
	require.True(t, found)
}

func TestEmptyTODOSuppressedByFollowingCodeBlock(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("TODO: implement the parser\n"))
	s.Append([]byte("```go\n"))
	for i := 0; i < defaultTODOLookahead+2; i++ {
		s.Append([]byte("more output\n"))
	}
	for _, m := range *matches {
		require.NotEqual(t, FamilyEmptyTODO, m.Family)
	}
}

func TestProgressSignalsAreTrackedNotInterrupted(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("Created file main.go\n"))
	require.Len(t, *matches, 1)
	require.Equal(t, ActionTrack, (*matches)[0].Action)
}

func TestANSISequencesAreStrippedFromMatchingView(t *testing.T) {
	s, matches := newTestScanner(t)
	s.Append([]byte("\x1b[31mlet me explore the options\x1b[0m\n"))
	require.Len(t, *matches, 1)
}
