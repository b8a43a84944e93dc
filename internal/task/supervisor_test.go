package task

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/hooks"
	"github.com/pfin/nova-mcp/internal/ledger"
	"github.com/pfin/nova-mcp/internal/logging"
	"github.com/pfin/nova-mcp/internal/ptyexec"
	"github.com/pfin/nova-mcp/internal/workspace"
)

func newTestSupervisor(t *testing.T, opts Options) (*Supervisor, *ledger.Ledger) {
	t.Helper()
	cfg := config.Default()
	cfg.WorkspaceBase = t.TempDir()
	cfg.TaskTimeout = 0 // disabled by default, tests opt in explicitly
	cfg.InterByteDelay = config.ByteRange{Min: time.Millisecond, Max: 2 * time.Millisecond}

	log := logging.New(nil)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), 0, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	hk := hooks.New(log)
	ws := workspace.New(log)

	opts.Command.MinByteDelay = time.Millisecond
	opts.Command.MaxByteDelay = 2 * time.Millisecond
	s := New(cfg, log, l, hk, ws, opts)
	return s, l
}

func TestSpawnTransitionsToRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "sleep 1"}},
	})
	ctx := context.Background()
	require.NoError(t, s.Spawn(ctx))
	t.Cleanup(func() { _ = s.executor.Kill(time.Second) })

	require.Eventually(t, func() bool {
		return s.Status().State == StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendBeforeSpawnFailsNotRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "sleep 1"}},
	})
	err := s.Send([]byte("hi"))
	require.Error(t, err)
	var notRunning *NotRunningError
	require.ErrorAs(t, err, &notRunning)
}

func TestExecutionExitReachesCompletedTerminalState(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "echo done"}},
	})
	ctx := context.Background()
	require.NoError(t, s.Spawn(ctx))

	require.Eventually(t, func() bool {
		return s.Status().State.Terminal()
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, StateCompleted, s.Status().State)
}

func TestInterruptBeforeSpawnReturnsErrNotSpawned(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "sleep 1"}},
	})
	require.ErrorIs(t, s.Interrupt(nil), ErrNotSpawned)
}

func TestOutputAccumulatesStreamedBytes(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "echo hello-world"}},
	})
	ctx := context.Background()
	require.NoError(t, s.Spawn(ctx))

	require.Eventually(t, func() bool {
		return len(s.Output(0)) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReadyReflectsConfiguredReadinessFunc(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:    "implement a thing",
		Command:   ptyexec.Options{Command: "sh", Args: []string{"-c", "printf 'prompt> '; sleep 1"}},
		Readiness: DefaultReadiness,
	})
	ctx := context.Background()
	require.NoError(t, s.Spawn(ctx))
	t.Cleanup(func() { _ = s.executor.Kill(time.Second) })

	require.Eventually(t, func() bool {
		return s.Ready()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWaitUnblocksOnTerminalState(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "echo done"}},
	})
	ctx := context.Background()
	require.NoError(t, s.Spawn(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(waitCtx))
	require.True(t, s.Status().State.Terminal())
}

func TestCleanupDestroysWorkspaceOnTerminal(t *testing.T) {
	s, _ := newTestSupervisor(t, Options{
		Prompt:  "implement a thing",
		Command: ptyexec.Options{Command: "sh", Args: []string{"-c", "echo done"}},
	})
	ctx := context.Background()
	require.NoError(t, s.Spawn(ctx))

	require.Eventually(t, func() bool {
		return s.Status().State.Terminal()
	}, 3*time.Second, 10*time.Millisecond)

	_, err := s.ws.Path(s.wsHandle)
	require.Error(t, err)
}
