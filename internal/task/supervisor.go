// Package task owns the per-task state machine: it wires one PTY Executor,
// one Pattern Scanner, and one Intervention Controller together behind the
// spawn/send/interrupt/status/output surface, and guarantees ordered
// cleanup on every terminal transition.
package task

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/hooks"
	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/intervention"
	"github.com/pfin/nova-mcp/internal/ledger"
	"github.com/pfin/nova-mcp/internal/logging"
	"github.com/pfin/nova-mcp/internal/metrics"
	"github.com/pfin/nova-mcp/internal/ptyexec"
	"github.com/pfin/nova-mcp/internal/scanner"
	"github.com/pfin/nova-mcp/internal/workspace"
)

// ReadinessFunc decides, from the last N bytes of output, whether the child
// is ready for input. Supervisor.Ready reports it; callers use that to decide
// when to start sending prompts. It does not affect the heartbeat.
type ReadinessFunc func(tail []byte) bool

// DefaultReadiness matches a trailing shell-style prompt glyph.
func DefaultReadiness(tail []byte) bool {
	for _, glyph := range [][]byte{[]byte("$ "), []byte("> "), []byte("❯ ")} {
		if bytes.HasSuffix(bytes.TrimRight(tail, "\r\n"), glyph) {
			return true
		}
	}
	return false
}

// Options configures a new Supervisor.
type Options struct {
	Prompt       string
	ParentTaskID ids.TaskID
	Command      ptyexec.Options
	Readiness    ReadinessFunc
	Evidence     intervention.EvidenceFunc

	// KeepWorkspace, when true, skips destroying the workspace on cleanup
	// (the Orchestrator wants to merge it first).
	KeepWorkspace bool
}

// Snapshot is the point-in-time view returned by Status.
type Snapshot struct {
	TaskID            ids.TaskID
	ExecutionID       ids.ExecutionID
	State             State
	FailReason        FailReason
	Runtime           time.Duration
	BytesOut          int64
	MatchCount        int
	InterventionCount int
}

// Supervisor owns one Task's Execution end to end.
type Supervisor struct {
	id      ids.TaskID
	execID  ids.ExecutionID
	prompt  string
	cfg     *config.Config
	log     *logging.Logger
	ledg    *ledger.Ledger
	hk      *hooks.Orchestrator
	ws      *workspace.Adapter
	opts    Options
	startAt time.Time

	mu                sync.Mutex
	state             State
	failReason        FailReason
	wsHandle          workspace.Handle
	executor          *ptyexec.Executor
	scan              *scanner.Scanner
	controller        *intervention.Controller
	output            *outputBuffer
	matchCount        int
	interventionCount int
	cleanupOnce       sync.Once
	cancelTimeout     context.CancelFunc
	doneCh            chan struct{}
}

// New builds a Supervisor; call Spawn to actually start the Execution.
func New(cfg *config.Config, log *logging.Logger, ledg *ledger.Ledger, hk *hooks.Orchestrator, ws *workspace.Adapter, opts Options) *Supervisor {
	if opts.Readiness == nil {
		opts.Readiness = DefaultReadiness
	}
	id := ids.NewTaskID()
	return &Supervisor{
		id:     id,
		execID: ids.NewExecutionID(),
		prompt: opts.Prompt,
		cfg:    cfg,
		log:    logging.Task(log, string(id)),
		ledg:   ledg,
		hk:     hk,
		ws:     ws,
		opts:   opts,
		state:  StateQueued,
		output: newOutputBuffer(cfg.RecentBuffer),
		doneCh: make(chan struct{}),
	}
}

// ID returns the task's identity.
func (s *Supervisor) ID() ids.TaskID { return s.id }

func (s *Supervisor) monitorHookName() string      { return "monitor:" + string(s.id) }
func (s *Supervisor) approvalHookName() string     { return "approval:" + string(s.id) }
func (s *Supervisor) interventionHookName() string { return "intervention:" + string(s.id) }

// Spawn creates the workspace, starts the Executor, and wires the Scanner
// and Controller. It returns once the Executor is live; streaming and
// intervention happen on background goroutines.
func (s *Supervisor) Spawn(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateQueued {
		s.mu.Unlock()
		return fmt.Errorf("task: %s already spawned (state=%s)", s.id, s.state)
	}
	s.state = StateStarting
	s.startAt = time.Now()
	s.mu.Unlock()

	handle, err := s.ws.Create(ctx, s.cfg.WorkspaceBase)
	if err != nil {
		s.fail(ReasonAdapterError)
		return fmt.Errorf("task: create workspace: %w", err)
	}
	wsPath, _ := s.ws.Path(handle)

	execOpts := s.opts.Command
	if execOpts.Dir == "" {
		execOpts.Dir = wsPath
	}
	executor := ptyexec.New(execOpts, s.log)

	scan := scanner.New(s.execID, scanner.DefaultRules(), s.cfg.ScannerWindow, 0, s.cfg.InterventionCooldown)
	controller := intervention.New(s.execID, s.cfg.StageTimeouts, executor, s.opts.Evidence, s.log)

	s.mu.Lock()
	s.wsHandle = handle
	s.executor = executor
	s.scan = scan
	s.controller = controller
	s.mu.Unlock()

	controller.OnApplied(func(a intervention.Applied) {
		s.mu.Lock()
		s.interventionCount++
		s.mu.Unlock()
		metrics.InterventionsByStage.WithLabelValues(a.Stage.String()).Inc()
		s.appendLedger(ledger.KindInterventionApplied, a)
	})
	controller.OnUnproductive(func(u intervention.Unproductive) {
		s.appendLedger(ledger.KindExecutionUnproductive, u)
		_ = executor.Kill(5 * time.Second)
		s.fail(ReasonUnproductive)
	})
	scan.OnMatch(func(m scanner.Match) {
		s.mu.Lock()
		s.matchCount++
		s.mu.Unlock()
		metrics.ScannerMatchesByRule.WithLabelValues(string(m.Family)).Inc()
		s.appendLedger(ledger.KindScannerMatch, m)
		if s.hk != nil {
			_, _ = s.hk.Run(hooks.PhaseStream, m)
		}
	})

	if s.hk != nil {
		s.hk.Register(hooks.PhaseStream, s.monitorHookName(), 70, hooks.NewMonitorHandler(func(sp hooks.StreamPayload) {
			s.appendLedger(ledger.KindOrchestrationEvent, sp)
		}))
		s.hk.Register(hooks.PhaseStream, s.approvalHookName(), 60, hooks.NewApprovalHandler(func(response []byte) error {
			return executor.Write(response)
		}))
		s.hk.Register(hooks.PhaseStream, s.interventionHookName(), 50, hooks.NewInterventionBridgeHandler(func(match any) {
			if m, ok := match.(scanner.Match); ok {
				controller.HandleMatch(m)
			}
		}))
	}

	executor.OnBytes(s.consumeBytes)

	if err := executor.Start(ctx); err != nil {
		s.fail(ReasonSpawnFailed)
		return fmt.Errorf("task: start executor: %w", err)
	}

	stopHeartbeat := executor.Heartbeat(s.cfg.HeartbeatInterval)
	_ = stopHeartbeat

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	metrics.TasksStarted.Inc()
	s.appendLedger(ledger.KindExecutionStarted, map[string]string{"task_id": string(s.id), "execution_id": string(s.execID)})

	timeoutCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelTimeout = cancel
	s.mu.Unlock()
	go s.watchLifecycle(timeoutCtx)
	go s.watchTimeout(timeoutCtx)

	return nil
}

func (s *Supervisor) consumeBytes(chunk ptyexec.ByteChunk) {
	total := s.output.Append(chunk.Data)
	if total > s.cfg.OutputCap {
		s.fail(ReasonOutputOverflow)
		return
	}
	if s.hk != nil {
		_, _ = s.hk.Run(hooks.PhaseStream, hooks.StreamPayload{ExecutionID: string(s.execID), Window: chunk.Data})
	}
	s.scan.Append(chunk.Data)
}

func (s *Supervisor) watchLifecycle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.executor.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case ptyexec.ExecutionExited:
				s.appendLedger(ledger.KindExecutionExited, e)
				s.scan.Flush()
				if e.Reason == ptyexec.ExitReasonKilled {
					s.terminal(StateInterrupted, "")
				} else if e.Code != 0 {
					s.fail(ReasonChildUnresponsive)
				} else {
					s.terminal(StateCompleted, "")
				}
				return
			case ptyexec.ExecutionIOError:
				s.appendLedger(ledger.KindExecutionIOError, e)
			case ptyexec.WriterStalled:
				s.appendLedger(ledger.KindWriterStalled, e)
			}
		}
	}
}

func (s *Supervisor) watchTimeout(ctx context.Context) {
	timeout := s.cfg.TaskTimeout
	if timeout <= 0 {
		return
	}
	idle := s.cfg.IdleLimit
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	idleTicker := time.NewTicker(idle / 4)
	defer idleTicker.Stop()
	var lastTotal int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.mu.Lock()
			executor := s.executor
			s.mu.Unlock()
			if executor != nil {
				_ = executor.Interrupt()
				time.AfterFunc(5*time.Second, func() { _ = executor.Kill(5 * time.Second) })
			}
			s.terminal(StateTimedOut, "")
			return
		case <-idleTicker.C:
			total := s.output.Total()
			if total == lastTotal {
				s.mu.Lock()
				quiet := time.Since(s.startAt) > idle
				s.mu.Unlock()
				if quiet {
					s.fail(ReasonChildUnresponsive)
					return
				}
			}
			lastTotal = total
		}
	}
}

// Send appends bytes to the child's input. Fails with NotRunningError
// unless the task is Running.
func (s *Supervisor) Send(b []byte) error {
	s.mu.Lock()
	st := s.state
	executor := s.executor
	s.mu.Unlock()
	if st != StateRunning || executor == nil {
		return &NotRunningError{TaskID: string(s.id), State: st}
	}
	return executor.Write(b)
}

// Interrupt invokes Executor.Interrupt and optionally injects a follow-up
// message. Idempotent (the Executor itself enforces the 100ms window).
func (s *Supervisor) Interrupt(followUp []byte) error {
	s.mu.Lock()
	executor := s.executor
	s.mu.Unlock()
	if executor == nil {
		return ErrNotSpawned
	}
	if err := executor.Interrupt(); err != nil {
		return err
	}
	if len(followUp) > 0 {
		return executor.Write(followUp)
	}
	return nil
}

// Status returns a snapshot of the task's current progress.
func (s *Supervisor) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runtime time.Duration
	if !s.startAt.IsZero() {
		runtime = time.Since(s.startAt)
	}
	return Snapshot{
		TaskID:            s.id,
		ExecutionID:       s.execID,
		State:             s.state,
		FailReason:        s.failReason,
		Runtime:           runtime,
		BytesOut:          s.output.Total(),
		MatchCount:        s.matchCount,
		InterventionCount: s.interventionCount,
	}
}

// Output returns the accumulated output, optionally only the last tail
// lines. Older evicted bytes remain retrievable from the Ledger.
func (s *Supervisor) Output(tail int) []byte {
	return s.output.Tail(tail)
}

// Ready reports whether the child's most recent output satisfies the
// configured ReadinessFunc, looking at the last 256 bytes retained.
func (s *Supervisor) Ready() bool {
	recent := s.output.Tail(0)
	if len(recent) > 256 {
		recent = recent[len(recent)-256:]
	}
	return s.opts.Readiness(recent)
}

func (s *Supervisor) fail(reason FailReason) {
	s.mu.Lock()
	s.failReason = reason
	s.mu.Unlock()
	s.terminal(StateFailed, reason)
}

func (s *Supervisor) terminal(state State, reason FailReason) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	if reason != "" {
		s.failReason = reason
	}
	s.mu.Unlock()
	s.cleanup()
}

// cleanup runs the mandatory ordered teardown (spec.md §4.5): unregister
// hooks, stop the Scanner, kill the Executor, release the Workspace,
// emit TaskEnded. Every step runs even if an earlier one fails.
func (s *Supervisor) cleanup() {
	s.cleanupOnce.Do(func() {
		if s.hk != nil {
			s.hk.Unregister(hooks.PhaseStream, s.monitorHookName())
			s.hk.Unregister(hooks.PhaseStream, s.approvalHookName())
			s.hk.Unregister(hooks.PhaseStream, s.interventionHookName())
		}

		s.mu.Lock()
		scan := s.scan
		executor := s.executor
		cancel := s.cancelTimeout
		handle := s.wsHandle
		s.mu.Unlock()

		if scan != nil {
			scan.Flush()
		}
		if executor != nil {
			if err := executor.Kill(5 * time.Second); err != nil {
				s.log.Warning().Err(err).Log("cleanup: kill executor failed")
			}
			if err := executor.Close(); err != nil {
				s.log.Warning().Err(err).Log("cleanup: close executor failed")
			}
		}
		if cancel != nil {
			cancel()
		}
		if !s.opts.KeepWorkspace && handle != "" {
			if err := s.ws.Destroy(handle); err != nil {
				s.log.Warning().Err(err).Log("cleanup: destroy workspace failed")
			}
		}

		snap := s.Status()
		metrics.TasksEnded.WithLabelValues(snap.State.String()).Inc()
		metrics.TaskRuntime.Observe(snap.Runtime.Seconds())
		s.appendLedger(ledger.KindTaskStateChanged, snap)
		close(s.doneCh)
	})
}

// Done returns a channel closed once the task has finished its terminal
// cleanup.
func (s *Supervisor) Done() <-chan struct{} { return s.doneCh }

// Wait blocks until the task reaches a terminal state and finishes cleanup,
// or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) appendLedger(kind ledger.Kind, payload any) {
	if s.ledg == nil {
		return
	}
	_, err := s.ledg.Append(context.Background(), ledger.Event{
		Kind:        kind,
		TaskID:      s.id,
		ExecutionID: s.execID,
		Payload:     payload,
	})
	if err != nil {
		s.log.Warning().Err(err).Log("ledger append failed")
	}
}
