// Package host is the thin request/response adapter spec.md §4.8 calls the
// Host interface: it exposes spawn/send/interrupt/status/output/decompose
// /execute/merge/abort over the Task Supervisor and Orchestrator, plus a
// notification channel streaming selected Ledger events. The outer
// request/response protocol that turns these into host tool calls is out
// of scope; this package is the seam it would be built against.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/hooks"
	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/ledger"
	"github.com/pfin/nova-mcp/internal/logging"
	"github.com/pfin/nova-mcp/internal/orchestrator"
	"github.com/pfin/nova-mcp/internal/ptyexec"
	"github.com/pfin/nova-mcp/internal/task"
	"github.com/pfin/nova-mcp/internal/workspace"
)

// notifiedKinds is the set of Ledger event kinds the notification channel
// forwards (spec.md §6 "Notification channel").
var notifiedKinds = map[ledger.Kind]bool{
	ledger.KindExecutionStarted:      true,
	ledger.KindScannerMatch:          true,
	ledger.KindInterventionApplied:   true,
	ledger.KindTaskStateChanged:      true,
	ledger.KindOrchestrationEvent:    true,
	ledger.KindExecutionUnproductive: true,
}

// NotFoundError is returned when an operation references an unknown
// task_id or orchestration_id.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("host: unknown id %q", e.ID) }

// CommandFactory builds the ptyexec.Options to run for a spawned prompt.
type CommandFactory func(prompt string) ptyexec.Options

// Host is the process-wide facade over every live Task and Orchestration.
type Host struct {
	cfg  *config.Config
	log  *logging.Logger
	ledg *ledger.Ledger
	hk   *hooks.Orchestrator
	ws   *workspace.Adapter
	orch *orchestrator.Orchestrator
	cmd  CommandFactory

	mu    sync.Mutex
	tasks map[ids.TaskID]*task.Supervisor
}

// New builds a Host wired to the given shared components.
func New(cfg *config.Config, log *logging.Logger, ledg *ledger.Ledger, hk *hooks.Orchestrator, ws *workspace.Adapter, cmd CommandFactory) *Host {
	return &Host{
		cfg:   cfg,
		log:   log,
		ledg:  ledg,
		hk:    hk,
		ws:    ws,
		cmd:   cmd,
		orch:  orchestrator.New(cfg, log, ledg, hk, ws, func(u orchestrator.Unit) ptyexec.Options { return cmd(u.Prompt) }),
		tasks: make(map[ids.TaskID]*task.Supervisor),
	}
}

// Spawn validates prompt through the request/validate hook phases and, if
// accepted, starts a new Task. Returns before the child is necessarily
// ready; subsequent progress streams via Notifications.
func (h *Host) Spawn(ctx context.Context, prompt string) (ids.TaskID, task.State, error) {
	if h.hk != nil {
		if _, err := h.hk.Run(hooks.PhaseRequest, hooks.RequestPayload{Prompt: prompt}); err != nil {
			return "", task.StateFailed, err
		}
		if _, err := h.hk.Run(hooks.PhaseValidate, hooks.RequestPayload{Prompt: prompt}); err != nil {
			return "", task.StateFailed, err
		}
	}

	sup := task.New(h.cfg, h.log, h.ledg, h.hk, h.ws, task.Options{
		Prompt:  prompt,
		Command: h.cmd(prompt),
	})

	h.mu.Lock()
	h.tasks[sup.ID()] = sup
	h.mu.Unlock()

	if err := sup.Spawn(ctx); err != nil {
		return sup.ID(), task.StateFailed, err
	}
	return sup.ID(), sup.Status().State, nil
}

func (h *Host) lookup(taskID ids.TaskID) (*task.Supervisor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sup, ok := h.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: string(taskID)}
	}
	return sup, nil
}

// Send appends bytes to task_id's child input.
func (h *Host) Send(taskID ids.TaskID, b []byte) error {
	sup, err := h.lookup(taskID)
	if err != nil {
		return err
	}
	return sup.Send(b)
}

// Interrupt invokes the Executor's interrupt, optionally injecting
// follow-up input.
func (h *Host) Interrupt(taskID ids.TaskID, followUp []byte) error {
	sup, err := h.lookup(taskID)
	if err != nil {
		return err
	}
	return sup.Interrupt(followUp)
}

// Status returns one task's snapshot, or every known task's snapshot if
// taskID is empty.
func (h *Host) Status(taskID ids.TaskID) ([]task.Snapshot, error) {
	if taskID != "" {
		sup, err := h.lookup(taskID)
		if err != nil {
			return nil, err
		}
		return []task.Snapshot{sup.Status()}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]task.Snapshot, 0, len(h.tasks))
	for _, sup := range h.tasks {
		out = append(out, sup.Status())
	}
	return out, nil
}

// Output returns task_id's accumulated output, optionally only the last
// tail lines.
func (h *Host) Output(taskID ids.TaskID, tail int) ([]byte, error) {
	sup, err := h.lookup(taskID)
	if err != nil {
		return nil, err
	}
	return sup.Output(tail), nil
}

// Decompose validates caller-supplied units as an orthogonal decomposition,
// enforcing disjoint expected_outputs. It does not split a prompt into units.
func (h *Host) Decompose(parentTaskID ids.TaskID, units []orchestrator.Unit) (orchestrator.Decomposition, error) {
	return h.orch.Decompose(parentTaskID, units)
}

// Execute spawns the batch described by d under the concurrency cap.
func (h *Host) Execute(ctx context.Context, d orchestrator.Decomposition, policy orchestrator.FailurePolicy) (ids.OrchestrationID, error) {
	return h.orch.Execute(ctx, d, policy)
}

// Merge commits and merges every completed unit of orchestration_id into
// its parent workspace.
func (h *Host) Merge(ctx context.Context, orchID ids.OrchestrationID) error {
	return h.orch.Merge(ctx, orchID)
}

// AbortTask interrupts a single task with reason and lets its own timeout
// path drive cleanup.
func (h *Host) AbortTask(taskID ids.TaskID, reason string) error {
	sup, err := h.lookup(taskID)
	if err != nil {
		return err
	}
	return sup.Interrupt([]byte(reason))
}

// AbortOrchestration interrupts every unit of orchestration_id with a
// shared reason.
func (h *Host) AbortOrchestration(ctx context.Context, orchID ids.OrchestrationID, reason string) error {
	return h.orch.Abort(ctx, orchID, reason)
}

// OrchestrationStatus aggregates per-unit states for orchestration_id.
func (h *Host) OrchestrationStatus(orchID ids.OrchestrationID) (orchestrator.Aggregate, error) {
	return h.orch.Status(orchID)
}

// Notifications returns a channel of selected Ledger events (TaskStarted,
// Match, InterventionApplied, TaskEnded, OrchestrationProgress) in seq
// order, plus an unsubscribe function.
func (h *Host) Notifications() (<-chan ledger.Event, func()) {
	raw, unsubscribe := h.ledg.Subscribe()
	filtered := make(chan ledger.Event, 256)
	go func() {
		defer close(filtered)
		for evt := range raw {
			if !notifiedKinds[evt.Kind] {
				continue
			}
			select {
			case filtered <- evt:
			default:
			}
		}
	}()
	return filtered, unsubscribe
}
