// Package orchestrator coordinates multiple Task Supervisors: it validates
// caller-supplied orthogonal units (it does not derive units from a prompt
// itself), assigns each its own isolated Workspace,
// schedules them under a bounded worker pool honoring their dependency
// graph, and merges their results back into a parent Workspace.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/hooks"
	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/ledger"
	"github.com/pfin/nova-mcp/internal/logging"
	"github.com/pfin/nova-mcp/internal/metrics"
	"github.com/pfin/nova-mcp/internal/ptyexec"
	"github.com/pfin/nova-mcp/internal/task"
	"github.com/pfin/nova-mcp/internal/workspace"
)

// FailurePolicy decides an orchestration's final state from its units'
// individual outcomes.
type FailurePolicy string

const (
	PolicyAllRequired FailurePolicy = "all_required"
	PolicyBestEffort  FailurePolicy = "best_effort"
)

// Status names an orchestration's aggregate state.
type Status string

const (
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusNeedsResolution Status = "needs_resolution"
	StatusAborted         Status = "aborted"
)

// UnitSnapshot is one unit's state within an orchestration's aggregate
// Status response.
type UnitSnapshot struct {
	Unit     Unit
	TaskID   ids.TaskID
	State    task.State
	Conflict string
}

// Aggregate is returned by Status(orchestration_id).
type Aggregate struct {
	OrchestrationID ids.OrchestrationID
	Status          Status
	Units           []UnitSnapshot
}

type unitRun struct {
	unit       Unit
	supervisor *task.Supervisor
	handle     workspace.Handle
	conflict   string
}

type orchestration struct {
	id           ids.OrchestrationID
	parentHandle workspace.Handle
	policy       FailurePolicy
	units        map[string]*unitRun
	order        []string

	mu     sync.Mutex
	status Status
}

// CommandFactory builds the ptyexec.Options to run for one unit's prompt.
// Supplied by the caller since the orchestrator core has no opinion on
// which binary a unit's prompt should drive.
type CommandFactory func(unit Unit) ptyexec.Options

// Orchestrator owns every orchestration it has been asked to Execute.
type Orchestrator struct {
	cfg  *config.Config
	log  *logging.Logger
	ledg *ledger.Ledger
	hk   *hooks.Orchestrator
	ws   *workspace.Adapter
	cmd  CommandFactory

	mu             sync.Mutex
	orchestrations map[ids.OrchestrationID]*orchestration
}

// New builds an Orchestrator. cmd decides how a unit's prompt becomes a
// runnable command.
func New(cfg *config.Config, log *logging.Logger, ledg *ledger.Ledger, hk *hooks.Orchestrator, ws *workspace.Adapter, cmd CommandFactory) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		log:            log,
		ledg:           ledg,
		hk:             hk,
		ws:             ws,
		cmd:            cmd,
		orchestrations: make(map[ids.OrchestrationID]*orchestration),
	}
}

// Decompose validates the units the caller supplies against the
// orthogonality and dependency-acyclicity invariants. It does not split a
// prompt into units; the caller does that.
func (o *Orchestrator) Decompose(parentTaskID ids.TaskID, units []Unit) (Decomposition, error) {
	return Decompose(parentTaskID, units)
}

// Execute creates one Workspace and one Supervisor per unit and schedules
// them under the configured concurrency cap, honoring each unit's
// dependencies. It returns an orchestration_id immediately; progress is
// tracked asynchronously via Status.
func (o *Orchestrator) Execute(ctx context.Context, d Decomposition, policy FailurePolicy) (ids.OrchestrationID, error) {
	parentHandle, err := o.ws.Create(ctx, o.cfg.WorkspaceBase)
	if err != nil {
		return "", fmt.Errorf("orchestrator: create parent workspace: %w", err)
	}

	orchID := ids.NewOrchestrationID()
	orch := &orchestration{
		id:           orchID,
		parentHandle: parentHandle,
		policy:       policy,
		units:        make(map[string]*unitRun, len(d.Units)),
		status:       StatusRunning,
	}
	for _, u := range d.Units {
		orch.units[u.ID] = &unitRun{unit: u}
		orch.order = append(orch.order, u.ID)
	}

	o.mu.Lock()
	o.orchestrations[orchID] = orch
	o.mu.Unlock()

	sem := semaphore.NewWeighted(int64(o.cfg.MaxParallel))
	metrics.OrchestrationsActive.Inc()
	go func() {
		defer metrics.OrchestrationsActive.Dec()
		_ = runScheduled(context.Background(), d.Units, sem, func(ctx context.Context, u Unit) error {
			return o.runUnit(ctx, orch, u)
		})
		orch.mu.Lock()
		if orch.status == StatusRunning {
			orch.status = o.finalStatus(orch)
		}
		units := make([]*unitRun, 0, len(orch.units))
		for _, run := range orch.units {
			units = append(units, run)
		}
		orch.mu.Unlock()
		for _, run := range units {
			unitStatus := "failed"
			if run.supervisor != nil && run.supervisor.Status().State == task.StateCompleted {
				unitStatus = "completed"
			}
			metrics.UnitsScheduled.WithLabelValues(unitStatus).Inc()
		}
	}()

	return orchID, nil
}

func (o *Orchestrator) runUnit(ctx context.Context, orch *orchestration, u Unit) error {
	handle, err := o.ws.Create(ctx, o.cfg.WorkspaceBase)
	if err != nil {
		o.log.Err().Err(err).Str("unit", u.ID).Log("orchestrator: create unit workspace failed")
		return nil
	}

	cmdOpts := o.cmd(u)
	if cmdOpts.Dir == "" {
		if p, err := o.ws.Path(handle); err == nil {
			cmdOpts.Dir = p
		}
	}

	sup := task.New(o.cfg, o.log, o.ledg, o.hk, o.ws, task.Options{
		Prompt:        u.Prompt,
		ParentTaskID:  d2parent(orch),
		Command:       cmdOpts,
		KeepWorkspace: true,
	})

	orch.mu.Lock()
	run := orch.units[u.ID]
	run.supervisor = sup
	run.handle = handle
	orch.mu.Unlock()

	if err := sup.Spawn(ctx); err != nil {
		o.log.Err().Err(err).Str("unit", u.ID).Log("orchestrator: spawn unit failed")
		return nil
	}
	_ = sup.Wait(ctx)
	return nil
}

func d2parent(orch *orchestration) ids.TaskID {
	return ids.TaskID("orchestration:" + string(orch.id))
}

func (o *Orchestrator) finalStatus(orch *orchestration) Status {
	anySucceeded := false
	anyFailed := false
	for _, run := range orch.units {
		if run.supervisor == nil {
			anyFailed = true
			continue
		}
		switch run.supervisor.Status().State {
		case task.StateCompleted:
			anySucceeded = true
		default:
			anyFailed = true
		}
	}
	if !anyFailed {
		return StatusCompleted
	}
	if orch.policy == PolicyBestEffort && anySucceeded {
		return StatusCompleted
	}
	return StatusFailed
}

// Status aggregates per-unit states for orchestration_id.
func (o *Orchestrator) Status(orchID ids.OrchestrationID) (Aggregate, error) {
	o.mu.Lock()
	orch, ok := o.orchestrations[orchID]
	o.mu.Unlock()
	if !ok {
		return Aggregate{}, fmt.Errorf("orchestrator: unknown orchestration %s", orchID)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()

	agg := Aggregate{OrchestrationID: orchID, Status: orch.status}
	for _, id := range orch.order {
		run := orch.units[id]
		snap := UnitSnapshot{Unit: run.unit, Conflict: run.conflict}
		if run.supervisor != nil {
			st := run.supervisor.Status()
			snap.TaskID = st.TaskID
			snap.State = st.State
		}
		agg.Units = append(agg.Units, snap)
	}
	return agg, nil
}

// Merge commits every successfully completed unit's workspace and merges it
// into the parent workspace. Non-conflicting merges (guaranteed by
// orthogonality) are automatic; a conflict moves the orchestration to
// NeedsResolution with a diagnostic payload rather than resolving it.
func (o *Orchestrator) Merge(ctx context.Context, orchID ids.OrchestrationID) error {
	o.mu.Lock()
	orch, ok := o.orchestrations[orchID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown orchestration %s", orchID)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()

	for _, id := range orch.order {
		run := orch.units[id]
		if run.supervisor == nil || run.supervisor.Status().State != task.StateCompleted {
			continue
		}
		if _, err := o.ws.Commit(ctx, run.handle, "unit "+run.unit.ID+" completed"); err != nil {
			return fmt.Errorf("orchestrator: commit unit %s: %w", run.unit.ID, err)
		}
		if err := o.ws.Merge(ctx, orch.parentHandle, run.handle); err != nil {
			if conflictErr, ok := err.(*workspace.ConflictError); ok {
				run.conflict = conflictErr.Detail
				orch.status = StatusNeedsResolution
				continue
			}
			return fmt.Errorf("orchestrator: merge unit %s: %w", run.unit.ID, err)
		}
	}
	if orch.status != StatusNeedsResolution {
		orch.status = o.finalStatus(orch)
	}
	return nil
}

// Abort interrupts every running unit with a shared reason and triggers
// cleanup, regardless of the unit's individual state.
func (o *Orchestrator) Abort(ctx context.Context, orchID ids.OrchestrationID, reason string) error {
	o.mu.Lock()
	orch, ok := o.orchestrations[orchID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown orchestration %s", orchID)
	}

	orch.mu.Lock()
	orch.status = StatusAborted
	runs := make([]*unitRun, 0, len(orch.units))
	for _, run := range orch.units {
		runs = append(runs, run)
	}
	orch.mu.Unlock()

	for _, run := range runs {
		if run.supervisor == nil {
			continue
		}
		if err := run.supervisor.Interrupt([]byte(reason)); err != nil {
			o.log.Warning().Err(err).Str("unit", run.unit.ID).Log("orchestrator: abort interrupt failed")
		}
	}
	return nil
}
