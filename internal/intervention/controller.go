// Package intervention converts Pattern Scanner matches into decisions and
// side effects on the PTY Executor: escalating nudges when a child stalls,
// backing off once it shows progress.
package intervention

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/logging"
	"github.com/pfin/nova-mcp/internal/scanner"
)

// EvidenceFunc is the verification callback plugged in by the Supervisor,
// used by the false-completion family in place of a plain progress-signal
// check: it decides whether the claimed completion actually has evidence.
type EvidenceFunc func() bool

// Executor is the subset of ptyexec.Executor the Controller drives.
type Executor interface {
	Interrupt() error
	Write([]byte) error
}

// Applied is emitted every time the Controller injects an intervention.
type Applied struct {
	ExecutionID ids.ExecutionID
	Family      scanner.Family
	Stage       Stage
	Cause       string
	Message     string
}

// Unproductive is emitted when forceful escalation still did not yield
// success within T2; the Supervisor's policy decides kill vs. re-prompt.
type Unproductive struct {
	ExecutionID ids.ExecutionID
	Family      scanner.Family
}

var familyLabels = map[scanner.Family]string{
	scanner.FamilyPlanningStall:     "planning",
	scanner.FamilyResearchLoop:      "researching",
	scanner.FamilyEmptyTODO:         "leaving TODOs unimplemented",
	scanner.FamilyAnalysisParalysis: "enumerating options",
	scanner.FamilyFalseCompletion:   "claiming completion without evidence",
}

type familyState struct {
	stage           Stage
	interventionAt  time.Time
	timer           *time.Timer
	escalationReady bool
}

// Controller tracks intervention state for one execution.
type Controller struct {
	executionID  ids.ExecutionID
	timeouts     config.StageTimeouts
	globalSpacer *catrate.Limiter
	executor     Executor
	evidence     EvidenceFunc
	log          *logging.Logger

	mu              sync.Mutex
	families        map[scanner.Family]*familyState
	lastProgressAt  time.Time
	onApplied       func(Applied)
	onUnproductive  func(Unproductive)
	queuedDecisions int
}

// New builds a Controller for one execution. executor drives the actual
// interrupt/write calls; evidence (optional, may be nil) backs the
// false-completion family's success check — a nil evidence falls back to the
// same progress-signal check the other families use.
func New(executionID ids.ExecutionID, timeouts config.StageTimeouts, executor Executor, evidence EvidenceFunc, log *logging.Logger) *Controller {
	return &Controller{
		executionID:  executionID,
		timeouts:     timeouts,
		globalSpacer: catrate.NewLimiter(map[time.Duration]int{timeouts.GlobalSpacing: 1}),
		executor:     executor,
		evidence:     evidence,
		log:          log,
		families:     make(map[scanner.Family]*familyState),
	}
}

// OnApplied registers the consumer for InterventionApplied events.
func (c *Controller) OnApplied(fn func(Applied)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onApplied = fn
}

// OnUnproductive registers the consumer for ExecutionUnproductive events.
func (c *Controller) OnUnproductive(fn func(Unproductive)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnproductive = fn
}

// HandleMatch is the intervention bridge: it receives every non-suppressed
// Scanner match and decides whether to act.
func (c *Controller) HandleMatch(m scanner.Match) {
	if m.Suppressed {
		return
	}

	if m.Action == scanner.ActionTrack {
		c.recordProgress()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyOrQueue(m)
}

// stageTimeout returns how long the current stage is given to yield a
// progress signal before evaluateSuccess marks it failed and escalation to
// the next stage becomes eligible (spec.md §4.3 step 3: gentle escalates to
// firm after failing to progress within T1/GentleToFirm, firm to forceful
// after T2/FirmToForceful; forceful's window to going unproductive is
// ForcefulToDead).
func (c *Controller) stageTimeout(s Stage) time.Duration {
	switch s {
	case StageGentle:
		return c.timeouts.GentleToFirm
	case StageFirm:
		return c.timeouts.FirmToForceful
	default:
		return c.timeouts.ForcefulToDead
	}
}

// applyOrQueue enforces the minimum global spacing between interventions
// (spec.md §4.3 step 2: "If violated, queue the decision"). A denied match
// is retried once after the spacing window instead of being dropped; if it
// loses the race to a newer intervention it is simply re-queued again.
//
// A family only escalates past its current stage once that stage has
// already failed to yield a progress signal within its timeout (gentle
// evaluateSuccess has marked escalationReady) and that timeout has actually
// elapsed since the stage's last intervention. A repeated match that
// arrives before either condition holds re-fires nothing: it is the
// escalation timer, not match frequency, that drives the stage clock.
// c.mu must be held by the caller.
func (c *Controller) applyOrQueue(m scanner.Match) {
	if _, allowed := c.globalSpacer.Allow("global"); !allowed {
		c.queuedDecisions++
		time.AfterFunc(c.timeouts.GlobalSpacing, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.queuedDecisions--
			c.applyOrQueue(m)
		})
		return
	}

	fs := c.families[m.Family]
	if fs == nil {
		fs = &familyState{stage: StageNone}
		c.families[m.Family] = fs
	}

	switch {
	case fs.stage == StageNone:
		fs.stage = StageGentle
	case fs.escalationReady && time.Since(fs.interventionAt) >= c.stageTimeout(fs.stage):
		fs.stage = fs.stage.next()
		fs.escalationReady = false
	default:
		return
	}
	fs.interventionAt = time.Now()

	label := familyLabels[m.Family]
	msg := composeMessage(label, fs.stage.String())

	if err := c.executor.Interrupt(); err != nil {
		c.log.Err().Err(err).Log("intervention: interrupt failed")
	}
	if err := c.executor.Write([]byte(msg)); err != nil {
		c.log.Err().Err(err).Log("intervention: write failed")
	}

	if c.onApplied != nil {
		c.onApplied(Applied{
			ExecutionID: c.executionID,
			Family:      m.Family,
			Stage:       fs.stage,
			Cause:       m.RuleID,
			Message:     msg,
		})
	}

	c.scheduleSuccessCheck(m.Family, fs)
}

// recordProgress marks the evidence window: a progress signal resets
// success checks that are waiting to see forward motion.
func (c *Controller) recordProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastProgressAt = time.Now()
}

// scheduleSuccessCheck arranges for success/escalation to be evaluated once
// the current stage's timeout elapses after the intervention that just
// fired.
func (c *Controller) scheduleSuccessCheck(family scanner.Family, fs *familyState) {
	if fs.timer != nil {
		fs.timer.Stop()
	}
	interventionAt := fs.interventionAt
	stage := fs.stage
	fs.timer = time.AfterFunc(c.stageTimeout(stage), func() {
		c.evaluateSuccess(family, interventionAt, stage)
	})
}

func (c *Controller) evaluateSuccess(family scanner.Family, interventionAt time.Time, stage Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs := c.families[family]
	if fs == nil || fs.stage != stage {
		return // superseded by a later intervention
	}

	var succeeded bool
	if family == scanner.FamilyFalseCompletion && c.evidence != nil {
		succeeded = c.evidence()
	} else {
		succeeded = c.lastProgressAt.After(interventionAt)
	}

	if succeeded {
		fs.stage = StageNone
		return
	}

	if stage >= StageForceful {
		if c.onUnproductive != nil {
			c.onUnproductive(Unproductive{ExecutionID: c.executionID, Family: family})
		}
		return
	}
	// The stage has failed to yield progress within its timeout. The next
	// match for this family is now eligible to escalate (applyOrQueue
	// checks escalationReady and the elapsed time together).
	fs.escalationReady = true
}
