// Package hooks implements the typed, priority-ordered event pipeline that
// wraps every lifecycle transition: request, validate, execute, stream,
// complete, error.
package hooks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pfin/nova-mcp/internal/logging"
)

// Phase names one stage of the pipeline.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseValidate Phase = "validate"
	PhaseExecute  Phase = "execute"
	PhaseStream   Phase = "stream"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// DefaultHandlerBudget is the default time budget a handler gets per
// invocation before it is logged and counted as over-budget.
const DefaultHandlerBudget = 50 * time.Millisecond

// Decision is the typed outcome of one handler invocation.
type Decision struct {
	kind    decisionKind
	payload any
	reason  string
}

type decisionKind int

const (
	decisionContinue decisionKind = iota
	decisionModify
	decisionVeto
)

// Continue signals the handler observed the payload and made no change.
func Continue() Decision { return Decision{kind: decisionContinue} }

// Modify replaces the payload seen by subsequent handlers in the same
// phase.
func Modify(payload any) Decision { return Decision{kind: decisionModify, payload: payload} }

// Veto aborts the phase and the surrounding operation with reason.
func Veto(reason string) Decision { return Decision{kind: decisionVeto, reason: reason} }

// VetoError is returned by Run when a handler vetoes a phase.
type VetoError struct {
	Phase   Phase
	Handler string
	Reason  string
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("hooks: %s vetoed in phase %s: %s", e.Handler, e.Phase, e.Reason)
}

// Handler processes one phase's payload.
type Handler func(payload any) Decision

type registration struct {
	name     string
	priority int
	order    int
	handler  Handler
}

// Orchestrator is the typed hook pipeline. One instance is shared across a
// process; hooks are typically registered once at startup.
type Orchestrator struct {
	log *logging.Logger

	mu           sync.RWMutex
	byPhase      map[Phase][]registration
	registered   int
	budget       time.Duration
	overBudget   map[string]int
	overBudgetMu sync.Mutex
}

// New builds an Orchestrator with the default 50ms handler budget.
func New(log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		log:        log,
		byPhase:    make(map[Phase][]registration),
		budget:     DefaultHandlerBudget,
		overBudget: make(map[string]int),
	}
}

// Register adds handler to phase at priority (higher runs first); ties
// break by registration order, preserving determinism for a fixed
// registration set and input sequence.
func (o *Orchestrator) Register(phase Phase, name string, priority int, handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered++
	regs := append(o.byPhase[phase], registration{name: name, priority: priority, order: o.registered, handler: handler})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].order < regs[j].order
	})
	o.byPhase[phase] = regs
}

// Run executes every handler registered for phase, in priority order,
// threading Modify decisions through to later handlers and returning the
// final payload, or a *VetoError if any handler vetoes.
func (o *Orchestrator) Run(phase Phase, payload any) (any, error) {
	o.mu.RLock()
	regs := append([]registration(nil), o.byPhase[phase]...)
	budget := o.budget
	o.mu.RUnlock()

	for _, r := range regs {
		start := time.Now()
		decision := r.handler(payload)
		if elapsed := time.Since(start); elapsed > budget && phase == PhaseStream {
			o.recordOverBudget(r.name)
			o.log.Warning().Str("handler", r.name).Dur("elapsed", elapsed).Log("hook exceeded stream budget")
		}

		switch decision.kind {
		case decisionModify:
			payload = decision.payload
		case decisionVeto:
			return nil, &VetoError{Phase: phase, Handler: r.name, Reason: decision.reason}
		}
	}
	return payload, nil
}

// Unregister removes every handler named name from phase. Safe to call even
// if name was never registered.
func (o *Orchestrator) Unregister(phase Phase, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	regs := o.byPhase[phase]
	out := regs[:0]
	for _, r := range regs {
		if r.name != name {
			out = append(out, r)
		}
	}
	o.byPhase[phase] = out
}

func (o *Orchestrator) recordOverBudget(name string) {
	o.overBudgetMu.Lock()
	defer o.overBudgetMu.Unlock()
	o.overBudget[name]++
}

// OverBudgetCount reports how many times name has exceeded its stream
// budget.
func (o *Orchestrator) OverBudgetCount(name string) int {
	o.overBudgetMu.Lock()
	defer o.overBudgetMu.Unlock()
	return o.overBudget[name]
}
