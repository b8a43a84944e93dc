package hooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/logging"
)

func newTestOrchestrator() *Orchestrator {
	return New(logging.New(nil))
}

func TestRegisterRunsHighestPriorityFirst(t *testing.T) {
	o := newTestOrchestrator()
	var order []string
	o.Register(PhaseRequest, "low", 1, func(payload any) Decision {
		order = append(order, "low")
		return Continue()
	})
	o.Register(PhaseRequest, "high", 10, func(payload any) Decision {
		order = append(order, "high")
		return Continue()
	})

	_, err := o.Run(PhaseRequest, RequestPayload{Prompt: "implement x"})
	require.NoError(t, err)
	require.Equal(t, []string{"high", "low"}, order)
}

func TestRunThreadsModifyThroughHandlers(t *testing.T) {
	o := newTestOrchestrator()
	o.Register(PhaseValidate, "upper", 10, func(payload any) Decision {
		req := payload.(RequestPayload)
		req.Prompt = req.Prompt + "!"
		return Modify(req)
	})
	var seen string
	o.Register(PhaseValidate, "observe", 5, func(payload any) Decision {
		seen = payload.(RequestPayload).Prompt
		return Continue()
	})

	out, err := o.Run(PhaseValidate, RequestPayload{Prompt: "go"})
	require.NoError(t, err)
	require.Equal(t, "go!", seen)
	require.Equal(t, "go!", out.(RequestPayload).Prompt)
}

func TestRunStopsAndReturnsVetoError(t *testing.T) {
	o := newTestOrchestrator()
	called := false
	o.Register(PhaseValidate, "vetoer", 10, func(payload any) Decision {
		return Veto("nope")
	})
	o.Register(PhaseValidate, "never", 5, func(payload any) Decision {
		called = true
		return Continue()
	})

	_, err := o.Run(PhaseValidate, RequestPayload{Prompt: "go"})
	require.Error(t, err)
	var vetoErr *VetoError
	require.ErrorAs(t, err, &vetoErr)
	require.Equal(t, "vetoer", vetoErr.Handler)
	require.False(t, called)
}

func TestStreamHandlerOverBudgetIsCounted(t *testing.T) {
	o := newTestOrchestrator()
	o.budget = time.Millisecond
	o.Register(PhaseStream, "slow", 0, func(payload any) Decision {
		time.Sleep(5 * time.Millisecond)
		return Continue()
	})

	_, err := o.Run(PhaseStream, StreamPayload{})
	require.NoError(t, err)
	require.Equal(t, 1, o.OverBudgetCount("slow"))
}

func TestNonStreamPhaseDoesNotCountBudget(t *testing.T) {
	o := newTestOrchestrator()
	o.budget = time.Millisecond
	o.Register(PhaseComplete, "slow", 0, func(payload any) Decision {
		time.Sleep(5 * time.Millisecond)
		return Continue()
	})

	_, err := o.Run(PhaseComplete, RequestPayload{})
	require.NoError(t, err)
	require.Equal(t, 0, o.OverBudgetCount("slow"))
}

func TestUnregisterRemovesHandler(t *testing.T) {
	o := newTestOrchestrator()
	called := false
	o.Register(PhaseComplete, "observer", 0, func(payload any) Decision {
		called = true
		return Continue()
	})
	o.Unregister(PhaseComplete, "observer")

	_, err := o.Run(PhaseComplete, RequestPayload{})
	require.NoError(t, err)
	require.False(t, called)
}

func TestValidationHandlerRejectsMissingAllowVerb(t *testing.T) {
	h := NewValidationHandler(config.Default())
	d := h(RequestPayload{Prompt: "ponder the universe"})
	require.Equal(t, decisionVeto, d.kind)
}

func TestValidationHandlerRejectsDenyPhrase(t *testing.T) {
	h := NewValidationHandler(config.Default())
	d := h(RequestPayload{Prompt: "let me think about implementing this"})
	require.Equal(t, decisionVeto, d.kind)
}

func TestValidationHandlerAllowsActionVerb(t *testing.T) {
	h := NewValidationHandler(config.Default())
	d := h(RequestPayload{Prompt: "implement the retry loop"})
	require.Equal(t, decisionContinue, d.kind)
}

func TestDecompositionHandlerModifiesOnQualify(t *testing.T) {
	h := NewDecompositionHandler(func(prompt string) (any, bool) {
		return "decomposed:" + prompt, true
	})
	d := h(RequestPayload{Prompt: "a and b"})
	require.Equal(t, decisionModify, d.kind)
	require.Equal(t, "decomposed:a and b", d.payload)
}

func TestDecompositionHandlerContinuesWhenNotQualifying(t *testing.T) {
	h := NewDecompositionHandler(func(prompt string) (any, bool) {
		return nil, false
	})
	d := h(RequestPayload{Prompt: "fix the bug"})
	require.Equal(t, decisionContinue, d.kind)
}

func TestMonitorHandlerForwardsToSink(t *testing.T) {
	var got StreamPayload
	h := NewMonitorHandler(func(sp StreamPayload) { got = sp })
	_ = h(StreamPayload{ExecutionID: "e1", Window: []byte("hi")})
	require.Equal(t, "e1", got.ExecutionID)
}

func TestInterventionBridgeForwardsMatch(t *testing.T) {
	var got any
	h := NewInterventionBridgeHandler(func(match any) { got = match })
	_ = h("some-match")
	require.Equal(t, "some-match", got)
}

func TestApprovalHandlerInjectsOnPrompt(t *testing.T) {
	var injected []byte
	h := NewApprovalHandler(func(response []byte) error {
		injected = response
		return nil
	})
	_ = h(StreamPayload{Window: []byte("Proceed with changes? (y/n)")})
	require.Equal(t, []byte("y"), injected)
}

func TestApprovalHandlerIgnoresNonPrompt(t *testing.T) {
	var injected []byte
	h := NewApprovalHandler(func(response []byte) error {
		injected = response
		return nil
	})
	_ = h(StreamPayload{Window: []byte("still working on it")})
	require.Nil(t, injected)
}
