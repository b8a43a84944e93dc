package hooks

import (
	"regexp"
	"strings"

	"github.com/pfin/nova-mcp/internal/config"
)

// RequestPayload is the payload carried through the request/validate
// phases: a prompt about to become a Task.
type RequestPayload struct {
	Prompt string
}

// StreamPayload is the windowed view over one execution's byte stream
// handed to stream-phase hooks. Handlers may read it and emit synthetic
// events, but per spec may not modify the stream itself.
type StreamPayload struct {
	ExecutionID string
	Window      []byte
}

var approvalPromptPattern = regexp.MustCompile(`(?i)(\bproceed\?|\bcontinue\?|\(y/n\)|\[y/n\])\s*$`)

// NewValidationHandler rejects prompts lacking an allow-listed action verb,
// or matching a deny-listed purely-research phrase.
func NewValidationHandler(cfg *config.Config) Handler {
	return func(payload any) Decision {
		req, ok := payload.(RequestPayload)
		if !ok {
			return Continue()
		}
		lower := strings.ToLower(req.Prompt)
		if strings.TrimSpace(lower) == "" {
			return Veto("empty prompt")
		}
		for _, deny := range cfg.DenyPhrases {
			if strings.Contains(lower, strings.ToLower(deny)) {
				return Veto("prompt matches deny-listed research phrasing: " + deny)
			}
		}
		for _, verb := range cfg.AllowVerbs {
			if strings.Contains(lower, strings.ToLower(verb)) {
				return Continue()
			}
		}
		return Veto("prompt lacks an allow-listed action verb")
	}
}

// NewDecompositionHandler calls decompose on qualifying prompts (decided by
// decompose itself returning ok=false to mean "not qualifying") and, when it
// qualifies, replaces the payload with whatever decompose returns —
// typically an orchestrator.Decomposition, kept as `any` here to avoid a
// hooks -> orchestrator import cycle.
func NewDecompositionHandler(decompose func(prompt string) (result any, qualifies bool)) Handler {
	return func(payload any) Decision {
		req, ok := payload.(RequestPayload)
		if !ok {
			return Continue()
		}
		result, qualifies := decompose(req.Prompt)
		if !qualifies {
			return Continue()
		}
		return Modify(result)
	}
}

// NewMonitorHandler forwards every stream-phase window to sink, which
// typically appends to the Ledger and fans out to subscribed notification
// channels.
func NewMonitorHandler(sink func(StreamPayload)) Handler {
	return func(payload any) Decision {
		sp, ok := payload.(StreamPayload)
		if !ok {
			return Continue()
		}
		sink(sp)
		return Continue()
	}
}

// NewInterventionBridgeHandler forwards every Scanner match (delivered as
// the stream-phase payload's associated matches via onMatch) to the
// Intervention Controller. handleMatch is typically Controller.HandleMatch.
func NewInterventionBridgeHandler(handleMatch func(match any)) Handler {
	return func(payload any) Decision {
		handleMatch(payload)
		return Continue()
	}
}

// NewApprovalHandler detects an in-stream interactive approval prompt from
// the child (a trailing "(y/n)"-style prompt) and auto-injects the
// affirmative response via inject.
func NewApprovalHandler(inject func(response []byte) error) Handler {
	return func(payload any) Decision {
		sp, ok := payload.(StreamPayload)
		if !ok {
			return Continue()
		}
		if approvalPromptPattern.Match(sp.Window) {
			_ = inject([]byte("y"))
		}
		return Continue()
	}
}
