package orchestrator

import (
	"fmt"
	"time"

	"github.com/pfin/nova-mcp/internal/ids"
)

// Unit is one orthogonal subtask of a Decomposition (spec.md §3).
type Unit struct {
	ID              string
	Prompt          string
	ExpectedOutputs []string
	EstDuration     time.Duration
	Dependencies    []string
}

// Decomposition is a parent task split into orthogonal units whose declared
// output sets are pairwise disjoint.
type Decomposition struct {
	ParentTaskID ids.TaskID
	Units        []Unit
}

// Decompose validates units against the orthogonality invariant (spec.md
// §3: "for any two units in the same batch, their declared output sets are
// disjoint") and against the dependency graph being acyclic, and returns
// the Decomposition if both hold.
func Decompose(parentTaskID ids.TaskID, units []Unit) (Decomposition, error) {
	seen := make(map[string]string) // output -> owning unit id
	unitIDs := make(map[string]bool)
	for _, u := range units {
		if u.ID == "" {
			return Decomposition{}, fmt.Errorf("orchestrator: unit missing id")
		}
		if unitIDs[u.ID] {
			return Decomposition{}, fmt.Errorf("orchestrator: duplicate unit id %q", u.ID)
		}
		unitIDs[u.ID] = true
		for _, out := range u.ExpectedOutputs {
			if owner, ok := seen[out]; ok {
				return Decomposition{}, fmt.Errorf("orchestrator: output %q claimed by both %q and %q, violating orthogonality", out, owner, u.ID)
			}
			seen[out] = u.ID
		}
	}
	for _, u := range units {
		for _, dep := range u.Dependencies {
			if !unitIDs[dep] {
				return Decomposition{}, fmt.Errorf("orchestrator: unit %q depends on unknown unit %q", u.ID, dep)
			}
		}
	}
	if _, err := topoOrder(units); err != nil {
		return Decomposition{}, err
	}
	return Decomposition{ParentTaskID: parentTaskID, Units: units}, nil
}
