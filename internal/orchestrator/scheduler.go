package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// topoOrder returns units in a valid topological order (Kahn's algorithm),
// or an error if the dependency graph has a cycle. Only used to validate
// the graph up front; actual scheduling is dependency-gated at run time
// rather than batched by this order, since a unit becomes ready as soon as
// its own dependencies finish, not in lockstep with a global level.
func topoOrder(units []Unit) ([]Unit, error) {
	byID := make(map[string]Unit, len(units))
	inDegree := make(map[string]int, len(units))
	for _, u := range units {
		byID[u.ID] = u
		if _, ok := inDegree[u.ID]; !ok {
			inDegree[u.ID] = 0
		}
	}
	dependents := make(map[string][]string)
	for _, u := range units {
		for _, dep := range u.Dependencies {
			dependents[dep] = append(dependents[dep], u.ID)
			inDegree[u.ID]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var ordered []Unit
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(units) {
		return nil, fmt.Errorf("orchestrator: dependency graph has a cycle")
	}
	return ordered, nil
}

// runScheduled runs one goroutine per unit under a worker pool bounded by
// sem, gating each unit's start on its declared dependencies having
// finished. run is invoked with the unit once it is ready to execute; the
// first error any run returns is returned by the errgroup's Wait and cancels
// the context shared by the remaining units. A caller that wants per-unit
// outcomes records them inside run and returns nil.
func runScheduled(ctx context.Context, units []Unit, sem *semaphore.Weighted, run func(ctx context.Context, u Unit) error) error {
	done := make(map[string]chan struct{}, len(units))
	for _, u := range units {
		done[u.ID] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		u := u
		g.Go(func() error {
			defer close(done[u.ID])
			for _, dep := range u.Dependencies {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return run(gctx, u)
		})
	}
	return g.Wait()
}
