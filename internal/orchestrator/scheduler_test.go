package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestTopoOrderRespectsDependencies(t *testing.T) {
	units := []Unit{
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "a"},
	}
	ordered, err := topoOrder(units)
	require.NoError(t, err)
	pos := make(map[string]int, len(ordered))
	for i, u := range ordered {
		pos[u.ID] = i
	}
	require.Less(t, pos["a"], pos["b"])
	require.Less(t, pos["b"], pos["c"])
}

func TestTopoOrderDetectsCycle(t *testing.T) {
	units := []Unit{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	_, err := topoOrder(units)
	require.Error(t, err)
}

func TestRunScheduledRunsDependentAfterDependency(t *testing.T) {
	units := []Unit{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}
	var mu sync.Mutex
	var order []string
	sem := semaphore.NewWeighted(2)
	err := runScheduled(context.Background(), units, sem, func(ctx context.Context, u Unit) error {
		mu.Lock()
		order = append(order, u.ID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestRunScheduledBoundsConcurrencyToSemaphoreWeight(t *testing.T) {
	units := []Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	sem := semaphore.NewWeighted(1)
	err := runScheduled(context.Background(), units, sem, func(ctx context.Context, u Unit) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, maxInFlight, 1)
}
