package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTasksStartedIncrements(t *testing.T) {
	before := testutil.ToFloat64(TasksStarted)
	TasksStarted.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(TasksStarted))
}

func TestTimerObservesNonNegativeDuration(t *testing.T) {
	timer := NewTimer()
	timer.ObserveDuration(TaskRuntime)
}

func TestHandlerReturnsNonNilHTTPHandler(t *testing.T) {
	require.NotNil(t, Handler())
}
