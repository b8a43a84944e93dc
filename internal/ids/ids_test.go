package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUniqueAndNonEmpty(t *testing.T) {
	a := NewTaskID()
	b := NewTaskID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)

	require.NotEmpty(t, NewExecutionID())
	require.NotEmpty(t, NewOrchestrationID())
	require.NotEmpty(t, NewWorkspaceID())
}
