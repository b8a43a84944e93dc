package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Info().Str("hello", "world").Log("greeting")

	out := buf.String()
	require.Contains(t, out, `"hello":"world"`)
	require.Contains(t, out, `"msg":"greeting"`)
}

func TestNewDefaultsToStderrWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		l := New(nil)
		require.NotNil(t, l)
	})
}

func TestTaskAndExecutionAttachFields(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf)
	taskLogger := Task(root, "task-1")
	execLogger := Execution(taskLogger, "exec-1")

	execLogger.Info().Log("running")

	out := buf.String()
	require.True(t, strings.Contains(out, `"task_id":"task-1"`))
	require.True(t, strings.Contains(out, `"execution_id":"exec-1"`))
}

func TestWithGoroutineTagAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	WithGoroutineTag(l.Info()).Log("tagged")

	require.Contains(t, buf.String(), `"goroutine_id":`)
}
