package ledger

import (
	"time"

	"github.com/pfin/nova-mcp/internal/ids"
)

// Kind enumerates the lifecycle event types the ledger carries. Names match
// the spec's event vocabulary (ExecutionExited, InterventionApplied, etc.)
// verbatim so log/ledger entries read the same as the design document.
type Kind string

const (
	KindExecutionStarted     Kind = "ExecutionStarted"
	KindExecutionExited      Kind = "ExecutionExited"
	KindExecutionIOError     Kind = "ExecutionIOError"
	KindExecutionUnproductive Kind = "ExecutionUnproductive"
	KindWriterStalled        Kind = "WriterStalled"
	KindScannerMatch         Kind = "ScannerMatch"
	KindInterventionApplied  Kind = "InterventionApplied"
	KindTaskStateChanged     Kind = "TaskStateChanged"
	KindOrchestrationEvent   Kind = "OrchestrationEvent"
)

// Event is one durable, ordered, append-only ledger entry.
type Event struct {
	Seq         uint64          `json:"seq"`
	Kind        Kind            `json:"kind"`
	TaskID      ids.TaskID      `json:"task_id,omitempty"`
	ExecutionID ids.ExecutionID `json:"execution_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     any             `json:"payload,omitempty"`
}
