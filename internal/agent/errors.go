package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the agent runtime.
var (
	// ErrToolNotFound indicates the model called a tool the agent does not
	// declare.
	ErrToolNotFound = errors.New("agent: tool not found")

	// ErrToolCallLimit indicates a per-tool invocation ceiling was hit.
	ErrToolCallLimit = errors.New("agent: tool call limit exceeded")

	// ErrApprovalDenied indicates a human denied a gated tool call.
	ErrApprovalDenied = errors.New("agent: approval denied")

	// ErrApprovalAbandoned indicates the approval request was dropped before
	// a decision arrived (cancellation or gate shutdown).
	ErrApprovalAbandoned = errors.New("agent: approval request abandoned")

	// ErrReadOnlyAgent indicates a read-only agent attempted a tool with a
	// write effect.
	ErrReadOnlyAgent = errors.New("agent: read-only agent cannot use write tools")

	// ErrNoProvider indicates the loop was constructed without a provider.
	ErrNoProvider = errors.New("agent: no provider configured")

	// ErrInvalidArguments indicates tool input failed schema validation.
	ErrInvalidArguments = errors.New("agent: invalid tool arguments")
)

// LoopPhase identifies where in the loop's lifecycle an error occurred.
type LoopPhase string

const (
	PhaseInit       LoopPhase = "init"
	PhaseCompletion LoopPhase = "completion"
	PhaseCompaction LoopPhase = "compaction"
)

// LoopError wraps a fatal run error with enough context to diagnose without
// replaying the conversation.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop failed in %s phase (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// ToolError describes a tool-local failure. These are always recovered into
// an error-tagged tool result and never abort the loop.
type ToolError struct {
	Tool    string
	CallID  string
	Kind    error // one of the sentinels above, or nil for execution failures
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	return fmt.Sprintf("tool %q (call %s): %s", e.Tool, e.CallID, msg)
}

func (e *ToolError) Unwrap() error {
	if e.Kind != nil {
		return e.Kind
	}
	return e.Cause
}

// CompactionOp names the compactor operation that failed.
type CompactionOp string

const (
	OpObserve CompactionOp = "observe"
	OpReflect CompactionOp = "reflect"
)

// CompactionError is fatal: the run cannot continue without a valid summary.
type CompactionError struct {
	Op    CompactionOp
	Cause error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction %s failed: %v", e.Op, e.Cause)
}

func (e *CompactionError) Unwrap() error { return e.Cause }
