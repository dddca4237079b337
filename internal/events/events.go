// Package events defines the progress event protocol emitted by the agent
// runtime and the broadcast bus observers subscribe to.
package events

import "time"

// Type identifies an event variant. The set is closed; observers switch on
// it and ignore variants they do not render.
type Type string

const (
	// TypeIterationStart marks the beginning of a loop iteration, before the
	// completion request is issued.
	TypeIterationStart Type = "iteration_start"

	// TypeThinkingDelta carries an incremental reasoning fragment streamed
	// from the provider.
	TypeThinkingDelta Type = "thinking_delta"

	// TypeToolStart is emitted immediately before a tool executes.
	TypeToolStart Type = "tool_start"

	// TypeToolComplete is emitted after a tool finishes, success or not.
	TypeToolComplete Type = "tool_complete"

	// TypeUsageUpdate reports provider token consumption for one completion.
	TypeUsageUpdate Type = "usage_update"

	// TypeByteCount reports cumulative request/response byte totals for the
	// whole run.
	TypeByteCount Type = "byte_count"

	// TypeRetry reports a provider retry attempt and its cause.
	TypeRetry Type = "retry"

	// TypeContinuationStarted marks a fresh iteration budget after forced
	// compaction.
	TypeContinuationStarted Type = "continuation_started"

	// TypeObservationComplete reports a finished compaction pass.
	TypeObservationComplete Type = "observation_complete"

	// TypeUserNotification carries a human-readable status line.
	TypeUserNotification Type = "user_notification"

	// TypeAssistantText carries raw assistant output. It is written only to
	// the debug log sink and never fanned out to bus subscribers.
	TypeAssistantText Type = "assistant_text"
)

// Event is an immutable progress snapshot. Only the fields relevant to the
// Type are populated; the rest stay zero.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`

	Agent     string `json:"agent,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	MaxTurns  int    `json:"max_turns,omitempty"`

	// Text is the delta for ThinkingDelta/AssistantText and the message for
	// UserNotification.
	Text string `json:"text,omitempty"`

	Tool       string `json:"tool,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	InputBytes  int64 `json:"input_bytes,omitempty"`
	OutputBytes int64 `json:"output_bytes,omitempty"`

	Attempt int    `json:"attempt,omitempty"`
	Cause   string `json:"cause,omitempty"`

	// Continuation is the 1-based continuation ordinal.
	Continuation int `json:"continuation,omitempty"`

	// SummaryBytes and Observation describe a completed compaction pass.
	SummaryBytes int `json:"summary_bytes,omitempty"`
	Observation  int `json:"observation,omitempty"`
}

// IterationStart builds an iteration_start event.
func IterationStart(agent string, iteration, maxTurns int) Event {
	return Event{Type: TypeIterationStart, Time: time.Now(), Agent: agent, Iteration: iteration, MaxTurns: maxTurns}
}

// ThinkingDelta builds a thinking_delta event.
func ThinkingDelta(agent, text string) Event {
	return Event{Type: TypeThinkingDelta, Time: time.Now(), Agent: agent, Text: text}
}

// ToolStart builds a tool_start event.
func ToolStart(agent, tool, callID string) Event {
	return Event{Type: TypeToolStart, Time: time.Now(), Agent: agent, Tool: tool, ToolCallID: callID}
}

// ToolComplete builds a tool_complete event.
func ToolComplete(agent, tool, callID string, isError bool) Event {
	return Event{Type: TypeToolComplete, Time: time.Now(), Agent: agent, Tool: tool, ToolCallID: callID, IsError: isError}
}

// UsageUpdate builds a usage_update event.
func UsageUpdate(agent string, inputTokens, outputTokens int) Event {
	return Event{Type: TypeUsageUpdate, Time: time.Now(), Agent: agent, InputTokens: inputTokens, OutputTokens: outputTokens}
}

// ByteCount builds a byte_count event with cumulative totals.
func ByteCount(agent string, inputBytes, outputBytes int64) Event {
	return Event{Type: TypeByteCount, Time: time.Now(), Agent: agent, InputBytes: inputBytes, OutputBytes: outputBytes}
}

// Retry builds a retry event.
func Retry(agent string, attempt int, cause error) Event {
	e := Event{Type: TypeRetry, Time: time.Now(), Agent: agent, Attempt: attempt}
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e
}

// ContinuationStarted builds a continuation_started event.
func ContinuationStarted(agent string, continuation int) Event {
	return Event{Type: TypeContinuationStarted, Time: time.Now(), Agent: agent, Continuation: continuation}
}

// ObservationComplete builds an observation_complete event.
func ObservationComplete(agent string, summaryBytes, observation int) Event {
	return Event{Type: TypeObservationComplete, Time: time.Now(), Agent: agent, SummaryBytes: summaryBytes, Observation: observation}
}

// UserNotification builds a user_notification event.
func UserNotification(agent, text string) Event {
	return Event{Type: TypeUserNotification, Time: time.Now(), Agent: agent, Text: text}
}

// AssistantText builds an assistant_text event. The bus refuses to fan these
// out; they exist for the debug log only.
func AssistantText(agent, text string) Event {
	return Event{Type: TypeAssistantText, Time: time.Now(), Agent: agent, Text: text}
}
