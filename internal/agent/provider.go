package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/droverhq/drover/pkg/models"
)

// Provider is the language-model backend capability. Implementations stream
// the response as CompletionChunk values on the returned channel and close it
// when the response (or an error) is complete.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic".
	Name() string

	// Complete issues one completion request. The returned channel yields
	// text/thinking deltas and assembled tool calls, then a final chunk with
	// Done set. Errors surface as a chunk with Error set followed by close.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// CompletionRequest is a provider-agnostic completion request.
type CompletionRequest struct {
	Model     string           `json:"model,omitempty"`
	System    string           `json:"system,omitempty"`
	Messages  []models.Message `json:"messages"`
	Tools     []ToolSchema     `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// ToolSchema is the declaration sent to the provider for one tool.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionChunk is one unit of a streamed response.
type CompletionChunk struct {
	// Text is an incremental content delta.
	Text string

	// Thinking is an incremental reasoning delta.
	Thinking string

	// ToolCall is a fully assembled tool call (providers buffer partial
	// argument JSON and emit the call once complete).
	ToolCall *models.ToolCall

	// Done marks the final chunk. InputTokens/OutputTokens are populated
	// here when the provider reports usage.
	Done bool

	InputTokens  int
	OutputTokens int

	// Error terminates the stream.
	Error error
}

// Collected is the fully drained form of one streamed completion.
type Collected struct {
	Text      string
	Thinking  string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// Collect drains a completion stream into its final form. It returns the
// first stream error encountered, and ctx cancellation aborts the drain.
func Collect(ctx context.Context, provider Provider, req *CompletionRequest) (*Collected, error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return drain(ctx, chunks, nil)
}

// drain consumes a chunk channel, invoking onChunk (when non-nil) for every
// chunk before accumulation.
func drain(ctx context.Context, chunks <-chan *CompletionChunk, onChunk func(*CompletionChunk)) (*Collected, error) {
	var out Collected
	var text, thinking strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				out.Text = text.String()
				out.Thinking = thinking.String()
				return &out, nil
			}
			if onChunk != nil {
				onChunk(chunk)
			}
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			text.WriteString(chunk.Text)
			thinking.WriteString(chunk.Thinking)
			if chunk.ToolCall != nil {
				out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				out.Usage.InputTokens += chunk.InputTokens
				out.Usage.OutputTokens += chunk.OutputTokens
			}
		}
	}
}

// Tool is the capability interface for anything the model can invoke.
type Tool interface {
	// Name returns the tool identifier the model calls it by.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's input object.
	Schema() json.RawMessage

	// Execute runs the tool. A returned error becomes an error-tagged
	// result message; it never aborts the agent run.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// StateWriter is implemented by tools whose execution mutates external
// state. Read-only agents are refused such tools at dispatch time.
type StateWriter interface {
	WritesState() bool
}

// ApprovalGated is implemented by tools that may require human approval.
// Triggers inspects one invocation's input and returns the items that fire
// the gate; an empty slice means this invocation proceeds ungated.
type ApprovalGated interface {
	Triggers(input json.RawMessage) []string
}

// WritesState reports whether the tool declares a write effect.
func WritesState(t Tool) bool {
	if w, ok := t.(StateWriter); ok {
		return w.WritesState()
	}
	return false
}

// SchemaFor renders the provider-facing declaration of a tool.
func SchemaFor(t Tool) ToolSchema {
	return ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Schema(),
	}
}

// requestBytes measures a completion request as the provider would see it.
func requestBytes(req *CompletionRequest) int64 {
	data, err := json.Marshal(req)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// String implements fmt.Stringer for logging.
func (c *CompletionChunk) String() string {
	switch {
	case c.Error != nil:
		return fmt.Sprintf("chunk{error: %v}", c.Error)
	case c.ToolCall != nil:
		return fmt.Sprintf("chunk{tool_call: %s}", c.ToolCall.Name)
	case c.Done:
		return fmt.Sprintf("chunk{done in=%d out=%d}", c.InputTokens, c.OutputTokens)
	default:
		return fmt.Sprintf("chunk{text: %d bytes}", len(c.Text))
	}
}
