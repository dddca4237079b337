package agent

import (
	"sync"
	"time"

	"github.com/droverhq/drover/pkg/models"
	"github.com/google/uuid"
)

// Conversation is the mutable state owned exclusively by one loop
// invocation. Only the per-tool counters are touched concurrently (parallel
// dispatch within one iteration), so only they carry a lock.
type Conversation struct {
	ID string

	// Task is the original user request, preserved verbatim across
	// continuations.
	Task string

	// Messages is the ordered log. Tool-result messages always reference a
	// call id appearing earlier in the sequence.
	Messages []models.Message

	// ToolCalls counts executed calls per tool name within the current
	// continuation window. Keys are a subset of the definition's toolset.
	ToolCalls map[string]int

	countMu sync.Mutex

	// Iteration is the current iteration number within this window,
	// monotonically non-decreasing until a continuation resets it.
	Iteration int

	// Continuations counts how many times compaction restarted the window.
	Continuations int

	// Observations counts completed compaction passes.
	Observations int

	// Summary is the latest compaction output, empty until the first
	// continuation.
	Summary string

	// InputBytes and OutputBytes accumulate over the whole run, across
	// continuations.
	InputBytes  int64
	OutputBytes int64

	// Usage accumulates provider-reported tokens over the whole run.
	Usage models.Usage
}

// NewConversation starts a conversation for one task.
func NewConversation(task string) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		Task:      task,
		ToolCalls: make(map[string]int),
		Messages: []models.Message{{
			ID:        uuid.NewString(),
			Role:      models.RoleUser,
			Content:   task,
			CreatedAt: time.Now(),
		}},
	}
}

// Append adds a message to the log with identity and timestamp filled in.
func (c *Conversation) Append(m models.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	c.Messages = append(c.Messages, m)
}

// ReserveExecution atomically checks the ceiling and records one executed
// call. It reports false, without counting, when the window's budget for
// the tool is already spent. Parallel dispatch relies on the check and the
// increment sharing one critical section.
func (c *Conversation) ReserveExecution(tool string, limit int, capped bool) bool {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	if capped && c.ToolCalls[tool] >= limit {
		return false
	}
	c.ToolCalls[tool]++
	return true
}

// Executions reports the executed-call count for a tool in this window.
func (c *Conversation) Executions(tool string) int {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	return c.ToolCalls[tool]
}

// ResetWindow starts a fresh continuation window: iteration and per-tool
// counters reset, cumulative byte/usage totals are kept.
func (c *Conversation) ResetWindow() {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	c.Iteration = 0
	c.ToolCalls = make(map[string]int)
}
