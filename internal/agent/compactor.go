package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/droverhq/drover/pkg/models"
)

// Compactor condenses conversation state so a run can continue after its
// turn budget is spent. Both operations are pure summarization calls into
// the backend; failures are typed and fatal to the run.
type Compactor interface {
	// Observe summarizes a full message log.
	Observe(ctx context.Context, messages []models.Message) (string, error)

	// Reflect condenses a prior summary further. Output is never longer
	// than the input.
	Reflect(ctx context.Context, priorSummary string) (string, error)
}

const defaultObservePrompt = `You are summarizing an agent's work session so it can continue with reduced context. Produce a structured summary with these sections:

<steps_taken>
Chronological list of the actions performed so far.
</steps_taken>

<discoveries>
Key facts, file locations, and constraints learned.
</discoveries>

<accomplishments>
What has been completed and verified.
</accomplishments>

<remaining_work>
What still needs to be done, in order.
</remaining_work>

<important_context>
Anything else the continuation must know (identifiers, partial state, caveats).
</important_context>

Be specific and terse. Omit pleasantries.`

const reflectPrompt = `Condense the following work-session summary. Preserve every identifier, file path, and remaining-work item; drop narration and redundancy. The result must be shorter than the input.`

// transcriptBudget bounds the bytes of rendered conversation fed to the
// observe call. When the log exceeds it, the head (system framing plus the
// original task) and the longest fitting tail are kept with an omission
// marker between them.
const transcriptBudget = 200_000

const omissionMarker = "\n[... earlier messages omitted for length ...]\n"

// ProviderCompactor implements Compactor on top of a Provider.
type ProviderCompactor struct {
	provider Provider
	model    string
	// prompt overrides the default observation instructions when set.
	prompt string
}

// NewProviderCompactor builds a compactor. prompt may be empty to use the
// default instructions.
func NewProviderCompactor(provider Provider, model, prompt string) *ProviderCompactor {
	return &ProviderCompactor{provider: provider, model: model, prompt: prompt}
}

// Observe implements Compactor.
func (c *ProviderCompactor) Observe(ctx context.Context, messages []models.Message) (string, error) {
	if c.provider == nil {
		return "", &CompactionError{Op: OpObserve, Cause: ErrNoProvider}
	}
	prompt := c.prompt
	if prompt == "" {
		prompt = defaultObservePrompt
	}

	transcript := renderTranscript(messages, transcriptBudget)
	req := &CompletionRequest{
		Model:  c.model,
		System: prompt,
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: transcript,
		}},
	}
	out, err := Collect(ctx, c.provider, req)
	if err != nil {
		return "", &CompactionError{Op: OpObserve, Cause: err}
	}
	summary := strings.TrimSpace(out.Text)
	if summary == "" {
		return "", &CompactionError{Op: OpObserve, Cause: fmt.Errorf("backend returned empty summary")}
	}
	return summary, nil
}

// Reflect implements Compactor. The condensed summary is clamped so it can
// never exceed the input length.
func (c *ProviderCompactor) Reflect(ctx context.Context, priorSummary string) (string, error) {
	if c.provider == nil {
		return "", &CompactionError{Op: OpReflect, Cause: ErrNoProvider}
	}
	req := &CompletionRequest{
		Model:  c.model,
		System: reflectPrompt,
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: priorSummary,
		}},
	}
	out, err := Collect(ctx, c.provider, req)
	if err != nil {
		return "", &CompactionError{Op: OpReflect, Cause: err}
	}
	condensed := strings.TrimSpace(out.Text)
	if condensed == "" {
		return "", &CompactionError{Op: OpReflect, Cause: fmt.Errorf("backend returned empty summary")}
	}
	if len(condensed) > len(priorSummary) {
		condensed = condensed[:len(priorSummary)]
	}
	return condensed, nil
}

// renderTranscript flattens messages into labeled text under a byte budget.
// The first two messages anchor the original framing; the tail keeps the
// most recent activity.
func renderTranscript(messages []models.Message, budget int) string {
	rendered := make([]string, len(messages))
	for i, m := range messages {
		rendered[i] = renderMessage(m)
	}

	total := 0
	for _, r := range rendered {
		total += len(r) + 1
	}
	if total <= budget {
		return strings.Join(rendered, "\n")
	}

	headCount := 2
	if headCount > len(rendered) {
		headCount = len(rendered)
	}
	headLen := 0
	for _, r := range rendered[:headCount] {
		headLen += len(r) + 1
	}

	remaining := budget - headLen - len(omissionMarker)
	var tail []string
	for i := len(rendered) - 1; i >= headCount; i-- {
		need := len(rendered[i]) + 1
		if need > remaining {
			break
		}
		remaining -= need
		tail = append([]string{rendered[i]}, tail...)
	}

	var b strings.Builder
	b.WriteString(strings.Join(rendered[:headCount], "\n"))
	b.WriteString(omissionMarker)
	b.WriteString(strings.Join(tail, "\n"))
	return b.String()
}

func renderMessage(m models.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", m.Role)
	if m.Content != "" {
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	for _, call := range m.ToolCalls {
		fmt.Fprintf(&b, "\n  -> tool call %s(%s) id=%s", call.Name, string(call.Input), call.ID)
	}
	for _, res := range m.ToolResults {
		status := "ok"
		if res.IsError {
			status = "error"
		}
		fmt.Fprintf(&b, "\n  <- tool result id=%s (%s): %s", res.ToolCallID, status, res.Content)
	}
	return b.String()
}
