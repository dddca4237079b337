package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/pkg/models"
)

// Loop is the iteration controller driving one conversation to completion.
//
// State machine:
//
//	            ┌─────────────────────────────────────────────┐
//	            ▼                                             │
//	Running ──► AwaitingCompletion ──► Dispatching ───────────┘
//	  │              │
//	  │ budget       │ final text
//	  ▼              ▼
//	Compacting    Done(success)
//	  │
//	  ▼
//	Continuing ──► Running (fresh window)
//	  │
//	  ▼
//	Done(budget_exhausted)
//
// Any fatal error from completion or compaction short-circuits to
// Done(error). The loop owns its Conversation exclusively for the duration
// of one Run; independent conversations share only the event bus and the
// approval allow-list.
type Loop struct {
	provider   Provider
	registry   *Registry
	dispatcher *Dispatcher
	compactor  Compactor
	bus        *events.Bus
	stack      *CallStack
	logger     *slog.Logger

	model     string
	maxTokens int
}

// LoopOption adjusts loop construction.
type LoopOption func(*Loop)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithModel sets the default model for completion requests.
func WithModel(model string) LoopOption {
	return func(l *Loop) { l.model = model }
}

// WithMaxTokens bounds each completion response.
func WithMaxTokens(n int) LoopOption {
	return func(l *Loop) { l.maxTokens = n }
}

// WithCallStack attaches an execution-context stack for display.
func WithCallStack(stack *CallStack) LoopOption {
	return func(l *Loop) { l.stack = stack }
}

// NewLoop wires an iteration controller. provider, registry, dispatcher, and
// compactor are required; bus may be nil when nothing observes progress.
func NewLoop(provider Provider, registry *Registry, dispatcher *Dispatcher, compactor Compactor, bus *events.Bus, opts ...LoopOption) *Loop {
	l := &Loop{
		provider:   provider,
		registry:   registry,
		dispatcher: dispatcher,
		compactor:  compactor,
		bus:        bus,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeError           Outcome = "error"
	OutcomeCancelled       Outcome = "cancelled"
)

// Result is a run's terminal state. The conversation log is always attached
// so partial progress survives errors and cancellation.
type Result struct {
	Outcome Outcome

	// Text is the final assistant answer on success.
	Text string

	// Summary is the last compaction output; set on budget exhaustion and
	// on any run that continued at least once.
	Summary string

	// Err carries the fatal error for OutcomeError.
	Err error

	Conversation *Conversation
	Usage        models.Usage
}

// Run drives the agentic loop for one task until a terminal state. The
// returned error mirrors Result.Err for OutcomeError and ctx.Err() for
// OutcomeCancelled; success and budget exhaustion return a nil error.
func (l *Loop) Run(ctx context.Context, def *Definition, task string) (*Result, error) {
	if l.provider == nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: ErrNoProvider}
	}
	if err := def.Validate(); err != nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: err}
	}

	conv := NewConversation(task)
	if l.stack != nil {
		release := l.stack.Push(FrameAgent, def.Name)
		defer release()
	}

	maxTurns := def.EffectiveMaxTurns()
	maxContinuations := def.EffectiveMaxContinuations()

	l.logger.Info("agent run started",
		"agent", def.Name, "conversation", conv.ID,
		"max_turns", maxTurns, "max_continuations", maxContinuations)

	for {
		if err := ctx.Err(); err != nil {
			return l.cancelled(conv, err)
		}

		// Budget check happens before a new iteration begins, always at an
		// iteration boundary: the log ends in a complete tool result, never
		// mid-dispatch.
		if conv.Iteration >= maxTurns {
			if err := l.compact(ctx, def, conv); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return l.cancelled(conv, err)
				}
				return l.fatal(conv, &LoopError{Phase: PhaseCompaction, Iteration: conv.Iteration, Cause: err})
			}

			conv.Continuations++
			if conv.Continuations > maxContinuations {
				l.logger.Info("continuation budget exhausted",
					"agent", def.Name, "continuations", conv.Continuations-1)
				return &Result{
					Outcome:      OutcomeBudgetExhausted,
					Summary:      conv.Summary,
					Conversation: conv,
					Usage:        conv.Usage,
				}, nil
			}

			l.publish(events.ContinuationStarted(def.Name, conv.Continuations))
			conv.ResetWindow()
			continue
		}

		conv.Iteration++
		l.publish(events.IterationStart(def.Name, conv.Iteration, maxTurns))

		out, err := l.complete(ctx, def, conv)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return l.cancelled(conv, err)
			}
			return l.fatal(conv, &LoopError{Phase: PhaseCompletion, Iteration: conv.Iteration, Cause: err})
		}

		conv.Usage = conv.Usage.Add(out.Usage)
		l.publish(events.UsageUpdate(def.Name, out.Usage.InputTokens, out.Usage.OutputTokens))
		l.publish(events.ByteCount(def.Name, conv.InputBytes, conv.OutputBytes))
		if out.Text != "" {
			l.publish(events.AssistantText(def.Name, out.Text))
		}

		// No tool calls means the text is the final answer. A response with
		// neither calls nor text is an empty final answer, not an error.
		if len(out.ToolCalls) == 0 {
			l.logger.Info("agent run completed",
				"agent", def.Name, "iterations", conv.Iteration,
				"continuations", conv.Continuations)
			return &Result{
				Outcome:      OutcomeSuccess,
				Text:         out.Text,
				Summary:      conv.Summary,
				Conversation: conv,
				Usage:        conv.Usage,
			}, nil
		}

		conv.Append(models.Message{
			Role:      models.RoleAssistant,
			Content:   out.Text,
			ToolCalls: out.ToolCalls,
		})

		results := l.dispatcher.DispatchAll(ctx, def, conv, out.ToolCalls)
		if err := ctx.Err(); err != nil {
			// Dispatch was interrupted; do not append partial results.
			return l.cancelled(conv, err)
		}
		for _, res := range results {
			conv.Append(models.Message{
				Role:        models.RoleTool,
				Content:     res.Content,
				ToolResults: []models.ToolResult{res},
			})
		}
	}
}

// complete issues one completion request and drains the stream, publishing
// deltas as they arrive. Raw text deltas go only to the debug sink; thinking
// deltas fan out to observers.
func (l *Loop) complete(ctx context.Context, def *Definition, conv *Conversation) (*Collected, error) {
	req := &CompletionRequest{
		Model:     l.modelFor(def),
		System:    def.SystemPrompt,
		Messages:  conv.Messages,
		Tools:     l.registry.SchemasFor(def.Tools),
		MaxTokens: l.maxTokens,
	}
	conv.InputBytes += requestBytes(req)

	chunks, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return drain(ctx, chunks, func(chunk *CompletionChunk) {
		if chunk.Thinking != "" {
			conv.OutputBytes += int64(len(chunk.Thinking))
			l.publish(events.ThinkingDelta(def.Name, chunk.Thinking))
		}
		if chunk.Text != "" {
			conv.OutputBytes += int64(len(chunk.Text))
		}
	})
}

// compact replaces the conversation log with a summary so a fresh window can
// continue. A prior summary is merged via reflect; compaction failure is
// fatal because continuing without a valid summary silently loses state.
func (l *Loop) compact(ctx context.Context, def *Definition, conv *Conversation) error {
	summary, err := l.compactor.Observe(ctx, conv.Messages)
	if err != nil {
		return err
	}
	if conv.Summary != "" {
		merged, err := l.compactor.Reflect(ctx, conv.Summary+"\n\n"+summary)
		if err != nil {
			return err
		}
		summary = merged
	}
	conv.Summary = summary
	conv.Observations++
	l.publish(events.ObservationComplete(def.Name, len(summary), conv.Observations))

	conv.Messages = []models.Message{}
	conv.Append(models.Message{
		Role:    models.RoleUser,
		Content: continuationMessage(summary, conv.Task),
	})
	return nil
}

func (l *Loop) modelFor(def *Definition) string {
	if def.Model != "" {
		return def.Model
	}
	return l.model
}

func (l *Loop) fatal(conv *Conversation, lerr *LoopError) (*Result, error) {
	l.logger.Error("agent run failed",
		"phase", lerr.Phase, "iteration", lerr.Iteration, "error", lerr.Cause)
	return &Result{
		Outcome:      OutcomeError,
		Err:          lerr,
		Summary:      conv.Summary,
		Conversation: conv,
		Usage:        conv.Usage,
	}, lerr
}

func (l *Loop) cancelled(conv *Conversation, err error) (*Result, error) {
	l.logger.Info("agent run cancelled", "iteration", conv.Iteration)
	return &Result{
		Outcome:      OutcomeCancelled,
		Summary:      conv.Summary,
		Conversation: conv,
		Usage:        conv.Usage,
	}, err
}

func (l *Loop) publish(e events.Event) {
	if l.bus != nil {
		l.bus.Publish(e)
	}
}

// continuationMessage builds the synthetic user message that replaces the
// log after compaction.
func continuationMessage(summary, task string) string {
	return "## Continuation Context\n\n" +
		"You ran out of turns and your conversation was summarized. Here is the summary of your work so far:\n\n" +
		summary +
		"\n\n## Original Task\n\n" +
		task +
		"\n\nContinue from where you left off."
}
