package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/pkg/models"
)

// DispatcherConfig tunes tool execution.
type DispatcherConfig struct {
	// ToolTimeout bounds a single tool execution. Zero means no bound
	// beyond the run's own context.
	ToolTimeout time.Duration

	// Parallel executes independent calls within one iteration
	// concurrently. Results are appended in call order regardless.
	Parallel bool
}

// Dispatcher resolves and executes tool calls on behalf of the loop. All
// failures are normalized into error-tagged results; the dispatcher never
// returns an error to its caller.
type Dispatcher struct {
	registry  *Registry
	gate      *Gate
	allowList *AllowList
	chunker   *Chunker
	bus       *events.Bus
	stack     *CallStack
	cfg       DispatcherConfig
	logger    *slog.Logger
}

// NewDispatcher wires a dispatcher. gate, chunker, bus, and stack may be nil
// when the corresponding feature is unused.
func NewDispatcher(registry *Registry, gate *Gate, allowList *AllowList, chunker *Chunker, bus *events.Bus, stack *CallStack, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if allowList == nil {
		allowList = NewAllowList()
	}
	return &Dispatcher{
		registry:  registry,
		gate:      gate,
		allowList: allowList,
		chunker:   chunker,
		bus:       bus,
		stack:     stack,
		cfg:       cfg,
		logger:    logger,
	}
}

// DispatchAll executes one iteration's tool calls and returns results in
// call order. Calls run concurrently only when configured and none of them
// is approval-gated, so at most one approval request is ever outstanding
// per conversation.
func (d *Dispatcher) DispatchAll(ctx context.Context, def *Definition, conv *Conversation, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	if d.cfg.Parallel && !d.anyGated(calls) {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call models.ToolCall) {
				defer wg.Done()
				results[i] = d.Dispatch(ctx, def, conv, call)
			}(i, call)
		}
		wg.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = d.Dispatch(ctx, def, conv, call)
	}
	return results
}

// Dispatch runs a single tool call through the full pipeline: resolution,
// read-only and ceiling checks, argument validation, the approval gate, and
// execution with oversized-result processing.
func (d *Dispatcher) Dispatch(ctx context.Context, def *Definition, conv *Conversation, call models.ToolCall) models.ToolResult {
	tool, ok := d.resolve(def, call.Name)
	if !ok {
		return d.errorResult(def, call, &ToolError{
			Tool:    call.Name,
			CallID:  call.ID,
			Kind:    ErrToolNotFound,
			Message: fmt.Sprintf("unknown tool %q", call.Name),
		}, false)
	}

	if def.ReadOnly && WritesState(tool) {
		return d.errorResult(def, call, &ToolError{
			Tool:    call.Name,
			CallID:  call.ID,
			Kind:    ErrReadOnlyAgent,
			Message: fmt.Sprintf("tool %q writes state but agent %q is read-only", call.Name, def.Name),
		}, false)
	}

	if limit, capped := def.ToolLimits[call.Name]; capped && conv.Executions(call.Name) >= limit {
		return d.errorResult(def, call, &ToolError{
			Tool:    call.Name,
			CallID:  call.ID,
			Kind:    ErrToolCallLimit,
			Message: fmt.Sprintf("tool %q reached its call limit of %d; change strategy", call.Name, limit),
		}, false)
	}

	if err := d.validateInput(call); err != nil {
		return d.errorResult(def, call, &ToolError{
			Tool:   call.Name,
			CallID: call.ID,
			Kind:   ErrInvalidArguments,
			Cause:  err,
		}, false)
	}

	if denied, result := d.checkApproval(ctx, def, conv, tool, call); denied {
		return result
	}

	return d.execute(ctx, def, conv, tool, call)
}

// resolve looks the tool up, requiring it to be both declared by the agent
// and present in the registry.
func (d *Dispatcher) resolve(def *Definition, name string) (Tool, bool) {
	if !def.DeclaresTool(name) {
		return nil, false
	}
	return d.registry.Get(name)
}

func (d *Dispatcher) validateInput(call models.ToolCall) error {
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return d.registry.ValidateInput(call.Name, decoded)
}

// checkApproval runs the gate when the invocation fires triggers not already
// covered by the session allow-list. It reports denied=true with the final
// result when the call must not execute.
func (d *Dispatcher) checkApproval(ctx context.Context, def *Definition, conv *Conversation, tool Tool, call models.ToolCall) (bool, models.ToolResult) {
	gated, ok := tool.(ApprovalGated)
	if !ok || d.gate == nil {
		return false, models.ToolResult{}
	}
	triggers := gated.Triggers(call.Input)
	if len(triggers) == 0 || d.allowList.Covers(triggers) {
		return false, models.ToolResult{}
	}

	description := fmt.Sprintf("Agent %q wants to run %s with input %s", def.Name, call.Name, string(call.Input))
	d.publish(events.UserNotification(def.Name,
		fmt.Sprintf("waiting for approval to run %s (%s)", call.Name, strings.Join(triggers, ", "))))
	decision, err := d.gate.Ask(ctx, call.Name, description, triggers)
	if err != nil {
		return true, d.errorResult(def, call, &ToolError{
			Tool:   call.Name,
			CallID: call.ID,
			Kind:   ErrApprovalAbandoned,
			Cause:  err,
		}, false)
	}

	switch decision {
	case DecisionAllowForSession:
		d.allowList.Add(triggers...)
	case DecisionAllow:
	default:
		return true, d.errorResult(def, call, &ToolError{
			Tool:    call.Name,
			CallID:  call.ID,
			Kind:    ErrApprovalDenied,
			Message: fmt.Sprintf("user denied execution of %q", call.Name),
		}, false)
	}
	return false, models.ToolResult{}
}

// execute runs the tool. The per-tool counter increments only here, so
// denied and limited attempts never count against the ceiling. The reserve
// re-checks the ceiling atomically because parallel calls to the same tool
// may have raced past the earlier check.
func (d *Dispatcher) execute(ctx context.Context, def *Definition, conv *Conversation, tool Tool, call models.ToolCall) models.ToolResult {
	limit, capped := def.ToolLimits[call.Name]
	if !conv.ReserveExecution(call.Name, limit, capped) {
		return d.errorResult(def, call, &ToolError{
			Tool:    call.Name,
			CallID:  call.ID,
			Kind:    ErrToolCallLimit,
			Message: fmt.Sprintf("tool %q reached its call limit of %d; change strategy", call.Name, limit),
		}, false)
	}
	d.publish(events.ToolStart(def.Name, call.Name, call.ID))

	var release func()
	if d.stack != nil {
		release = d.stack.Push(FrameTool, call.Name)
	} else {
		release = func() {}
	}
	defer release()

	execCtx := ctx
	if d.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.cfg.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	content, err := tool.Execute(execCtx, call.Input)
	elapsed := time.Since(start)

	if err != nil {
		d.logger.Warn("tool execution failed",
			"agent", def.Name, "tool", call.Name, "call_id", call.ID,
			"elapsed", elapsed, "error", err)
		return d.errorResult(def, call, &ToolError{
			Tool:   call.Name,
			CallID: call.ID,
			Cause:  err,
		}, true)
	}

	d.logger.Debug("tool executed",
		"agent", def.Name, "tool", call.Name, "call_id", call.ID,
		"elapsed", elapsed, "bytes", len(content))

	if d.chunker.ShouldProcess(content) {
		content = d.chunker.Process(ctx, content, conv.Task)
	}

	d.publish(events.ToolComplete(def.Name, call.Name, call.ID, false))
	return models.ToolResult{ToolCallID: call.ID, Content: content}
}

// errorResult normalizes a tool-local failure into an error-tagged result.
// started distinguishes failures after ToolStart was emitted (execution
// errors) from pre-execution rejections, which emit both events so
// observers always see a balanced pair.
func (d *Dispatcher) errorResult(def *Definition, call models.ToolCall, terr *ToolError, started bool) models.ToolResult {
	if !started {
		d.publish(events.ToolStart(def.Name, call.Name, call.ID))
	}
	d.publish(events.ToolComplete(def.Name, call.Name, call.ID, true))
	d.logger.Debug("tool call rejected or failed",
		"agent", def.Name, "tool", call.Name, "call_id", call.ID, "error", terr)
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    "Error: " + terr.Error(),
		IsError:    true,
	}
}

func (d *Dispatcher) anyGated(calls []models.ToolCall) bool {
	for _, call := range calls {
		tool, ok := d.registry.Get(call.Name)
		if !ok {
			continue
		}
		gated, ok := tool.(ApprovalGated)
		if !ok {
			continue
		}
		if triggers := gated.Triggers(call.Input); len(triggers) > 0 && !d.allowList.Covers(triggers) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) publish(e events.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}

// IsToolLocal reports whether an error belongs to the recoverable tool-local
// taxonomy.
func IsToolLocal(err error) bool {
	return errors.Is(err, ErrToolNotFound) ||
		errors.Is(err, ErrToolCallLimit) ||
		errors.Is(err, ErrApprovalDenied) ||
		errors.Is(err, ErrReadOnlyAgent) ||
		errors.Is(err, ErrInvalidArguments)
}
