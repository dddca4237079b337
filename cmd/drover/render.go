package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/events"
)

// renderer turns the event stream into terse progress lines on stderr.
type renderer struct {
	w io.Writer

	thinking bool
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) run(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			r.render(e)
		}
	}
}

func (r *renderer) render(e events.Event) {
	switch e.Type {
	case events.TypeIterationStart:
		r.endThinking()
		fmt.Fprintf(r.w, "--- iteration %d/%d\n", e.Iteration, e.MaxTurns)

	case events.TypeThinkingDelta:
		// Stream deltas inline without a newline per chunk.
		if !r.thinking {
			fmt.Fprint(r.w, "thinking: ")
			r.thinking = true
		}
		fmt.Fprint(r.w, strings.ReplaceAll(e.Text, "\n", " "))

	case events.TypeToolStart:
		r.endThinking()
		fmt.Fprintf(r.w, "-> %s\n", e.Tool)

	case events.TypeToolComplete:
		if e.IsError {
			fmt.Fprintf(r.w, "<- %s failed\n", e.Tool)
		} else {
			fmt.Fprintf(r.w, "<- %s ok\n", e.Tool)
		}

	case events.TypeUsageUpdate:
		r.endThinking()
		fmt.Fprintf(r.w, "   tokens: %d in, %d out\n", e.InputTokens, e.OutputTokens)

	case events.TypeRetry:
		r.endThinking()
		fmt.Fprintf(r.w, "   retrying provider (attempt %d): %s\n", e.Attempt, e.Cause)

	case events.TypeContinuationStarted:
		r.endThinking()
		fmt.Fprintf(r.w, "=== continuation %d: budget renewed after compaction\n", e.Continuation)

	case events.TypeObservationComplete:
		r.endThinking()
		fmt.Fprintf(r.w, "   compacted context to %d byte summary\n", e.SummaryBytes)

	case events.TypeUserNotification:
		r.endThinking()
		fmt.Fprintf(r.w, "note: %s\n", e.Text)
	}
}

func (r *renderer) endThinking() {
	if r.thinking {
		fmt.Fprintln(r.w)
		r.thinking = false
	}
}

// summary prints the run's closing line after the loop returns.
func (r *renderer) summary(result *agent.Result) {
	r.endThinking()
	fmt.Fprintf(r.w, "\noutcome: %s (tokens: %d in, %d out)\n",
		result.Outcome, result.Usage.InputTokens, result.Usage.OutputTokens)
}
