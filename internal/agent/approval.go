package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ApprovalDecision is a human's answer to a gated tool call.
type ApprovalDecision string

const (
	// DecisionAllow permits this call only.
	DecisionAllow ApprovalDecision = "allow"

	// DecisionAllowForSession permits this call and records its trigger
	// items in the session allow-list so future identical triggers skip the
	// gate.
	DecisionAllowForSession ApprovalDecision = "allow_for_session"

	// DecisionDeny refuses the call.
	DecisionDeny ApprovalDecision = "deny"
)

// ApprovalRequest asks an external responder to approve one tool call. The
// reply slot is single-use: exactly one call to Respond is consumed, then
// the request is discarded.
type ApprovalRequest struct {
	ID          string
	Tool        string
	Description string

	// Triggers are the sub-items that fired the gate, e.g. destructive
	// command fragments. AllowForSession promotes exactly these.
	Triggers []string

	reply chan ApprovalDecision
	once  sync.Once
}

// Respond delivers the decision. Further calls are ignored.
func (r *ApprovalRequest) Respond(d ApprovalDecision) {
	r.once.Do(func() {
		r.reply <- d
		close(r.reply)
	})
}

// requestQueueSize bounds outstanding approval requests. One conversation
// has at most one outstanding request, so this only matters when several
// conversations gate simultaneously.
const requestQueueSize = 8

// Gate mediates human approval for sensitive tool calls. Requests flow out
// through Requests(); a responder must eventually answer each one or the
// requesting call stalls until its context is cancelled.
type Gate struct {
	requests chan *ApprovalRequest

	closeOnce sync.Once
	done      chan struct{}
}

// NewGate creates an approval gate.
func NewGate() *Gate {
	return &Gate{
		requests: make(chan *ApprovalRequest, requestQueueSize),
		done:     make(chan struct{}),
	}
}

// Requests exposes the stream of pending approval requests to the external
// responder.
func (g *Gate) Requests() <-chan *ApprovalRequest {
	return g.requests
}

// Close shuts the gate down. Calls blocked in Ask are released with
// ErrApprovalAbandoned.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

// Ask publishes an approval request and blocks until a decision arrives, the
// context is cancelled, or the gate closes. Cancellation releases the reply
// slot: a late Respond on an abandoned request is a harmless no-op.
func (g *Gate) Ask(ctx context.Context, tool, description string, triggers []string) (ApprovalDecision, error) {
	req := &ApprovalRequest{
		ID:          uuid.NewString(),
		Tool:        tool,
		Description: description,
		Triggers:    triggers,
		reply:       make(chan ApprovalDecision, 1),
	}

	select {
	case g.requests <- req:
	case <-g.done:
		return "", ErrApprovalAbandoned
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case d := <-req.reply:
		return d, nil
	case <-g.done:
		req.abandon()
		return "", ErrApprovalAbandoned
	case <-ctx.Done():
		req.abandon()
		return "", ctx.Err()
	}
}

// abandon consumes the reply slot so a late responder cannot block.
func (r *ApprovalRequest) abandon() {
	r.once.Do(func() { close(r.reply) })
}

// AllowList is the process-wide record of trigger items approved for the
// session. Append-only for the life of the process; shared across
// conversations and guarded by a mutex.
type AllowList struct {
	mu      sync.RWMutex
	entries map[string]bool
}

// NewAllowList creates an empty allow-list.
func NewAllowList() *AllowList {
	return &AllowList{entries: make(map[string]bool)}
}

// Add records trigger items as approved for the session.
func (l *AllowList) Add(triggers ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range triggers {
		l.entries[t] = true
	}
}

// Covers reports whether every trigger is already approved. An empty
// trigger set is trivially covered.
func (l *AllowList) Covers(triggers []string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range triggers {
		if !l.entries[t] {
			return false
		}
	}
	return true
}

// Len reports the number of recorded triggers.
func (l *AllowList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
