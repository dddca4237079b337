package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGateAllowDecision(t *testing.T) {
	gate := NewGate()
	defer gate.Close()

	go func() {
		req := <-gate.Requests()
		if req.Tool != "shell" || len(req.Triggers) != 1 {
			t.Errorf("request = %+v", req)
		}
		req.Respond(DecisionAllow)
	}()

	d, err := gate.Ask(context.Background(), "shell", "run rm", []string{"rm -rf"})
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionAllow {
		t.Fatalf("decision = %s", d)
	}
}

func TestGateAskCancelledReleasesReplySlot(t *testing.T) {
	gate := NewGate()
	defer gate.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := gate.Ask(ctx, "shell", "desc", []string{"sudo"})
		errs <- err
	}()

	req := <-gate.Requests()
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Ask stayed blocked after cancellation")
	}

	// A late responder must not panic or block on the abandoned slot.
	req.Respond(DecisionAllow)
}

func TestGateCloseReleasesWaiters(t *testing.T) {
	gate := NewGate()
	errs := make(chan error, 1)
	go func() {
		_, err := gate.Ask(context.Background(), "shell", "desc", []string{"sudo"})
		errs <- err
	}()
	<-gate.Requests()
	gate.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrApprovalAbandoned) {
			t.Fatalf("err = %v, want ErrApprovalAbandoned", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Ask stayed blocked after gate close")
	}
}

func TestRespondIsSingleUse(t *testing.T) {
	gate := NewGate()
	defer gate.Close()

	go func() {
		req := <-gate.Requests()
		req.Respond(DecisionDeny)
		req.Respond(DecisionAllow) // ignored
	}()

	d, err := gate.Ask(context.Background(), "shell", "desc", []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionDeny {
		t.Fatalf("decision = %s, want the first response", d)
	}
}

func TestAllowListCovers(t *testing.T) {
	l := NewAllowList()
	if !l.Covers(nil) {
		t.Fatal("empty trigger set must be trivially covered")
	}
	if l.Covers([]string{"rm -rf"}) {
		t.Fatal("unapproved trigger reported covered")
	}
	l.Add("rm -rf", "mkfs")
	if !l.Covers([]string{"rm -rf"}) || !l.Covers([]string{"rm -rf", "mkfs"}) {
		t.Fatal("approved triggers not covered")
	}
	if l.Covers([]string{"rm -rf", "dd"}) {
		t.Fatal("partially approved set must not be covered")
	}
}

func TestAllowListConcurrentAccess(t *testing.T) {
	l := NewAllowList()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Add("rm -rf")
		}()
		go func() {
			defer wg.Done()
			l.Covers([]string{"rm -rf"})
		}()
	}
	wg.Wait()
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}
