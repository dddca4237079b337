package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Publish(UserNotification("researcher", "hello"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeUserNotification || e.Text != "hello" {
				t.Errorf("subscriber %d: got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	// Must not panic or block.
	bus.Publish(IterationStart("researcher", 1, 10))
}

func TestBusNoReplay(t *testing.T) {
	bus := NewBus()
	bus.Publish(UserNotification("a", "before"))

	ch, cancel := bus.Subscribe()
	defer cancel()
	bus.Publish(UserNotification("a", "after"))

	select {
	case e := <-ch:
		if e.Text != "after" {
			t.Fatalf("expected only post-subscribe event, got %q", e.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra event %+v", e)
		}
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}
	// Double cancel is safe.
	cancel()
}

func TestBusConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancel := bus.Subscribe()
			cancel()
		}()
		go func() {
			defer wg.Done()
			bus.Publish(ThinkingDelta("a", "x"))
		}()
	}
	wg.Wait()
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestAssistantTextOnlyReachesDebugSink(t *testing.T) {
	bus := NewBus()
	sink := &captureSink{}
	bus.SetDebugSink(sink)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(AssistantText("a", "raw output"))

	select {
	case e := <-ch:
		t.Fatalf("assistant_text leaked to subscriber: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
	if len(sink.events) != 1 || sink.events[0].Type != TypeAssistantText {
		t.Fatalf("debug sink events = %+v", sink.events)
	}
}

func TestDebugLogWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.jsonl")
	log, err := OpenDebugLog(path)
	if err != nil {
		t.Fatal(err)
	}
	log.Record(ToolStart("a", "shell", "call_1"))
	log.Record(AssistantText("a", "final answer"))
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var entry struct {
		Timestamp string `json:"timestamp"`
		EventType string `json:"event_type"`
		Data      Event  `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line 0 not valid JSON: %v", err)
	}
	if entry.EventType != string(TypeToolStart) || entry.Data.Tool != "shell" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}
