package agent

import (
	"strings"
	"sync"
)

// FrameKind labels one level of execution nesting.
type FrameKind string

const (
	FrameChat  FrameKind = "chat"
	FrameAgent FrameKind = "agent"
	FrameTool  FrameKind = "tool"
)

type frame struct {
	kind FrameKind
	name string
}

// CallStack tracks chat > agent > tool nesting for display. The root chat
// frame is permanent; every Push returns a release func that must run on all
// exit paths, usually via defer, so the stack stays balanced through errors
// and cancellation.
type CallStack struct {
	mu     sync.RWMutex
	frames []frame
}

// NewCallStack creates a stack holding only the root chat frame.
func NewCallStack() *CallStack {
	return &CallStack{frames: []frame{{kind: FrameChat}}}
}

// Push adds a frame and returns its release func. Release is idempotent and
// pops only this frame and anything pushed above it (stale children are
// cleared when a parent releases first on an error path).
func (s *CallStack) Push(kind FrameKind, name string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := len(s.frames)
	s.frames = append(s.frames, frame{kind: kind, name: name})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if len(s.frames) > depth {
				s.frames = s.frames[:depth]
			}
		})
	}
}

// Reset drops everything except the root chat frame.
func (s *CallStack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = s.frames[:1]
}

// Depth reports the number of frames including the root.
func (s *CallStack) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// String renders the stack as "Chat > Agent[x] > Tool[y]".
func (s *CallStack) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		switch f.kind {
		case FrameChat:
			parts = append(parts, "Chat")
		case FrameAgent:
			parts = append(parts, "Agent["+f.name+"]")
		case FrameTool:
			parts = append(parts, "Tool["+f.name+"]")
		}
	}
	return strings.Join(parts, " > ")
}
