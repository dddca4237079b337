package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DebugLog writes every event as one JSON line to a file. It is the only
// place assistant_text events are persisted.
type DebugLog struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

type debugEntry struct {
	Timestamp string `json:"timestamp"`
	EventType Type   `json:"event_type"`
	Data      Event  `json:"data"`
}

// OpenDebugLog opens (or creates) the log file in append mode.
func OpenDebugLog(path string) (*DebugLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	return &DebugLog{f: f, w: bufio.NewWriter(f)}, nil
}

// Record implements Sink. Marshal or write failures are swallowed; the debug
// log must never disturb the run.
func (d *DebugLog) Record(e Event) {
	entry := debugEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: e.Type,
		Data:      e,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w.Write(line)
	d.w.WriteByte('\n')
}

// Close flushes buffered lines and closes the file.
func (d *DebugLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
