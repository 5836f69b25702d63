// Package progress provides the append-only, session-scoped progress log.
// Each session owns one events.jsonl file; events carry strictly increasing
// sequence numbers and are never updated or deleted.
package progress

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event kind constants.
const (
	KindStarted   = "started"
	KindRetried   = "retried"
	KindCompleted = "completed"
	KindFailed    = "failed"
)

// Event represents a single stage lifecycle record written to the log.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session"`
	Stage     string    `json:"stage"`
	Kind      string    `json:"kind"`
	Time      time.Time `json:"time"`
	Attempt   int       `json:"attempt,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Log writes append-only JSONL events for one session.
type Log struct {
	path      string
	sessionID string

	mu      sync.Mutex
	nextSeq uint64
}

// logFileName is the event log file inside a session directory.
const logFileName = "events.jsonl"

// Open opens (or creates) the progress log for sessionID inside sessionDir.
// An existing log is scanned once to restore the next sequence number, so
// appends after a reattach continue the sequence without gaps.
func Open(sessionDir, sessionID string) (*Log, error) {
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	l := &Log{
		path:      filepath.Join(sessionDir, logFileName),
		sessionID: sessionID,
		nextSeq:   1,
	}

	events, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if n := len(events); n > 0 {
		l.nextSeq = events[n-1].Seq + 1
	}

	return l, nil
}

// Append assigns the next sequence number to event, sets its session ID and
// timestamp, and writes it as one JSON line. Returns the assigned sequence
// number. A failed append is a real error for the caller: the enclosing
// stage attempt must be treated as failed, never silently unrecorded.
func (l *Log) Append(event Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Seq = l.nextSeq
	event.SessionID = l.sessionID
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal progress event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("open progress log: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("write progress event: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close progress log: %w", err)
	}

	l.nextSeq++
	return event.Seq, nil
}

// ReadAll reads and parses all events from the log file in append order.
// Returns an empty slice (not an error) if the file does not exist.
func (l *Log) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse progress line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read progress log: %w", err)
	}

	if events == nil {
		return []Event{}, nil
	}
	return events, nil
}

// Path returns the log file path. Useful for read-only observers.
func (l *Log) Path() string {
	return l.path
}
