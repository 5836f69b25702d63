// Package ui provides terminal UI components for quill.
// This file implements the live progress display shown while a session's
// pipeline runs.
package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// StageStatus represents the display status of a single pipeline stage.
type StageStatus int

const (
	StatusPending   StageStatus = iota // Not yet reached
	StatusRunning                      // Currently executing
	StatusCompleted                    // Finished successfully
	StatusFailed                       // Failed after retries
	StatusAborted                      // Cancelled before completion
)

// stageLine holds the display state of a single stage.
type stageLine struct {
	Name    string
	Status  StageStatus
	Attempt int
	Elapsed time.Duration
}

// ProgressDisplay manages a live-updating terminal view of the pipeline.
type ProgressDisplay struct {
	mu          sync.Mutex
	topic       string
	stages      []*stageLine
	stageIndex  map[string]int
	started     bool
	isTTY       bool
	linesDrawn  int
	startTimes  map[string]time.Time
	lastPrinted map[string]StageStatus // tracks last printed status per stage (non-TTY)
}

// NewProgressDisplay creates a ProgressDisplay for a session topic and its
// pipeline stages in order.
func NewProgressDisplay(topic string, stages []string) *ProgressDisplay {
	p := &ProgressDisplay{
		topic:       topic,
		stageIndex:  make(map[string]int, len(stages)),
		startTimes:  make(map[string]time.Time),
		lastPrinted: make(map[string]StageStatus),
		isTTY:       term.IsTerminal(int(os.Stdout.Fd())),
	}
	for i, name := range stages {
		p.stageIndex[name] = i
		p.stages = append(p.stages, &stageLine{Name: name, Status: StatusPending})
	}
	return p
}

// Start draws the initial progress display.
func (p *ProgressDisplay) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = true
	p.render()
}

// Update updates a stage's status and re-renders the display.
func (p *ProgressDisplay) Update(name string, status StageStatus, attempt int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.stageIndex[name]
	if !ok {
		return
	}

	st := p.stages[idx]
	st.Status = status
	st.Attempt = attempt

	switch status {
	case StatusRunning:
		if _, seen := p.startTimes[name]; !seen {
			p.startTimes[name] = time.Now()
		}
	case StatusCompleted, StatusFailed, StatusAborted:
		if start, ok := p.startTimes[name]; ok {
			st.Elapsed = time.Since(start)
		}
	}

	if p.started {
		p.render()
	}
}

// Finish finalizes the display with a one-line summary.
func (p *ProgressDisplay) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isTTY && p.linesDrawn > 0 {
		fmt.Print("\n")
	}

	completed := 0
	failed := 0
	for _, st := range p.stages {
		switch st.Status {
		case StatusCompleted:
			completed++
		case StatusFailed, StatusAborted:
			failed++
		}
	}

	fmt.Printf("\nDone: %d/%d stages completed", completed, len(p.stages))
	if failed > 0 {
		fmt.Printf(", %d not completed", failed)
	}
	fmt.Println()
}

// render draws or redraws the progress display.
func (p *ProgressDisplay) render() {
	if !p.isTTY {
		p.renderPlain()
		return
	}
	p.renderTTY()
}

// renderTTY draws the display using ANSI escape codes for in-place updates.
func (p *ProgressDisplay) renderTTY() {
	if p.linesDrawn > 0 {
		fmt.Printf("\033[%dA", p.linesDrawn)
	}

	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("\033[2K\033[1m✎ quill - %q\033[0m\n", p.topic))
	buf.WriteString("\033[2K\n")

	for _, st := range p.stages {
		buf.WriteString("\033[2K")
		buf.WriteString(formatStageLine(st, p.startTimes))
		buf.WriteString("\n")
	}

	fmt.Print(buf.String())
	p.linesDrawn = len(p.stages) + 2 // header + blank + stages
}

// renderPlain writes non-TTY output (for CI/piping).
// Only prints on status transitions to avoid duplicate lines.
func (p *ProgressDisplay) renderPlain() {
	for _, st := range p.stages {
		if st.Status == StatusPending {
			continue
		}
		if prev, seen := p.lastPrinted[st.Name]; seen && prev == st.Status {
			continue
		}
		fmt.Println(formatStageLinePlain(st))
		p.lastPrinted[st.Name] = st.Status
	}
}

// formatStageLine formats a single stage line with ANSI colors and icons.
func formatStageLine(st *stageLine, startTimes map[string]time.Time) string {
	return fmt.Sprintf("  %s %-10s %s", statusIcon(st.Status), st.Name, statusDetail(st, startTimes))
}

// formatStageLinePlain formats a stage line for non-TTY output.
func formatStageLinePlain(st *stageLine) string {
	var status string
	switch st.Status {
	case StatusRunning:
		status = fmt.Sprintf("RUNNING (attempt %d)", st.Attempt)
	case StatusCompleted:
		status = fmt.Sprintf("DONE [%s]", formatDuration(st.Elapsed))
	case StatusFailed:
		status = "FAILED"
	case StatusAborted:
		status = "CANCELLED"
	default:
		status = "PENDING"
	}
	return fmt.Sprintf("[%s] %s", status, st.Name)
}

// statusIcon returns the status icon for a stage.
func statusIcon(status StageStatus) string {
	switch status {
	case StatusCompleted:
		return "\033[32m✅\033[0m" // green checkmark
	case StatusRunning:
		return "\033[33m⏳\033[0m" // yellow hourglass
	case StatusFailed:
		return "\033[31m❌\033[0m" // red X
	case StatusAborted:
		return "\033[90m⏹\033[0m" // dim stop
	default:
		return "\033[90m○\033[0m" // dim circle
	}
}

// statusDetail returns the right-side detail text for a stage.
func statusDetail(st *stageLine, startTimes map[string]time.Time) string {
	switch st.Status {
	case StatusCompleted:
		return fmt.Sprintf("\033[90m[%s]\033[0m", formatDuration(st.Elapsed))
	case StatusRunning:
		elapsed := time.Since(startTimes[st.Name])
		return fmt.Sprintf("\033[33m[attempt %d, %s]\033[0m", st.Attempt, formatDuration(elapsed))
	case StatusFailed:
		return "\033[31m[failed]\033[0m"
	case StatusAborted:
		return "\033[90m[cancelled]\033[0m"
	default:
		return "\033[90m[pending]\033[0m"
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}
