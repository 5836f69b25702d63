// Package tui implements the read-only session dashboard using Bubble Tea.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/session"
)

// refreshInterval controls how often the dashboard polls the store.
const refreshInterval = 2 * time.Second

// listLimit caps how many sessions the dashboard loads.
const listLimit = 50

// IsTTY reports whether stdout is attached to a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type tickMsg time.Time

type sessionsMsg struct {
	summaries []session.Summary
}

type stagesMsg struct {
	sessionID string
	records   []session.StageRecord
}

type errMsg struct {
	err error
}

// Model is the dashboard's Bubble Tea model. It reads from the session
// store and never mutates sessions.
type Model struct {
	cfg   *config.Config
	store *session.Store

	summaries []session.Summary
	records   []session.StageRecord
	selected  int
	err       error

	spin spinner.Model
	help help.Model
	keys keyMap
}

// New creates a dashboard model over the given config and session store.
func New(cfg *config.Config, store *session.Store) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle

	return Model{
		cfg:   cfg,
		store: store,
		spin:  sp,
		help:  help.New(),
		keys:  keys,
	}
}

// Run starts the dashboard event loop.
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadSessions, m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// loadSessions fetches the session list from the store.
func (m Model) loadSessions() tea.Msg {
	summaries, err := m.store.ListSessions(listLimit)
	if err != nil {
		return errMsg{err}
	}
	return sessionsMsg{summaries}
}

// loadStages fetches stage records for the selected session.
func (m Model) loadStages(id string) tea.Cmd {
	return func() tea.Msg {
		records, err := m.store.GetStageRecords(id)
		if err != nil {
			return errMsg{err}
		}
		return stagesMsg{sessionID: id, records: records}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
			return m, m.selectedStagesCmd()
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.summaries)-1 {
				m.selected++
			}
			return m, m.selectedStagesCmd()
		case key.Matches(msg, m.keys.Refresh):
			return m, m.loadSessions
		}

	case tickMsg:
		return m, tea.Batch(m.loadSessions, tick())

	case sessionsMsg:
		m.summaries = msg.summaries
		m.err = nil
		if m.selected >= len(m.summaries) {
			m.selected = len(m.summaries) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		return m, m.selectedStagesCmd()

	case stagesMsg:
		if id, ok := m.selectedID(); ok && id == msg.sessionID {
			m.records = msg.records
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// selectedID returns the ID of the currently selected session.
func (m Model) selectedID() (string, bool) {
	if m.selected < 0 || m.selected >= len(m.summaries) {
		return "", false
	}
	return m.summaries[m.selected].ID, true
}

func (m Model) selectedStagesCmd() tea.Cmd {
	id, ok := m.selectedID()
	if !ok {
		return nil
	}
	return m.loadStages(id)
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("quill sessions"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if len(m.summaries) == 0 {
		b.WriteString(DimStyle.Render("No sessions yet."))
		b.WriteString("\n")
	}

	for i, s := range m.summaries {
		cursor := "  "
		if i == m.selected {
			cursor = "> "
		}

		marker := " "
		if s.State == session.StateRunning {
			marker = m.spin.View()
		}
		state := marker + stateStyle(string(s.State)).Render(fmt.Sprintf("%-11s", s.State))

		line := fmt.Sprintf("%s%-10s %s %d/%d  %s", cursor, shorten(s.ID, 8), state, s.StagesDone, s.StagesTotal, shorten(s.Topic, 44))
		if i == m.selected {
			line = SelectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if detail := m.stageDetail(); detail != "" {
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(detail))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")

	return b.String()
}

// stageDetail renders the per-stage pane for the selected session.
func (m Model) stageDetail() string {
	if _, ok := m.selectedID(); !ok {
		return ""
	}

	byStage := make(map[string]session.StageRecord, len(m.records))
	for _, r := range m.records {
		byStage[r.Stage] = r
	}

	var lines []string
	for _, name := range m.cfg.StageNames() {
		rec, ok := byStage[name]
		status := "pending"
		extra := ""
		if ok {
			status = rec.Status
			if rec.Attempts > 1 {
				extra = fmt.Sprintf(" (%d attempts)", rec.Attempts)
			}
			if rec.Error != "" {
				extra += " " + shorten(rec.Error, 40)
			}
		}
		lines = append(lines, fmt.Sprintf("%-10s %s%s", name, stateStyle(status).Render(status), extra))
	}
	return strings.Join(lines, "\n")
}

// shorten truncates s to n runes with an ellipsis.
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
