package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"imgforge/internal/batch"
)

const recentLimit = 4

type Model struct {
	updates   <-chan batch.Progress
	cancel    func()
	stopping  bool
	started   time.Time
	width     int
	total     int
	completed int
	running   map[string]bool
	failed    int
	cancelled int
	message   string
	recent    []string
	quitting  bool
}

type doneMsg struct{}

type updateMsg batch.Progress

// NewModel renders progress read from updates until it is closed. cancel is
// called when the user presses ctrl+c or q; the model keeps rendering until
// the batch drains.
func NewModel(updates <-chan batch.Progress, cancel func()) Model {
	return Model{updates: updates, cancel: cancel, started: time.Now(), running: make(map[string]bool)}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m = m.apply(batch.Progress(msg))
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) apply(p batch.Progress) Model {
	m.total = p.Total
	if p.Completed > m.completed {
		m.completed = p.Completed
	}
	if p.Message != "" {
		m.message = p.Message
	}
	if p.JobID == "" {
		return m
	}
	switch p.Status {
	case batch.StatusRunning:
		m.running[p.JobID] = true
	case batch.StatusSucceeded:
		delete(m.running, p.JobID)
	case batch.StatusFailed:
		delete(m.running, p.JobID)
		m.failed++
		m.recent = append(m.recent, fmt.Sprintf("%s: %v", p.Job, p.Err))
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
	case batch.StatusCancelled:
		m.cancelled++
	}
	return m
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	ratio := 0.0
	if m.total > 0 {
		ratio = math.Min(1, float64(m.completed)/float64(m.total))
	}

	elapsed := time.Since(m.started).Round(time.Millisecond)
	lines := []string{
		titleStyle.Render("imgforge"),
		labelStyle.Render(fmt.Sprintf("Jobs: %d/%d", m.completed, m.total)) +
			dimStyle.Render(fmt.Sprintf("  running:%d failed:%d cancelled:%d", len(m.running), m.failed, m.cancelled)),
		dimStyle.Render(m.status()),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		barStyle.Render(renderBar(barWidth, ratio)),
	}
	for _, r := range m.recent {
		lines = append(lines, errorStyle.Render("  ! "+r))
	}
	return strings.Join(lines, "\n")
}

func (m Model) status() string {
	if m.stopping {
		return "Stopping: waiting for running jobs to finish"
	}
	return m.message
}

func listenForUpdates(updates <-chan batch.Progress) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
	errorStyle = lipgloss.NewStyle().Foreground(ColorError)
)
