// Package tui implements a minimal progress display for long-running
// flashctl operations, adapted from the teacher's
// internal/tui/screens/installprogress.go: a bubbles/progress.Model driven
// by messages pulled off a channel, rendered inside a bubbletea program.
// Here the channel is a facade session's events.Bus instead of an install
// step emitter.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/flashkit/flashkit/internal/events"
)

var (
	styleDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type eventMsg events.Event

type doneMsg struct{ err error }

// ProgressModel renders the ProgressChanged/StageChanged/ErrorOccurred
// stream from one facade session's event bus.
type ProgressModel struct {
	label    string
	ch       <-chan events.Event
	progress progress.Model
	stage    string
	fraction float64
	err      error
	done     bool
	width    int
}

// NewProgressModel builds a ProgressModel that reads from ch until it is
// closed (the facade closes its bus on Disconnect).
func NewProgressModel(label string, ch <-chan events.Event) ProgressModel {
	return ProgressModel{
		label:    label,
		ch:       ch,
		progress: progress.New(progress.WithDefaultGradient()),
		stage:    "starting",
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.listen()
}

func (m ProgressModel) listen() tea.Cmd {
	ch := m.ch
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 10
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case eventMsg:
		switch events.Event(msg).Kind {
		case events.ProgressChanged:
			if msg.Total > 0 {
				m.fraction = float64(msg.Done) / float64(msg.Total)
			}
			m.stage = msg.Stage
		case events.StageChanged:
			m.stage = msg.Stage
		case events.ErrorOccurred:
			if !msg.Recoverable {
				m.err = fmt.Errorf("%s: %s", msg.ErrKind, msg.Message)
			}
		}
		return m, m.listen()

	case progress.FrameMsg:
		next, cmd := m.progress.Update(msg)
		m.progress = next.(progress.Model)
		return m, cmd

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString("  " + m.label + "\n\n")
	b.WriteString("  " + m.progress.ViewAs(m.fraction) + "\n\n")
	if m.err != nil {
		b.WriteString(styleError.Render("  "+m.err.Error()) + "\n")
	} else {
		b.WriteString(styleDim.Render("  "+m.stage) + "\n")
	}
	return b.String()
}

// Run drives a ProgressModel to completion, returning the last fatal error
// observed on the stream, if any.
func Run(label string, ch <-chan events.Event) error {
	m := NewProgressModel(label, ch)
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return err
	}
	if pm, ok := final.(ProgressModel); ok {
		return pm.err
	}
	return nil
}
