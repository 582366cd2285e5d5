package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/scriptbridge/bridge"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	scriptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	reasonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// scriptRunner is the part of server.Client the TUI uses.
type scriptRunner interface {
	RunScript(ctx context.Context, script string) (string, error)
}

type modelState int

const (
	stateEdit modelState = iota
	stateRunning
	stateShowResult
)

type attempt struct {
	script  string
	result  string
	err     error
	elapsed time.Duration
}

type interactiveModel struct {
	client  scriptRunner
	addr    string
	timeout time.Duration
	editor  textarea.Model
	runs    []attempt
	recall  int
	state   modelState
}

type runResultMsg struct {
	attempt attempt
}

func newInteractiveModel(client scriptRunner, addr string, timeout time.Duration) *interactiveModel {
	ed := textarea.New()
	ed.Placeholder = "GetPlayerCount()"
	ed.ShowLineNumbers = false
	ed.SetWidth(72)
	ed.SetHeight(6)
	ed.Focus()
	return &interactiveModel{
		client:  client,
		addr:    addr,
		timeout: timeout,
		editor:  ed,
		state:   stateEdit,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *interactiveModel) runScript(script string) tea.Cmd {
	client, timeout := m.client, m.timeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		result, err := client.RunScript(ctx, script)
		return runResultMsg{attempt: attempt{script: script, result: result, err: err, elapsed: time.Since(start)}}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "ctrl+r":
			if m.state != stateEdit {
				return m, nil
			}
			script := strings.TrimSpace(m.editor.Value())
			if script == "" {
				return m, nil
			}
			m.state = stateRunning
			return m, m.runScript(script)

		case "ctrl+p":
			if m.state == stateEdit && m.recall < len(m.runs) {
				m.recall++
				m.editor.SetValue(m.runs[len(m.runs)-m.recall].script)
			}
			return m, nil

		case "ctrl+n":
			if m.state == stateEdit && m.recall > 0 {
				m.recall--
				if m.recall == 0 {
					m.editor.Reset()
				} else {
					m.editor.SetValue(m.runs[len(m.runs)-m.recall].script)
				}
			}
			return m, nil

		case "esc", "enter":
			if m.state == stateShowResult {
				m.state = stateEdit
				m.editor.Focus()
				return m, nil
			}
		}

	case runResultMsg:
		m.runs = append(m.runs, msg.attempt)
		m.recall = 0
		m.state = stateShowResult
		if msg.attempt.err == nil {
			m.editor.Reset()
		}
		return m, nil
	}

	if m.state == stateEdit {
		var cmd tea.Cmd
		m.editor, cmd = m.editor.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Script Bridge"))
	b.WriteString(" ")
	b.WriteString(m.addr)
	b.WriteString("\n\n")

	start := len(m.runs) - 5
	if start < 0 {
		start = 0
	}
	for _, r := range m.runs[start:] {
		b.WriteString(scriptStyle.Render("> " + oneLine(r.script)))
		b.WriteString("\n  ")
		b.WriteString(formatOutcome(r))
		b.WriteString("\n")
	}
	if len(m.runs) > 0 {
		b.WriteString("\n")
	}

	switch m.state {
	case stateEdit:
		b.WriteString(m.editor.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("ctrl+r run • ctrl+p/ctrl+n recall • ctrl+c quit"))

	case stateRunning:
		b.WriteString("Waiting for the host to execute the script...")
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("ctrl+c quit"))

	case stateShowResult:
		b.WriteString(helpStyle.Render("enter continue • ctrl+c quit"))
	}

	return b.String()
}

func formatOutcome(r attempt) string {
	elapsed := helpStyle.Render(fmt.Sprintf(" (%s)", r.elapsed.Round(time.Millisecond)))
	if r.err != nil {
		reason := bridge.ReasonOf(r.err)
		return errorStyle.Render("Error: "+r.err.Error()) + " " + reasonStyle.Render(reason.String()) + elapsed
	}
	return resultStyle.Render(r.result) + elapsed
}

func runInteractive(client scriptRunner, addr string, timeout time.Duration) error {
	p := tea.NewProgram(newInteractiveModel(client, addr, timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
