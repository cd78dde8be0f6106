package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-demo/core"
	"github.com/koscakluka/ema-demo/core/events"
	"github.com/muesli/reflow/wordwrap"
)

const (
	historyLimit = 500
	// header, input and help lines around the transcript
	chromeHeight = 4
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe"))
	stateStyle = map[string]lipgloss.Style{
		string(orchestration.StateRunning):        lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
		string(orchestration.StatePausedForInput): lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c")),
		string(orchestration.StateStopped):        lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")),
	}
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f3f3ff"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce"))
	detourStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#ffb86c"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3d8"))
)

type eventMsg struct{ event events.Event }

type sessionDoneMsg struct{ summary orchestration.SessionSummary }

type tuiModel struct {
	session sessionControl
	feed    <-chan events.Event
	done    <-chan orchestration.SessionSummary

	spinner    spinner.Model
	transcript viewport.Model
	input      textinput.Model

	lines    []string
	width    int
	state    string
	phase    string
	speaking bool

	finished bool
	summary  orchestration.SessionSummary
}

func newTUIModel(session sessionControl, feed <-chan events.Event, done <-chan orchestration.SessionSummary) tuiModel {
	input := textinput.New()
	input.Placeholder = `type instead of speaking, or /pause /resume /stop`
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	return tuiModel{
		session:    session,
		feed:       feed,
		done:       done,
		spinner:    sp,
		transcript: viewport.New(0, 0),
		input:      input,
		state:      string(orchestration.StateIdle),
	}
}

func waitForSession(feed <-chan events.Event, done <-chan orchestration.SessionSummary) tea.Cmd {
	return func() tea.Msg {
		select {
		case event := <-feed:
			return eventMsg{event: event}
		case summary := <-done:
			return sessionDoneMsg{summary: summary}
		}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, waitForSession(m.feed, m.done))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.render()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.session.Stop()
			return m, nil
		case tea.KeyEnter:
			m.submit(m.input.Value())
			m.input.Reset()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}

	case eventMsg:
		m.apply(msg.event)
		return m, waitForSession(m.feed, m.done)

	case sessionDoneMsg:
		m.finished = true
		m.summary = msg.summary
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *tuiModel) submit(value string) {
	text := strings.TrimSpace(value)
	switch text {
	case "":
	case "/pause":
		m.session.Pause()
	case "/resume":
		m.session.Resume()
	case "/stop":
		m.session.Stop()
	default:
		m.session.SendTranscript(text)
	}
}

func (m *tuiModel) apply(event events.Event) {
	switch e := event.(type) {
	case events.SessionStateChanged:
		m.state = e.To
	case events.SessionStopped:
		m.state = string(orchestration.StateStopped)
	case events.LoopPhaseChanged:
		m.phase = e.Phase
	case events.LoopFinished:
		m.phase = ""
	case events.AssistantSpeechStarted:
		m.speaking = true
	case events.AssistantSpeechEnded:
		m.speaking = false
	}

	line := describe(event)
	if line == "" {
		return
	}
	switch event.Kind().Namespace() {
	case "assistant_speech":
		line = assistantStyle.Render(line)
	case "user_input":
		line = userStyle.Render(line)
	case "detour":
		line = detourStyle.Render(line)
	default:
		line = mutedStyle.Render(line)
	}

	m.lines = append(m.lines, line)
	if len(m.lines) > historyLimit {
		m.lines = m.lines[len(m.lines)-historyLimit:]
	}
	m.render()
}

func (m *tuiModel) render() {
	content := strings.Join(m.lines, "\n")
	if m.width > 0 {
		content = wordwrap.String(content, m.width)
	}
	m.transcript.SetContent(content)
	m.transcript.GotoBottom()
}

func (m tuiModel) View() string {
	style, ok := stateStyle[m.state]
	if !ok {
		style = mutedStyle
	}
	status := style.Render(m.state)
	if m.phase != "" && m.state == string(orchestration.StateRunning) {
		status += mutedStyle.Render(" / " + m.phase)
	}
	if m.speaking {
		status += " " + m.spinner.View() + assistantStyle.Render("speaking")
	}

	header := fmt.Sprintf("%s  %s", titleStyle.Render("ema-demo"), status)
	help := mutedStyle.Render("enter send · pgup/pgdn scroll · ctrl+c stop")
	return strings.Join([]string{header, m.transcript.View(), m.input.View(), help}, "\n")
}

// runTUI shows the session until it ends. Closing the view early stops the
// session.
func runTUI(session sessionControl, feed <-chan events.Event, done <-chan orchestration.SessionSummary) (orchestration.SessionSummary, error) {
	final, err := tea.NewProgram(newTUIModel(session, feed, done), tea.WithAltScreen()).Run()
	if err != nil {
		session.Stop()
		return <-done, fmt.Errorf("failed to run terminal view: %w", err)
	}

	if m, ok := final.(tuiModel); ok && m.finished {
		return m.summary, nil
	}
	session.Stop()
	return <-done, nil
}
