// Package tui implements the full-screen chat interface.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/EscasanN/mcphost/internal/agent"
	"github.com/EscasanN/mcphost/internal/events"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	inputStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
)

// answerMsg carries the result of one conversation turn.
type answerMsg struct {
	text string
	err  error
}

// Model is the root chat model: a scrollback viewport over the
// conversation with a textarea prompt underneath.
type Model struct {
	loop *agent.Loop
	bus  *events.Bus
	ctx  context.Context

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model

	lines   []string
	busy    bool
	ready   bool
	width   int
	height  int
	eventCh chan events.Event
	unsub   func()
}

// NewModel creates the chat model over the given loop and bus.
func NewModel(ctx context.Context, loop *agent.Loop, bus *events.Bus) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask something, or type a tool request..."
	ta.Prompt = "> "
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		loop:    loop,
		bus:     bus,
		ctx:     ctx,
		input:   ta,
		spin:    sp,
		eventCh: make(chan events.Event, 100),
	}
	m.unsub = bus.Subscribe(func(e events.Event) {
		select {
		case m.eventCh <- e:
		default:
		}
	})
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.eventCh
	}
}

// submit runs one conversation turn off the UI goroutine.
func (m Model) submit(input string) tea.Cmd {
	return func() tea.Msg {
		text, err := m.loop.Run(m.ctx, input)
		return answerMsg{text: text, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		inputHeight := 5
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.input.SetWidth(msg.Width - 4)
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			input := strings.TrimSpace(m.input.Value())
			if input == "" {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.appendLine(userStyle.Render("you") + "  " + input)
			return m, tea.Batch(m.submit(input), m.spin.Tick)
		}

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.appendLine(errStyle.Render("error") + "  " + msg.err.Error())
		} else {
			m.appendLine(assistantStyle.Render("assistant") + "  " + msg.text)
		}
		m.appendLine("")

	case events.Event:
		m.appendEvent(msg)
		cmds = append(cmds, m.waitForEvent())

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) appendEvent(e events.Event) {
	switch e := e.(type) {
	case events.ToolCallStartedEvent:
		m.appendLine(toolStyle.Render("tool") + "  " + fmt.Sprintf("%s :: %s ...", e.SessionID(), e.Tool))
	case events.ToolCallFinishedEvent:
		status := "ok"
		if e.IsError {
			status = "error"
		}
		m.appendLine(toolStyle.Render("tool") + "  " + fmt.Sprintf("%s :: %s -> %s (%s)", e.SessionID(), e.Tool, status, e.Elapsed.Round(time.Millisecond)))
	case events.SessionStatusChangedEvent:
		m.appendLine(dimStyle.Render(fmt.Sprintf("[%s] %s", e.SessionID(), e.NewState)))
	case events.ErrorEvent:
		m.appendLine(errStyle.Render(fmt.Sprintf("[%s] %s: %v", e.SessionID(), e.Message, e.Err)))
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	prompt := m.input.View()
	if m.busy {
		prompt = m.spin.View() + " thinking..."
	}

	return m.viewport.View() + "\n" + inputStyle.Width(m.width-2).Render(prompt)
}

// Lines returns the rendered scrollback, for tests.
func (m Model) Lines() []string {
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

// Close drops the model's bus subscription. Callers run it after the
// program exits; the program may stop via context cancellation without
// the quit key path ever executing. Safe to call more than once.
func (m Model) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}
