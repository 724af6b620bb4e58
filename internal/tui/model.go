// Package tui is the interactive chat surface over an answering session.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/filingchat/cli/internal/chat"
	"github.com/filingchat/cli/internal/llm"
)

type bindDoneMsg struct{ err error }

type tokenMsg llm.StreamToken

type streamClosedMsg struct{}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	engine   *chat.Engine
	input    textinput.Model
	viewport viewport.Model
	ctx      context.Context

	transcript strings.Builder
	pending    string
	stream     <-chan llm.StreamToken
	status     string
	ready      bool
	bound      bool
	answering  bool
}

// New creates a chat model over an unbound engine.
func New(ctx context.Context, engine *chat.Engine) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the indexed filings"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		engine:   engine,
		input:    ti,
		viewport: vp,
		ctx:      ctx,
		status:   "Connecting...",
	}
}

// Init starts the cursor blink and binds the session in the background.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.bind())
}

func (m Model) bind() tea.Cmd {
	return func() tea.Msg {
		return bindDoneMsg{err: m.engine.Bind(m.ctx)}
	}
}

// waitForToken reads one token from the active answer stream.
func waitForToken(stream <-chan llm.StreamToken) tea.Cmd {
	return func() tea.Msg {
		token, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return tokenMsg(token)
	}
}

// Update handles key, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ch := chatBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + ih + 1 // header, input frame, status
		vh := msg.Height - reserved - ch
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width)
		m.viewport.Height = vh
		m.refresh()
		return m, nil

	case bindDoneMsg:
		if msg.err != nil {
			m.status = "Startup failed: " + msg.err.Error() + " (press enter to retry)"
			return m, nil
		}
		m.bound = true
		m.status = "Ready. Ask a question."
		return m, nil

	case tokenMsg:
		if msg.Err != nil {
			m.status = "Error: " + msg.Err.Error()
		}
		m.pending += msg.Content
		m.refresh()
		return m, waitForToken(m.stream)

	case streamClosedMsg:
		m.transcript.WriteString(m.pending + "\n\n")
		m.pending = ""
		m.answering = false
		m.stream = nil
		if m.status == "Thinking..." || strings.HasPrefix(m.status, "Answering") {
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.engine.Close()
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if !m.bound {
				m.status = "Connecting..."
				return m, m.bind()
			}
			if m.answering {
				return m, nil
			}
			question := strings.TrimSpace(m.input.Value())
			if question == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.transcript.WriteString(userStyle.Render("You: ") + question + "\n\n")
			m.transcript.WriteString(assistantStyle.Render("Analyst: "))

			stream, err := m.engine.Ask(m.ctx, question)
			if err != nil {
				m.transcript.WriteString(errorStyle.Render(err.Error()) + "\n\n")
				m.status = "Error: " + err.Error()
				m.refresh()
				return m, nil
			}
			m.stream = stream
			m.answering = true
			m.status = "Thinking..."
			m.refresh()
			return m, waitForToken(stream)
		case "up":
			m.viewport.LineUp(3)
			return m, nil
		case "down":
			m.viewport.LineDown(3)
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript.String() + m.pending)
	m.viewport.GotoBottom()
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("FilingChat")
	body := chatBoxStyle.Width(m.viewport.Width - 2).Render(m.viewport.View())
	input := inputBoxStyle.Width(m.viewport.Width - 2).Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + body + "\n" + input + "\n" + status
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	chatBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

