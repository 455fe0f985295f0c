// Package tui is a terminal chat client for a local assistant session.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Session is the part of dialogue.Session the client drives.
type Session interface {
	Dispatch(ctx context.Context, ev dialogue.Event) ([]protocol.Message, error)
	Attach(ctx context.Context, files ...attachment.File) ([]attachment.File, error)
	Detach(ctx context.Context, i int) ([]attachment.File, error)
	Attachments() []attachment.File
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	botStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	buttonStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const helpLine = "number or action to choose · /attach <path> · /files · /detach <n> · /quit"

// Model is the Bubble Tea model of the chat client.
type Model struct {
	ctx      context.Context
	session  Session
	feed     *Feed
	title    string
	renderer *glamour.TermRenderer

	input    textinput.Model
	viewport viewport.Model
	ready    bool

	messages []protocol.Message
	buttons  []protocol.Button
	typing   bool
	busy     bool
	status   string
	failed   bool
}

// New creates a model over session. Messages the session appended before
// the program starts are passed in initial; later ones arrive through feed.
func New(ctx context.Context, session Session, feed *Feed, initial []protocol.Message) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a number, a message or /help"
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	m := Model{
		ctx:      ctx,
		session:  session,
		feed:     feed,
		title:    "Helpdesk assistant",
		input:    ti,
		viewport: viewport.New(80, 20),
	}
	m.append(initial)
	return m
}

// WithRenderer sets the Markdown renderer for bot messages. Without one,
// messages are shown as plain text.
func (m Model) WithRenderer(r *glamour.TermRenderer) Model {
	m.renderer = r
	return m
}

// Run starts the program on the terminal and blocks until the user quits.
func Run(ctx context.Context, m Model) error {
	if m.renderer == nil {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(78))
		if err == nil {
			m.renderer = r
		}
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

type dispatchedMsg struct{ err error }

type attachedMsg struct {
	files []attachment.File
	note  string
	err   error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.feed.wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - 6 - len(m.buttons)
		if height < 3 {
			height = 3
		}
		m.viewport.Width = msg.Width
		m.viewport.Height = height
		m.input.Width = msg.Width - 4
		m.ready = true
		m.refresh()

	case feedMsg:
		m.typing = msg.typing
		m.append(msg.messages)
		m.refresh()
		cmds = append(cmds, m.feed.wait())

	case dispatchedMsg:
		m.busy = false
		if msg.err != nil {
			m.status, m.failed = msg.err.Error(), true
		}

	case attachedMsg:
		m.busy = false
		if msg.err != nil {
			m.status, m.failed = msg.err.Error(), true
		} else {
			m.status, m.failed = msg.note, false
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m.submit(line)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit interprets one line of input.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	m.status, m.failed = "", false

	if strings.HasPrefix(line, "/") {
		cmd, arg, _ := strings.Cut(line, " ")
		return m.command(cmd, strings.TrimSpace(arg))
	}

	var ev dialogue.Event = dialogue.Text{Body: line}
	if a, ok := m.choice(line); ok {
		ev = a
	}
	cmd := m.dispatch(ev)
	return m, cmd
}

// choice resolves a button by its 1-based number or its action token.
func (m Model) choice(line string) (dialogue.Action, bool) {
	if n, err := strconv.Atoi(line); err == nil {
		if n < 1 || n > len(m.buttons) {
			return dialogue.Action{}, false
		}
		a, err := dialogue.ParseAction(m.buttons[n-1].Action)
		return a, err == nil
	}
	for _, b := range m.buttons {
		if b.Action == line {
			a, err := dialogue.ParseAction(line)
			return a, err == nil
		}
	}
	return dialogue.Action{}, false
}

func (m Model) command(cmd, arg string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.status = helpLine
	case "/files":
		m.status = filesLine(m.session.Attachments())
	case "/attach":
		if arg == "" {
			m.status, m.failed = "usage: /attach <path>", true
			return m, nil
		}
		cmd := m.attach(arg)
		return m, cmd
	case "/detach":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			m.status, m.failed = "usage: /detach <n>", true
			return m, nil
		}
		cmd := m.detach(n - 1)
		return m, cmd
	case "/menu":
		cmd := m.dispatch(dialogue.Action{Kind: dialogue.ActMainMenu})
		return m, cmd
	default:
		m.status, m.failed = "unknown command "+cmd, true
	}
	return m, nil
}

func (m *Model) dispatchCmd(fn func() tea.Msg) tea.Cmd {
	m.busy = true
	return fn
}

func (m *Model) dispatch(ev dialogue.Event) tea.Cmd {
	ctx, s := m.ctx, m.session
	return m.dispatchCmd(func() tea.Msg {
		_, err := s.Dispatch(ctx, ev)
		return dispatchedMsg{err: err}
	})
}

func (m *Model) attach(path string) tea.Cmd {
	ctx, s := m.ctx, m.session
	return m.dispatchCmd(func() tea.Msg {
		f, err := attachment.FromPath(path)
		if err != nil {
			return attachedMsg{err: err}
		}
		list, err := s.Attach(ctx, f)
		if err != nil {
			return attachedMsg{err: err}
		}
		return attachedMsg{files: list, note: fmt.Sprintf("attached %s (%d file(s))", f.Name, len(list))}
	})
}

func (m *Model) detach(i int) tea.Cmd {
	ctx, s := m.ctx, m.session
	return m.dispatchCmd(func() tea.Msg {
		list, err := s.Detach(ctx, i)
		if err != nil {
			return attachedMsg{err: err}
		}
		return attachedMsg{files: list, note: filesLine(list)}
	})
}

func (m *Model) append(msgs []protocol.Message) {
	for _, msg := range msgs {
		m.messages = append(m.messages, msg)
		if msg.Sender == protocol.SenderBot {
			// Only the latest bot message's buttons are live.
			m.buttons = msg.Buttons
		}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		if msg.Sender == protocol.SenderUser {
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(msg.Text + "\n\n")
			continue
		}
		sb.WriteString(botStyle.Render("Helpdesk") + "\n")
		sb.WriteString(m.markdown(msg.Text) + "\n")
	}
	return sb.String()
}

func (m Model) markdown(text string) string {
	if m.renderer == nil {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "\n")
	if m.ready {
		b.WriteString(m.viewport.View() + "\n")
	} else {
		b.WriteString(m.renderHistory())
	}

	for i, btn := range m.buttons {
		b.WriteString(buttonStyle.Render(fmt.Sprintf("[%d] %s", i+1, btn.Text)) + "\n")
	}

	switch {
	case m.typing || m.busy:
		b.WriteString(statusStyle.Render("Helpdesk is typing…") + "\n")
	case m.failed:
		b.WriteString(errorStyle.Render(m.status) + "\n")
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status) + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}

func filesLine(files []attachment.File) string {
	if len(files) == 0 {
		return "no files attached"
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = fmt.Sprintf("%d. %s", i+1, f.Name)
	}
	return "attached: " + strings.Join(names, ", ")
}
