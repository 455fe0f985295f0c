package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Feed carries session output to the UI. Push and Typing never block, so
// they are safe to use as dialogue.Config OnMessage and OnTyping hooks.
type Feed struct {
	mu      sync.Mutex
	pending []protocol.Message
	typing  bool
	wake    chan struct{}
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{wake: make(chan struct{}, 1)}
}

// Push queues a message for display.
func (f *Feed) Push(m protocol.Message) {
	f.mu.Lock()
	f.pending = append(f.pending, m)
	f.typing = false
	f.mu.Unlock()
	f.signal()
}

// Typing shows the typing indicator until the next message.
func (f *Feed) Typing() {
	f.mu.Lock()
	f.typing = true
	f.mu.Unlock()
	f.signal()
}

func (f *Feed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) drain() ([]protocol.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out, f.typing
}

type feedMsg struct {
	messages []protocol.Message
	typing   bool
}

// wait returns a command that resolves on the next feed activity.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		<-f.wake
		msgs, typing := f.drain()
		return feedMsg{messages: msgs, typing: typing}
	}
}
