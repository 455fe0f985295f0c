package connector

import (
	"context"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Connector bridges a chat platform to helpdesk sessions.
type Connector interface {
	// Name returns the connector identifier (e.g. "telegram").
	Name() string
	// Start begins receiving messages. It blocks until ctx is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers a bot message to a chat.
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a bot message rendered on the platform. Buttons are
// shown as tappable choices whose payload is the action token.
type OutboundMessage struct {
	ChatID  string
	Content string
	Buttons []protocol.Button
}

// InboundMessage is something a user did in a chat. Exactly one of
// Content, Action, Files or Clipboard is normally set.
type InboundMessage struct {
	Channel    string
	SenderID   string
	SenderName string
	ChatID     string
	Content    string
	// Action is the token of a pressed button.
	Action    string
	Files     []attachment.File
	Clipboard []attachment.ClipboardItem
}

// InboundHandler is called by connectors when a message arrives.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// Typer is implemented by connectors that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, chatID string) error
}
