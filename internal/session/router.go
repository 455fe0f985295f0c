package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

const defaultInboxSize = 32

// ErrInboxFull is returned by Handle when a chat has too many unprocessed
// messages.
var ErrInboxFull = errors.New("session: inbox full")

const helpText = `**Helpdesk assistant**
/start - show the main menu
/new - start over with a fresh conversation
/files - list the files attached to your report
/remove <n> - remove attached file number n
/help - show this message

Use the buttons to move through the menus. When asked to describe your problem, send a message and attach any screenshots or files.`

// UserResolver maps a chat sender to the helpdesk user the ticket is filed for.
type UserResolver func(msg connector.InboundMessage) protocol.User

// Router feeds connector traffic into sessions. Each chat gets its own
// inbox worker so messages of one chat are handled in order while chats
// proceed independently. Bot messages go back through the connector the
// chat came from.
type Router struct {
	Sessions  *Manager
	Users     UserResolver
	InboxSize int
	Logger    *slog.Logger

	mu         sync.Mutex
	base       context.Context
	stopped    bool
	connectors map[string]connector.Connector
	chats      map[string]*chat
	wg         sync.WaitGroup
}

type chat struct {
	key    string
	chatID string
	conn   connector.Connector
	inbox  chan connector.InboundMessage
	out    *outbox
}

// NewRouter creates a Router over sessions. The router closes its chat
// worker when the manager removes the chat's session.
func NewRouter(sessions *Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		Sessions:   sessions,
		Users:      DefaultUser,
		Logger:     logger.With("component", "router"),
		base:       context.Background(),
		connectors: make(map[string]connector.Connector),
		chats:      make(map[string]*chat),
	}
	sessions.OnClosed = r.retire
	return r
}

// DefaultUser uses the platform sender id as the helpdesk username.
func DefaultUser(msg connector.InboundMessage) protocol.User {
	return protocol.User{Username: msg.SenderID, FullName: msg.SenderName}
}

// Register makes c the outbound path for messages whose Channel is c.Name().
func (r *Router) Register(c connector.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
}

// ChatKey is the session key of a connector chat.
func ChatKey(channel, chatID string) string {
	return channel + "/" + chatID
}

// Start sets the context chat workers run under and blocks until it is
// cancelled, then drains the workers.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()

	r.Logger.Info("router started")
	<-ctx.Done()

	r.mu.Lock()
	r.stopped = true
	for key, c := range r.chats {
		close(c.inbox)
		delete(r.chats, key)
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.Logger.Info("router stopped")
	return ctx.Err()
}

// Handle queues an inbound message for its chat. It implements
// connector.InboundHandler and never blocks on dialogue work.
func (r *Router) Handle(_ context.Context, msg connector.InboundMessage) error {
	key := ChatKey(msg.Channel, msg.ChatID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return errors.New("session: router stopped")
	}
	c, ok := r.chats[key]
	if !ok {
		conn, known := r.connectors[msg.Channel]
		if !known {
			return fmt.Errorf("session: no connector registered for %q", msg.Channel)
		}
		size := r.InboxSize
		if size <= 0 {
			size = defaultInboxSize
		}
		c = &chat{
			key:    key,
			chatID: msg.ChatID,
			conn:   conn,
			inbox:  make(chan connector.InboundMessage, size),
			out:    newOutbox(),
		}
		r.chats[key] = c
		r.wg.Add(2)
		go r.work(r.base, c)
		go r.deliver(r.base, c)
	}

	select {
	case c.inbox <- msg:
		return nil
	default:
		r.Logger.Warn("dropping message, inbox full", "chat_id", msg.ChatID, "channel", msg.Channel)
		return ErrInboxFull
	}
}

// retire stops the worker of a chat whose session was closed.
func (r *Router) retire(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[key]; ok {
		close(c.inbox)
		delete(r.chats, key)
	}
}

func (r *Router) work(ctx context.Context, c *chat) {
	defer r.wg.Done()
	defer c.out.close()

	for msg := range c.inbox {
		if ctx.Err() != nil {
			continue
		}
		r.handle(ctx, c, msg)
	}
}

func (r *Router) deliver(ctx context.Context, c *chat) {
	defer r.wg.Done()
	c.out.drain(ctx, func(m connector.OutboundMessage) {
		if err := c.conn.Send(ctx, m); err != nil {
			r.Logger.Error("send failed", "chat_id", c.chatID, "channel", c.conn.Name(), "error", err)
		}
	})
}

func (r *Router) identity(c *chat, msg connector.InboundMessage) Identity {
	id := Identity{
		User: r.Users(msg),
		OnMessage: func(m protocol.Message) {
			if m.Sender == protocol.SenderBot {
				c.out.push(connector.OutboundMessage{ChatID: c.chatID, Content: m.Text, Buttons: m.Buttons})
			}
		},
	}
	if typer, ok := c.conn.(connector.Typer); ok {
		id.OnTyping = func() {
			// Best effort; the indicator is cosmetic.
			go typer.Typing(context.Background(), c.chatID)
		}
	}
	return id
}

func (r *Router) reply(c *chat, text string) {
	c.out.push(connector.OutboundMessage{ChatID: c.chatID, Content: text})
}

func (r *Router) handle(ctx context.Context, c *chat, msg connector.InboundMessage) {
	logger := r.Logger.With("chat_id", c.chatID, "channel", msg.Channel)

	if cmd, arg, ok := command(msg.Content); ok {
		r.command(ctx, c, msg, cmd, arg)
		return
	}

	s, created, err := r.Sessions.Open(ctx, c.key, r.identity(c, msg))
	if err != nil {
		logger.Error("session start failed", "error", err)
		return
	}
	if created {
		// The greeting is the answer to whatever opened the chat.
		return
	}

	switch {
	case msg.Action != "":
		a, err := dialogue.ParseAction(msg.Action)
		if err != nil {
			logger.Warn("unknown action", "action", msg.Action, "error", err)
			return
		}
		r.dispatch(ctx, s, a, logger)

	case len(msg.Files) > 0:
		list, err := s.Attach(ctx, msg.Files...)
		if err != nil {
			r.reply(c, attachError(err))
			return
		}
		r.reply(c, attachedText(list[len(list)-len(msg.Files):], len(list)))

	case len(msg.Clipboard) > 0:
		var (
			f    attachment.File
			list []attachment.File
		)
		for _, item := range msg.Clipboard {
			if f, err = s.AttachClipboard(ctx, item); err != nil {
				r.reply(c, attachError(err))
				return
			}
			list = append(list, f)
		}
		r.reply(c, attachedText(list, len(s.Attachments())))

	case strings.TrimSpace(msg.Content) != "":
		r.dispatch(ctx, s, dialogue.Text{Body: msg.Content}, logger)
	}
}

func (r *Router) dispatch(ctx context.Context, s *dialogue.Session, ev dialogue.Event, logger *slog.Logger) {
	if _, err := s.Dispatch(ctx, ev); err != nil {
		logger.Warn("dispatch failed", "error", err)
	}
}

func (r *Router) command(ctx context.Context, c *chat, msg connector.InboundMessage, cmd, arg string) {
	switch cmd {
	case "help":
		r.reply(c, helpText)

	case "new":
		if _, err := r.Sessions.Reset(ctx, c.key, r.identity(c, msg)); err != nil {
			r.Logger.Error("session reset failed", "chat_id", c.chatID, "error", err)
		}

	case "start":
		s, created, err := r.Sessions.Open(ctx, c.key, r.identity(c, msg))
		if err != nil || created {
			return
		}
		r.dispatch(ctx, s, dialogue.Action{Kind: dialogue.ActMainMenu}, r.Logger)

	case "files":
		s, ok := r.Sessions.Get(c.key)
		if !ok {
			r.reply(c, filesText(nil))
			return
		}
		r.reply(c, filesText(s.Attachments()))

	case "remove":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 1 {
			r.reply(c, "Usage: /remove <n>, where n is the number shown by /files.")
			return
		}
		s, ok := r.Sessions.Get(c.key)
		if !ok {
			r.reply(c, filesText(nil))
			return
		}
		list, err := s.Detach(ctx, n-1)
		if err != nil {
			r.reply(c, attachError(err))
			return
		}
		r.reply(c, filesText(list))

	default:
		r.reply(c, "Unknown command. Send /help to see what I understand.")
	}
}

// command splits "/remove 2" into ("remove", "2"). Telegram-style
// "@botname" suffixes are dropped.
func command(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, arg, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(arg), true
}

func attachError(err error) string {
	var verr *attachment.ValidationError
	switch {
	case errors.As(err, &verr):
		return "⚠️ " + verr.Filename + ": " + verr.Reason
	case errors.Is(err, dialogue.ErrAttachmentsClosed):
		return "Files can only be attached while you describe your problem."
	case errors.Is(err, dialogue.ErrClosed):
		return "This conversation has ended. Send /new to start again."
	}
	return "⚠️ " + err.Error()
}

func attachedText(added []attachment.File, total int) string {
	names := make([]string, len(added))
	for i, f := range added {
		names[i] = f.Name
	}
	return fmt.Sprintf("📎 Attached %s (%d file(s) in total)", strings.Join(names, ", "), total)
}

func filesText(files []attachment.File) string {
	if len(files) == 0 {
		return "No files attached."
	}
	var b strings.Builder
	b.WriteString("📎 **Attached files:**")
	for i, f := range files {
		fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, f.Name, humanSize(f.Size))
	}
	return b.String()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
