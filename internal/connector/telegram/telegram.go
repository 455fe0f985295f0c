package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token       string  // Bot token from @BotFather
	AllowFrom   []int64 // Allowed Telegram user IDs (empty = allow all)
	MaxFileSize int64   // Download cap for documents and photos (0 = attachment.DefaultMaxSize)
}

// Connector implements the connector.Connector interface for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

var (
	_ connector.Connector = (*Connector)(nil)
	_ connector.Typer     = (*Connector)(nil)
)

// New creates a new Telegram connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				c.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				c.handleMessage(ctx, update.Message)
			}

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Telegram chat. Buttons become an inline
// keyboard, one button per row, carrying the action token as callback data.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}

	if strings.TrimSpace(msg.Content) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, MarkdownToTelegramHTML(msg.Content))
	tgMsg.ParseMode = tgbotapi.ModeHTML
	tgMsg.DisableWebPagePreview = true
	if markup, ok := keyboard(msg); ok {
		tgMsg.ReplyMarkup = markup
	}

	if _, err = c.bot.Send(tgMsg); err != nil {
		c.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", msg.ChatID,
			"error", err,
		)
		tgMsg.Text = StripMarkdown(msg.Content)
		tgMsg.ParseMode = ""
		_, err = c.bot.Send(tgMsg)
	}
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Typing shows the "typing…" chat action.
func (c *Connector) Typing(_ context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", chatID, err)
	}
	_, err = c.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}

// keyboard builds the inline keyboard for a message. Telegram caps
// callback data at 64 bytes; longer tokens are dropped.
func keyboard(msg connector.OutboundMessage) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range msg.Buttons {
		if len(b.Action) > 64 {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Action),
		))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func (c *Connector) allowed(user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	if len(c.config.AllowFrom) > 0 && !slices.Contains(c.config.AllowFrom, user.ID) {
		c.logger.Warn("unauthorized user", "user_id", user.ID, "username", user.UserName)
		return false
	}
	return true
}

func (c *Connector) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	// Answer first so the client stops its spinner even if handling fails.
	if _, err := c.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		c.logger.Debug("answer callback failed", "error", err)
	}
	if !c.allowed(q.From) || q.Message == nil || q.Data == "" {
		return
	}
	inbound := c.inbound(q.From, q.Message.Chat.ID)
	inbound.Action = q.Data
	c.forward(ctx, inbound)
}

func (c *Connector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !c.allowed(msg.From) {
		return
	}
	chatID := msg.Chat.ID
	inbound := c.inbound(msg.From, chatID)

	switch {
	case msg.IsCommand():
		inbound.Content = "/" + msg.Command()
		if args := msg.CommandArguments(); args != "" {
			inbound.Content += " " + args
		}

	case msg.Document != nil:
		f, err := c.documentFile(ctx, msg.Document)
		if err != nil {
			c.logger.Error("document download failed", "chat_id", chatID, "error", err)
			c.bot.Send(tgbotapi.NewMessage(chatID, "Sorry, I couldn't download that file."))
			return
		}
		inbound.Files = []attachment.File{f}

	case len(msg.Photo) > 0:
		item, err := c.photoItem(ctx, msg.Photo)
		if err != nil {
			c.logger.Error("photo download failed", "chat_id", chatID, "error", err)
			c.bot.Send(tgbotapi.NewMessage(chatID, "Sorry, I couldn't download that image."))
			return
		}
		inbound.Clipboard = []attachment.ClipboardItem{item}

	default:
		inbound.Content = msg.Text
	}

	c.forward(ctx, inbound)

	// A caption on a photo or document is the user's description.
	if msg.Caption != "" && (inbound.Files != nil || inbound.Clipboard != nil) {
		caption := c.inbound(msg.From, chatID)
		caption.Content = msg.Caption
		c.forward(ctx, caption)
	}
}

func (c *Connector) inbound(from *tgbotapi.User, chatID int64) connector.InboundMessage {
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return connector.InboundMessage{
		Channel:    "telegram",
		SenderID:   strconv.FormatInt(from.ID, 10),
		SenderName: name,
		ChatID:     strconv.FormatInt(chatID, 10),
	}
}

func (c *Connector) forward(ctx context.Context, msg connector.InboundMessage) {
	if msg.Content == "" && msg.Action == "" && msg.Files == nil && msg.Clipboard == nil {
		return
	}
	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("inbound handler error",
			"chat_id", msg.ChatID,
			"error", err,
		)
	}
}
