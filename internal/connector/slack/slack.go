package slackconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken    string   // xoxb-... Bot User OAuth Token
	AppToken    string   // xapp-... App-Level Token (for Socket Mode)
	Channels    []string // Optional: only respond in these channels (empty = all)
	MaxFileSize int64    // Download cap for shared files (0 = attachment.DefaultMaxSize)
}

// Connector implements connector.Connector for Slack via Socket Mode.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

var _ connector.Connector = (*Connector)(nil)

// New creates a new Slack connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts a message to the channel part of the chat id. Buttons are
// rendered as one Block Kit actions block whose button values are action
// tokens.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	channel, _ := SplitChatID(msg.ChatID)
	text := MarkdownToMrkdwn(msg.Content)

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if blocks := Blocks(text, msg.Buttons); len(blocks) > 1 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	if _, _, err := c.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeInteractive:
				c.handleInteraction(ctx, event)
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		c.handleMessage(ctx, ev)
	case *slackevents.AppMentionEvent:
		c.handleMention(ctx, ev)
	case *slackevents.FileSharedEvent:
		c.handleFileShared(ctx, ev)
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own)
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID {
		return
	}
	// Edits, deletes and file shares arrive as subtypes; files come
	// separately as file_shared events.
	if ev.SubType != "" || !c.isAllowedChannel(ev.Channel) || ev.Text == "" {
		return
	}

	c.forward(ctx, connector.InboundMessage{
		Channel:  "slack",
		SenderID: ev.User,
		ChatID:   JoinChatID(ev.Channel, ev.User),
		Content:  ev.Text,
	})
}

func (c *Connector) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == c.botID || !c.isAllowedChannel(ev.Channel) {
		return
	}

	text := StripMention(ev.Text, c.botID)
	if text == "" {
		return
	}

	c.forward(ctx, connector.InboundMessage{
		Channel:  "slack",
		SenderID: ev.User,
		ChatID:   JoinChatID(ev.Channel, ev.User),
		Content:  text,
	})
}

func (c *Connector) handleInteraction(ctx context.Context, event socketmode.Event) {
	cb, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action.Value == "" {
			continue
		}
		c.forward(ctx, connector.InboundMessage{
			Channel:    "slack",
			SenderID:   cb.User.ID,
			SenderName: cb.User.Name,
			ChatID:     JoinChatID(cb.Channel.ID, cb.User.ID),
			Action:     action.Value,
		})
	}
}

func (c *Connector) handleFileShared(ctx context.Context, ev *slackevents.FileSharedEvent) {
	if ev.UserID == c.botID || !c.isAllowedChannel(ev.ChannelID) {
		return
	}

	f, err := c.download(ctx, ev.FileID)
	if err != nil {
		c.logger.Error("slack file download failed",
			"file", ev.FileID,
			"user", ev.UserID,
			"error", err,
		)
		return
	}

	c.forward(ctx, connector.InboundMessage{
		Channel:  "slack",
		SenderID: ev.UserID,
		ChatID:   JoinChatID(ev.ChannelID, ev.UserID),
		Files:    []attachment.File{f},
	})
}

// download fetches a shared file with the bot token. Files above the cap
// are passed on with their size and no content so the upload policy can
// reject them.
func (c *Connector) download(ctx context.Context, fileID string) (attachment.File, error) {
	info, _, _, err := c.api.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		return attachment.File{}, fmt.Errorf("slack: file info: %w", err)
	}

	limit := c.config.MaxFileSize
	if limit <= 0 {
		limit = attachment.DefaultMaxSize
	}
	if int64(info.Size) > limit {
		return attachment.File{
			Name:     info.Name,
			MimeType: info.Mimetype,
			Size:     int64(info.Size),
			Open: func() (io.ReadCloser, error) {
				return nil, fmt.Errorf("slack: %s was not downloaded: too large", info.Name)
			},
		}, nil
	}

	url := info.URLPrivateDownload
	if url == "" {
		url = info.URLPrivate
	}
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, url, &buf); err != nil {
		return attachment.File{}, fmt.Errorf("slack: get file: %w", err)
	}
	return attachment.FromBytes(info.Name, info.Mimetype, buf.Bytes()), nil
}

func (c *Connector) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	// "/helpdesk new" is forwarded as "/new"; a bare command starts over.
	text := "/start"
	if args := strings.Fields(cmd.Text); len(args) > 0 {
		text = "/" + strings.Join(args, " ")
	}

	c.forward(ctx, connector.InboundMessage{
		Channel:    "slack",
		SenderID:   cmd.UserID,
		SenderName: cmd.UserName,
		ChatID:     JoinChatID(cmd.ChannelID, cmd.UserID),
		Content:    text,
	})
}

func (c *Connector) forward(ctx context.Context, inbound connector.InboundMessage) {
	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("slack inbound handler error",
			"chat_id", inbound.ChatID,
			"user", inbound.SenderID,
			"error", err,
		)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	return len(c.config.Channels) == 0 || slices.Contains(c.config.Channels, channel)
}

// Blocks renders a message as a section block followed by an actions
// block with one button per choice.
func Blocks(mrkdwn string, buttons []protocol.Button) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, mrkdwn, false, false), nil, nil),
	}
	if len(buttons) == 0 {
		return blocks
	}
	elements := make([]slack.BlockElement, 0, len(buttons))
	for i, b := range buttons {
		label := slack.NewTextBlockObject(slack.PlainTextType, b.Text, true, false)
		elements = append(elements, slack.NewButtonBlockElement("choice_"+strconv.Itoa(i), b.Action, label))
	}
	return append(blocks, slack.NewActionBlock("choices", elements...))
}

// JoinChatID scopes a chat to one user in one channel.
func JoinChatID(channel, user string) string {
	return channel + ":" + user
}

// SplitChatID reverses JoinChatID.
func SplitChatID(chatID string) (channel, user string) {
	channel, user, _ = strings.Cut(chatID, ":")
	return channel, user
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}
