package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Config holds webhook connector configuration.
type Config struct {
	// Endpoints maps endpoint names (the last path segment) to their settings.
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint webhook configuration.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256
	// header). Outbound replies are signed with it too.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
	// ReplyURL receives bot messages for chats on this endpoint.
	ReplyURL string `json:"reply_url,omitempty"`
}

// Payload is the JSON body of an inbound webhook request. Exactly one of
// Content or Action is expected.
type Payload struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	ChatID     string `json:"chat_id"`
	Content    string `json:"content,omitempty"`
	Action     string `json:"action,omitempty"`
}

// Reply is the JSON body posted to an endpoint's ReplyURL.
type Reply struct {
	ChatID  string            `json:"chat_id"`
	Content string            `json:"content"`
	Buttons []protocol.Button `json:"buttons,omitempty"`
}

// Handler receives webhook requests and delivers replies. It implements
// connector.Connector; Start only waits, the HTTP side is mounted by the
// API server.
type Handler struct {
	config  Config
	handler connector.InboundHandler
	client  *http.Client
	logger  *slog.Logger
	cancel  context.CancelFunc
}

var _ connector.Connector = (*Handler)(nil)

// New creates a new webhook handler.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (h *Handler) Name() string { return "webhook" }

// Start blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// Stop gracefully shuts down the connector.
func (h *Handler) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// Send posts a bot message to the reply URL of the chat's endpoint. Chat
// ids have the form "<endpoint>:<chat>".
func (h *Handler) Send(ctx context.Context, msg connector.OutboundMessage) error {
	name, chat, ok := strings.Cut(msg.ChatID, ":")
	if !ok {
		return fmt.Errorf("webhook: invalid chat_id %q", msg.ChatID)
	}
	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		return fmt.Errorf("webhook: unknown endpoint %q", name)
	}
	if endpoint.ReplyURL == "" {
		h.logger.Debug("no reply url, dropping message", "endpoint", name)
		return nil
	}

	body, err := json.Marshal(Reply{ChatID: chat, Content: msg.Content, Buttons: msg.Buttons})
	if err != nil {
		return fmt.Errorf("webhook: marshal reply: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.ReplyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build reply: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case endpoint.Secret != "":
		req.Header.Set("X-Hub-Signature-256", ComputeSignature(body, endpoint.Secret))
	case endpoint.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+endpoint.BearerToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post reply: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: reply status %d", resp.StatusCode)
	}
	return nil
}

// ServeHTTP handles webhook requests at /api/webhook/{name}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := extractName(r.URL.Path)
	if name == "" {
		http.Error(w, "missing endpoint name in path", http.StatusBadRequest)
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown webhook endpoint: %s", name), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !authenticate(r, endpoint, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.Content == "" && payload.Action == "" {
		http.Error(w, "content or action is required", http.StatusBadRequest)
		return
	}

	inbound := connector.InboundMessage{
		Channel:    "webhook",
		SenderID:   payload.SenderID,
		SenderName: payload.SenderName,
		ChatID:     name + ":" + payload.ChatID,
		Content:    payload.Content,
		Action:     payload.Action,
	}
	if payload.SenderID == "" {
		inbound.SenderID = name
	}
	if payload.ChatID == "" {
		inbound.ChatID = name + ":" + inbound.SenderID
	}

	if err := h.handler(r.Context(), inbound); err != nil {
		h.logger.Error("webhook handler error",
			"endpoint", name,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "chat_id": inbound.ChatID})
}

func authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}
	if endpoint.BearerToken != "" {
		return r.Header.Get("Authorization") == "Bearer "+endpoint.BearerToken
	}
	// No auth configured: allowed for development.
	return true
}

// verifyHMAC checks a "sha256=<hex>" signature.
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	return path[strings.LastIndex(path, "/")+1:]
}

// ComputeSignature generates the HMAC-SHA256 signature header value for body.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
