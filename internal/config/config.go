package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/internal/helpdesk"
)

// Config is the top-level helpdesk configuration.
type Config struct {
	Assistant   AssistantConfig   `json:"assistant"`
	Helpdesk    HelpdeskConfig    `json:"helpdesk"`
	Attachments AttachmentsConfig `json:"attachments"`
	Delays      DelaysConfig      `json:"delays"`
	Sessions    SessionsConfig    `json:"sessions"`
	Connectors  ConnectorConfig   `json:"connectors"`
	API         APIConfig         `json:"api"`
}

// AssistantConfig holds daemon-level settings.
type AssistantConfig struct {
	DataDir string `json:"data_dir"`
	// ChatLog is the SQLite audit log path, relative to DataDir. "off"
	// disables the log.
	ChatLog string `json:"chat_log,omitempty"`
}

// ChatLogPath resolves the chat log location; empty means disabled.
func (a AssistantConfig) ChatLogPath() string {
	switch a.ChatLog {
	case "off":
		return ""
	case "":
		return filepath.Join(a.DataDir, "chatlog.db")
	}
	if filepath.IsAbs(a.ChatLog) {
		return a.ChatLog
	}
	return filepath.Join(a.DataDir, a.ChatLog)
}

// HelpdeskConfig points at the ticket backend.
type HelpdeskConfig struct {
	BaseURL string `json:"base_url"`
	// KnowledgeBase is an http(s) URL or a local .json/.yaml file.
	KnowledgeBase     string     `json:"knowledge_base"`
	Auth              AuthConfig `json:"auth"`
	Timeout           Duration   `json:"timeout,omitempty"`
	// UploadConcurrency caps simultaneous file uploads; 0 uploads all at once.
	UploadConcurrency int `json:"upload_concurrency,omitempty"`
}

// AuthConfig selects how requests to the backend authenticate.
type AuthConfig struct {
	Scheme        string `json:"scheme"` // "none" (default), "bearer" or "cookie"
	Token         string `json:"token,omitempty"`
	SessionCookie string `json:"session_cookie,omitempty"`
	CSRFToken     string `json:"csrf_token,omitempty"`
}

// Credentials builds the request authenticator for the configured scheme.
func (a AuthConfig) Credentials() helpdesk.Credentials {
	switch a.Scheme {
	case "bearer":
		return helpdesk.Bearer{Token: a.Token}
	case "cookie":
		cookies := []*http.Cookie{{Name: "sessionid", Value: a.SessionCookie}}
		if a.CSRFToken != "" {
			cookies = append(cookies, &http.Cookie{Name: "csrftoken", Value: a.CSRFToken})
		}
		return helpdesk.CookieSession{Cookies: cookies, CSRFToken: a.CSRFToken}
	}
	return helpdesk.None{}
}

// AttachmentsConfig overrides the upload policy.
type AttachmentsConfig struct {
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
	MaxSizeMB         int      `json:"max_size_mb,omitempty"`
	StrictEntry       bool     `json:"strict_entry,omitempty"`
}

// Policy returns the attachment policy with defaults for unset fields.
func (a AttachmentsConfig) Policy() attachment.Policy {
	p := attachment.DefaultPolicy()
	if len(a.AllowedExtensions) > 0 {
		p.AllowedExtensions = a.AllowedExtensions
	}
	if a.MaxSizeMB > 0 {
		p.MaxSize = int64(a.MaxSizeMB) << 20
	}
	p.StrictEntry = a.StrictEntry
	return p
}

// DelaysConfig overrides conversational pacing. Unset values keep their
// defaults; "0s" disables a pause.
type DelaysConfig struct {
	Thinking      *Duration `json:"thinking,omitempty"`
	Notice        *Duration `json:"notice,omitempty"`
	Welcome       *Duration `json:"welcome,omitempty"`
	AfterSolved   *Duration `json:"after_solved,omitempty"`
	AfterSummary  *Duration `json:"after_summary,omitempty"`
	AfterFailure  *Duration `json:"after_failure,omitempty"`
	AdminFallback *Duration `json:"admin_fallback,omitempty"`
}

// Delays merges the overrides into dialogue.DefaultDelays.
func (d DelaysConfig) Delays() dialogue.Delays {
	out := dialogue.DefaultDelays()
	set := func(dst *time.Duration, v *Duration) {
		if v != nil {
			*dst = v.Duration
		}
	}
	set(&out.Thinking, d.Thinking)
	set(&out.Notice, d.Notice)
	set(&out.Welcome, d.Welcome)
	set(&out.AfterSolved, d.AfterSolved)
	set(&out.AfterSummary, d.AfterSummary)
	set(&out.AfterFailure, d.AfterFailure)
	set(&out.AdminFallback, d.AdminFallback)
	return out
}

// SessionsConfig controls chat session lifetime.
type SessionsConfig struct {
	IdleTimeout   Duration `json:"idle_timeout,omitempty"`
	SweepSchedule string   `json:"sweep_schedule,omitempty"`
	InboxSize     int      `json:"inbox_size,omitempty"`
}

// ConnectorConfig holds settings for external platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string   `json:"bot_token"`
	AppToken string   `json:"app_token"`
	Channels []string `json:"channels,omitempty"`
}

// WebhookConfig holds the signed HTTP endpoints.
type WebhookConfig struct {
	Endpoints map[string]WebhookEndpoint `json:"endpoints"`
}

// WebhookEndpoint holds per-endpoint webhook settings.
type WebhookEndpoint struct {
	Secret      string `json:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
	ReplyURL    string `json:"reply_url,omitempty"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Key         string   `json:"api_key"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// Addr returns the listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from HELPDESK_ environment variables. A .env
// file in the working directory is read first; real environment variables
// take precedence over it.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}

	cfg := &Config{
		Assistant: AssistantConfig{
			DataDir: getenv("HELPDESK_DATA_DIR", "/data"),
			ChatLog: os.Getenv("HELPDESK_CHAT_LOG"),
		},
		Helpdesk: HelpdeskConfig{
			BaseURL:       os.Getenv("HELPDESK_API_BASE_URL"),
			KnowledgeBase: os.Getenv("HELPDESK_KNOWLEDGE_BASE"),
			Auth: AuthConfig{
				Scheme:        getenv("HELPDESK_AUTH_SCHEME", "none"),
				Token:         os.Getenv("HELPDESK_AUTH_TOKEN"),
				SessionCookie: os.Getenv("HELPDESK_SESSION_COOKIE"),
				CSRFToken:     os.Getenv("HELPDESK_CSRF_TOKEN"),
			},
			UploadConcurrency: getenvInt("HELPDESK_UPLOAD_CONCURRENCY", 0),
		},
		Attachments: AttachmentsConfig{
			MaxSizeMB:   getenvInt("HELPDESK_MAX_UPLOAD_MB", 0),
			StrictEntry: os.Getenv("HELPDESK_STRICT_ATTACHMENTS") == "true",
		},
		Sessions: SessionsConfig{
			SweepSchedule: os.Getenv("HELPDESK_SWEEP_SCHEDULE"),
		},
		API: APIConfig{
			Host: getenv("HELPDESK_API_HOST", "0.0.0.0"),
			Port: getenvInt("HELPDESK_API_PORT", 8080),
			Key:  os.Getenv("HELPDESK_API_KEY"),
		},
	}

	var err error
	if cfg.Helpdesk.Timeout, err = getenvDuration("HELPDESK_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.Sessions.IdleTimeout, err = getenvDuration("HELPDESK_IDLE_TIMEOUT"); err != nil {
		return nil, err
	}
	if exts := os.Getenv("HELPDESK_ALLOWED_EXTENSIONS"); exts != "" {
		cfg.Attachments.AllowedExtensions = splitList(exts)
	}
	if origins := os.Getenv("HELPDESK_CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	if token := os.Getenv("HELPDESK_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("HELPDESK_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: HELPDESK_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	if bot := os.Getenv("HELPDESK_SLACK_BOT_TOKEN"); bot != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: bot,
			AppToken: os.Getenv("HELPDESK_SLACK_APP_TOKEN"),
			Channels: splitList(os.Getenv("HELPDESK_SLACK_CHANNELS")),
		}
	}

	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Helpdesk.Auth.Scheme == "" {
		c.Helpdesk.Auth.Scheme = "none"
	}
	if c.Helpdesk.Timeout.Duration == 0 {
		c.Helpdesk.Timeout.Duration = 30 * time.Second
	}
	if c.Sessions.IdleTimeout.Duration == 0 {
		c.Sessions.IdleTimeout.Duration = 30 * time.Minute
	}
	if c.Sessions.SweepSchedule == "" {
		c.Sessions.SweepSchedule = "@every 10m"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Assistant.DataDir == "" && c.Assistant.ChatLog != "off" && !filepath.IsAbs(c.Assistant.ChatLog) {
		errs = append(errs, "assistant.data_dir is required unless chat_log is \"off\" or absolute")
	}

	if c.Helpdesk.BaseURL == "" {
		errs = append(errs, "helpdesk.base_url is required")
	} else if !isHTTPURL(c.Helpdesk.BaseURL) {
		errs = append(errs, fmt.Sprintf("helpdesk.base_url %q is not an http(s) URL", c.Helpdesk.BaseURL))
	}
	if c.Helpdesk.KnowledgeBase == "" {
		errs = append(errs, "helpdesk.knowledge_base is required")
	}
	switch a := c.Helpdesk.Auth; a.Scheme {
	case "none":
	case "bearer":
		if a.Token == "" {
			errs = append(errs, "helpdesk.auth.token is required for the bearer scheme")
		}
	case "cookie":
		if a.SessionCookie == "" {
			errs = append(errs, "helpdesk.auth.session_cookie is required for the cookie scheme")
		}
	default:
		errs = append(errs, fmt.Sprintf("helpdesk.auth.scheme %q must be none, bearer or cookie", a.Scheme))
	}
	if c.Helpdesk.UploadConcurrency < 0 {
		errs = append(errs, "helpdesk.upload_concurrency must not be negative")
	}

	if c.Attachments.MaxSizeMB < 0 {
		errs = append(errs, "attachments.max_size_mb must not be negative")
	}
	for i, ext := range c.Attachments.AllowedExtensions {
		if ext == "" || strings.ContainsAny(ext, "./ ") {
			errs = append(errs, fmt.Sprintf("attachments.allowed_extensions[%d] %q must be a bare extension like \"pdf\"", i, ext))
		}
	}

	if c.Sessions.IdleTimeout.Duration < 0 {
		errs = append(errs, "sessions.idle_timeout must not be negative")
	}
	if _, err := cron.ParseStandard(c.Sessions.SweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("sessions.sweep_schedule %q: %v", c.Sessions.SweepSchedule, err))
	}

	if t := c.Connectors.Telegram; t != nil && t.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if s := c.Connectors.Slack; s != nil {
		if s.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if s.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}
	if w := c.Connectors.Webhook; w != nil {
		for name, ep := range w.Endpoints {
			if name == "" || strings.ContainsAny(name, "/: ") {
				errs = append(errs, fmt.Sprintf("connectors.webhook.endpoints %q is not a valid name", name))
			}
			if ep.ReplyURL != "" && !isHTTPURL(ep.ReplyURL) {
				errs = append(errs, fmt.Sprintf("connectors.webhook.endpoints.%s.reply_url is not an http(s) URL", name))
			}
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string) (Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return Duration{}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Duration{}, fmt.Errorf("config: %s: %w", key, err)
	}
	return Duration{d}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64List(s string) ([]int64, error) {
	parts := splitList(s)
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
