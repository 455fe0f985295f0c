package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/h1v3-io/helpdesk/internal/api"
	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/chatlog"
	"github.com/h1v3-io/helpdesk/internal/config"
	"github.com/h1v3-io/helpdesk/internal/connector"
	slackconn "github.com/h1v3-io/helpdesk/internal/connector/slack"
	"github.com/h1v3-io/helpdesk/internal/connector/telegram"
	"github.com/h1v3-io/helpdesk/internal/connector/webhook"
	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/internal/helpdesk"
	"github.com/h1v3-io/helpdesk/internal/knowledge"
	"github.com/h1v3-io/helpdesk/internal/scheduler"
	"github.com/h1v3-io/helpdesk/internal/session"
	"github.com/h1v3-io/helpdesk/internal/submit"
)

func main() {
	configSrc := flag.String("config", os.Getenv("HELPDESK_CONFIG"), "Path or http(s) URL of the config JSON")
	configKey := flag.String("config-key", os.Getenv("HELPDESK_CONFIG_KEY"), "Bearer token for a remote config URL")
	dataDir := flag.String("data-dir", "", "Data directory, overrides the config's")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config: remote document, local file, or environment.
	var cfg *config.Config
	var err error
	switch src := *configSrc; {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		logger.Info("loading remote config", "url", src)
		cfg, err = config.LoadFromURL(config.RemoteOptions{URL: src, APIKey: *configKey, DataDir: *dataDir})
	case src != "":
		cfg, err = config.Load(src)
	default:
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Assistant.DataDir = *dataDir
	}

	logger.Info("helpdeskd starting", "backend", cfg.Helpdesk.BaseURL, "knowledge_base", cfg.Helpdesk.KnowledgeBase)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Backend client and submission pipeline
	httpClient := &http.Client{Timeout: cfg.Helpdesk.Timeout.Duration}
	client := helpdesk.NewClient(cfg.Helpdesk.BaseURL,
		helpdesk.WithHTTPClient(httpClient),
		helpdesk.WithCredentials(cfg.Helpdesk.Auth.Credentials()),
		helpdesk.WithLogger(logger.With("component", "helpdesk")),
	)
	policy := cfg.Attachments.Policy()
	pipeline := &submit.Pipeline{
		API:         client,
		Store:       client,
		Policy:      policy,
		Concurrency: cfg.Helpdesk.UploadConcurrency,
		Logger:      logger.With("component", "submit"),
	}

	// 2. Session template
	template := dialogue.Config{
		Loader:      knowledge.New(cfg.Helpdesk.KnowledgeBase, httpClient),
		Submitter:   pipeline,
		Attachments: attachment.NewManager(policy),
		Delays:      cfg.Delays.Delays(),
		Logger:      logger,
	}

	// 3. Chat log
	if path := cfg.Assistant.ChatLogPath(); path != "" {
		store, err := chatlog.NewSQLiteStore(path)
		if err != nil {
			logger.Error("failed to open chat log", "path", path, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		template.Recorder = store
		logger.Info("chat log enabled", "path", path)
	}

	sessions := session.NewManager(template, logger.With("component", "sessions"))
	router := session.NewRouter(sessions, logger)
	router.InboxSize = cfg.Sessions.InboxSize

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			safeGo(logger, name, func() {
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					logger.Error("component stopped", "name", name, "error", err)
				}
			})
		}()
	}
	run("router", router.Start)

	// 4. Housekeeping
	sched := scheduler.New(logger.With("component", "scheduler"))
	idle := cfg.Sessions.IdleTimeout.Duration
	if err := sched.Add("session-sweep", cfg.Sessions.SweepSchedule, func(context.Context) {
		sessions.Sweep(idle)
	}); err != nil {
		logger.Error("failed to schedule session sweep", "error", err)
		os.Exit(1)
	}
	run("scheduler", sched.Start)

	// 5. Connectors
	var connectors []connector.Connector
	if tc := cfg.Connectors.Telegram; tc != nil {
		conn, err := telegram.New(telegram.Config{
			Token:       tc.Token,
			AllowFrom:   tc.AllowFrom,
			MaxFileSize: policy.MaxSize,
		}, router.Handle, logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		connectors = append(connectors, conn)
	}
	if sc := cfg.Connectors.Slack; sc != nil {
		conn, err := slackconn.New(slackconn.Config{
			BotToken:    sc.BotToken,
			AppToken:    sc.AppToken,
			Channels:    sc.Channels,
			MaxFileSize: policy.MaxSize,
		}, router.Handle, logger.With("connector", "slack"))
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		connectors = append(connectors, conn)
	}
	var hook *webhook.Handler
	if wc := cfg.Connectors.Webhook; wc != nil {
		endpoints := make(map[string]webhook.EndpointConfig, len(wc.Endpoints))
		for name, ep := range wc.Endpoints {
			endpoints[name] = webhook.EndpointConfig{Secret: ep.Secret, BearerToken: ep.BearerToken, ReplyURL: ep.ReplyURL}
		}
		hook = webhook.New(webhook.Config{Endpoints: endpoints}, router.Handle, logger.With("connector", "webhook"))
		connectors = append(connectors, hook)
	}
	for _, c := range connectors {
		router.Register(c)
		run(c.Name(), c.Start)
		logger.Info("connector started", "connector", c.Name())
	}

	// 6. API server
	apiSrv := api.NewServer(sessions, api.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		Key:         cfg.API.Key,
		CORSOrigins: cfg.API.CORSOrigins,
		MaxUpload:   4 * policy.MaxSize,
	}, logger, chatlogStore(template.Recorder))
	if hook != nil {
		apiSrv.Mount("/api/webhook/", hook)
	}
	run("api-server", apiSrv.Start)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	for _, c := range connectors {
		if err := c.Stop(); err != nil {
			logger.Warn("connector stop failed", "connector", c.Name(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out")
	}
	sessions.CloseAll()
	logger.Info("helpdeskd stopped")
}

// chatlogStore exposes the recorder to the API when it can be queried.
func chatlogStore(r dialogue.Recorder) chatlog.Store {
	if s, ok := r.(chatlog.Store); ok {
		return s
	}
	return nil
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
