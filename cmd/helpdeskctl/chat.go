package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/config"
	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/internal/helpdesk"
	"github.com/h1v3-io/helpdesk/internal/knowledge"
	"github.com/h1v3-io/helpdesk/internal/submit"
	"github.com/h1v3-io/helpdesk/internal/tui"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		configPath string
		username   string
		fullName   string
		logFile    string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long: `chat runs a conversation locally against the configured helpdesk backend.
Tickets are filed for real, so point it at a test backend when experimenting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// The terminal belongs to the UI; logs go to a file or nowhere.
			logger := slog.New(slog.DiscardHandler)
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}

			if username == "" {
				username = currentUser()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			feed := tui.NewFeed()
			sess := dialogue.NewSession(sessionConfig(cfg, logger, protocol.User{Username: username, FullName: fullName}, feed))
			defer sess.Close()
			if err := sess.Start(ctx); err != nil {
				// The session shows the failure itself.
				logger.Error("knowledge base load failed", "error", err)
			}
			return tui.Run(ctx, tui.New(ctx, sess, feed, nil))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config JSON file (default: HELPDESK_* environment)")
	cmd.Flags().StringVarP(&username, "user", "u", "", "helpdesk username (default: current OS user)")
	cmd.Flags().StringVar(&fullName, "name", "", "full name used in the greeting")
	cmd.Flags().StringVar(&logFile, "log", "", "write debug logs to this file")
	return cmd
}

func sessionConfig(cfg *config.Config, logger *slog.Logger, u protocol.User, feed *tui.Feed) dialogue.Config {
	httpClient := &http.Client{Timeout: cfg.Helpdesk.Timeout.Duration}
	client := helpdesk.NewClient(cfg.Helpdesk.BaseURL,
		helpdesk.WithHTTPClient(httpClient),
		helpdesk.WithCredentials(cfg.Helpdesk.Auth.Credentials()),
		helpdesk.WithLogger(logger),
	)
	policy := cfg.Attachments.Policy()
	return dialogue.Config{
		User:   u,
		Loader: knowledge.New(cfg.Helpdesk.KnowledgeBase, httpClient),
		Submitter: &submit.Pipeline{
			API:         client,
			Store:       client,
			Policy:      policy,
			Concurrency: cfg.Helpdesk.UploadConcurrency,
			Logger:      logger,
		},
		Attachments: attachment.NewManager(policy),
		Delays:      cfg.Delays.Delays(),
		OnMessage:   feed.Push,
		OnTyping:    feed.Typing,
		Logger:      logger,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return filepath.Base(u.Username)
	}
	return envOr("USER", "user")
}
