package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/helpdesk/internal/helpdesk"
)

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Work with configuration files",
	}
	c.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file, or the HELPDESK_* environment without a path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := loadConfig(path); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	})
	return c
}

func healthCmd() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon health, or the ticket backend with --backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if backend != "" {
				return pingBackend(ctx, cmd, backend)
			}
			body, err := apiGet(ctx, "/api/health")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "config file whose helpdesk backend to ping (\"env\" for HELPDESK_*)")
	return cmd
}

func pingBackend(ctx context.Context, cmd *cobra.Command, path string) error {
	if path == "env" {
		path = ""
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	client := helpdesk.NewClient(cfg.Helpdesk.BaseURL, helpdesk.WithCredentials(cfg.Helpdesk.Auth.Credentials()))
	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("backend %s: %w", cfg.Helpdesk.BaseURL, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backend %s answered in %s\n", cfg.Helpdesk.BaseURL, time.Since(start).Round(time.Millisecond))
	return nil
}

func apiGet(ctx context.Context, path string) ([]byte, error) {
	url := envOr("HELPDESK_API_URL", "http://localhost:8080") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if key := envOr("HELPDESK_API_KEY", ""); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}
