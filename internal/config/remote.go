package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// RemoteOptions holds parameters for fetching config from a central
// configuration service.
type RemoteOptions struct {
	URL     string // full URL of the config document
	APIKey  string // sent as a bearer token when set
	DataDir string // local data directory, overrides the document's
	Client  *http.Client
}

// LoadFromURL fetches the configuration document, points it at the local
// data directory (creating it) and validates it.
func LoadFromURL(opts RemoteOptions) (*Config, error) {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequest(http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("config: remote: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config: remote: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("config: remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config: remote: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var cfg Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("config: remote: parse: %w", err)
	}

	if opts.DataDir != "" {
		cfg.Assistant.DataDir = opts.DataDir
	}
	if cfg.Assistant.DataDir != "" {
		if err := os.MkdirAll(cfg.Assistant.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("config: remote: create data dir: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: remote: %w", err)
	}
	return &cfg, nil
}
