package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "helpdeskctl",
	Short: "Helpdesk assistant management CLI",
	Long: `helpdeskctl talks to a running helpdeskd, checks knowledge bases and
configuration files, and runs the assistant locally in the terminal.

Environment:
  HELPDESK_API_URL   Daemon URL (default: http://localhost:8080)
  HELPDESK_API_KEY   API key for authentication`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(chatCmd(), kbCmd(), configCmd(), healthCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
