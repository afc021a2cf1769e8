package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
	"github.com/PaulBabatuyi/marketchat/internal/logging"
)

var (
	version = "dev"

	serverURL string
	email     string
	password  string
	pollEvery time.Duration
	logLevel  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Terminal client for marketplace conversations",
	Long: `chat talks to the marketplace conversation API. Buyers open a chat
about a product or shop with "widget"; vendors answer from "inbox".

Sessions live only as long as the process, so pass --email and --password
to the command that needs them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	defaultURL := os.Getenv("MARKETCHAT_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL, "API base URL (env MARKETCHAT_URL)")
	rootCmd.PersistentFlags().StringVarP(&email, "email", "e", "", "account email")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "account password")
	rootCmd.PersistentFlags().DurationVar(&pollEvery, "poll", 0, "poll interval (default 5s for widget, 10s for inbox)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func newLogger() *slog.Logger {
	return logging.New(os.Stderr, logLevel, "text")
}

func newClient(logger *slog.Logger) (*chatsync.Client, error) {
	return chatsync.NewClient(chatsync.ClientConfig{BaseURL: serverURL, Logger: logger})
}

// loggedIn returns a client with a session for --email/--password.
func loggedIn(ctx context.Context, logger *slog.Logger) (*chatsync.Client, *chatsync.Viewer, error) {
	if email == "" || password == "" {
		return nil, nil, fmt.Errorf("--email and --password are required")
	}
	client, err := newClient(logger)
	if err != nil {
		return nil, nil, err
	}
	viewer, err := client.Login(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	return client, viewer, nil
}
