package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	client    *Client
)

var rootCmd = &cobra.Command{
	Use:          "facectl",
	Short:        "Administer enrolled faces on a facedoor server",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if serverURL == "" {
			serverURL = os.Getenv("FACEDOOR_SERVER_URL")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8000"
		}
		if apiKey == "" {
			apiKey = os.Getenv("FACEDOOR_API_KEY")
		}
		client = NewClient(serverURL, apiKey)
		return nil
	},
}

func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "facedoor API base URL (default $FACEDOOR_SERVER_URL or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $FACEDOOR_API_KEY)")
}
