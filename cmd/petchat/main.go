// Command petchat is a terminal client for petbnb conversations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/chatclient"
	applog "github.com/yuhueng/petbnb-pwa-sub001/internal/logger"
)

var version = "0.1.0"

type settings struct {
	APIURL    string `env:"PETCHAT_API_URL" envDefault:"http://localhost:8080"`
	Token     string `env:"PETCHAT_TOKEN"`
	TokenFile string `env:"PETCHAT_TOKEN_FILE"`
	LogLevel  string `env:"PETCHAT_LOG_LEVEL" envDefault:"warn"`
}

var (
	cfg     settings
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "petchat",
	Short: "Chat with owners and sitters from the terminal",
	Long: `petchat talks to a petbnb API server.

Examples:
  petchat login --email olivia@example.com
  petchat conversations --role owner
  petchat chat 42 --attach ./rex.png`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadSettings(cmd)
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(chatCmd)

	rootCmd.PersistentFlags().String("api", "", "API base URL (default $PETCHAT_API_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func loadSettings(cmd *cobra.Command) error {
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if api, _ := cmd.Flags().GetString("api"); api != "" {
		cfg.APIURL = api
	}
	if cfg.TokenFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		cfg.TokenFile = filepath.Join(dir, "petchat", "token")
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return nil
}

func newLogger() zerolog.Logger {
	return applog.New(applog.Options{Level: cfg.LogLevel, Pretty: true, Output: os.Stderr})
}

// newClient builds an API client carrying the saved token, if any.
func newClient(log zerolog.Logger) *chatclient.Client {
	client := chatclient.New(cfg.APIURL, log)
	token := cfg.Token
	if token == "" {
		if data, err := os.ReadFile(cfg.TokenFile); err == nil {
			token = strings.TrimSpace(string(data))
		}
	}
	client.SetToken(token)
	return client
}

func saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(cfg.TokenFile), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(cfg.TokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}
