// Package cli implements the pulse command tree. Commands are thin: they
// load config, wire the app runtime, and render results; all session and
// channel behavior lives in the internal packages.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/app"
	"pulse/cmd/internal/session"
)

var (
	flagConfig   string
	flagBaseURL  string
	flagLogLevel string
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Client for the Pulse monitoring backend",
	Long: `pulse talks to a Pulse monitoring backend: it keeps a signed-in
session on disk, confirms it against the server on startup, and follows
live service updates and alerts over a self-healing WebSocket channel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the command tree under ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "TOML config file")
	pf.StringVar(&flagBaseURL, "base-url", "", "backend REST base URL (overrides config)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON instead of pretty lines")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, watchCmd, statusCmd)
}

// newRuntime builds the wired app from config plus flag overrides. The
// caller owns Close.
func newRuntime() (*app.App, error) {
	cfg, err := app.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagJSONLogs {
		cfg.LogFormat = "json"
	}

	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return app.New(cfg, log)
}

// waitForSettled blocks until the hydrated session reaches a terminal
// authentication verdict: either confirmed or signed out. The pending
// states only exist while the startup confirmation request is in flight.
func waitForSettled(ctx context.Context, sess *session.Controller, timeout time.Duration) (session.State, error) {
	deadline := time.Now().Add(timeout)
	for {
		st := sess.State()
		if st == session.Unauthenticated || st == session.AuthenticatedConfirmed {
			return st, nil
		}
		if time.Now().After(deadline) {
			return st, fmt.Errorf("session did not settle within %s (state=%s)", timeout, st)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
