// Command sandbox runs a local chat server speaking the Plugify gateway
// protocol and REST API, for development and integration tests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/plugterm/internal/config"
	"github.com/vovakirdan/plugterm/internal/log"
	"github.com/vovakirdan/plugterm/internal/sandbox"
)

type options struct {
	configPath  string
	overrides   config.SandboxConfig
	logLevel    string
	issue       []string
	displayName string
	flags       int
	issueOnly   bool
	gateway     sandbox.GatewayOptions
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local Plugify compatible server",
		Long: `Run a local Plugify compatible server.

The gateway is served at / and the REST API under /v2/. Tokens for test
users are minted with --issue-token and printed one per line as
"<username> <token>" before the server starts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default: <user config dir>/plugterm/config.yaml)")
	f.StringVar(&opts.overrides.Addr, "addr", "", "HTTP listen address")
	f.StringVar(&opts.overrides.DBPath, "db", "", "sqlite database path")
	f.StringVar(&opts.overrides.JWTSecret, "secret", "", "token signing secret")
	f.DurationVar(&opts.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&opts.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	f.StringSliceVar(&opts.issue, "issue-token", nil, "mint a token for this username (repeatable)")
	f.StringVar(&opts.displayName, "display-name", "", "display name for issued users (default: the username)")
	f.IntVar(&opts.flags, "flags", 0, "profile flag bits for issued users")
	f.BoolVar(&opts.issueOnly, "issue-only", false, "exit after issuing tokens")
	f.BoolVar(&opts.gateway.DropHeartbeats, "drop-heartbeats", false, "never answer heartbeats")
	f.Int64Var(&opts.gateway.MaxMessageBytes, "max-message-bytes", 1<<20, "largest accepted gateway frame")
	f.IntVar(&opts.gateway.MessagesPerMinute, "messages-per-minute", 0, "chat messages allowed per connection and minute (0 = unlimited)")
	return cmd
}

func (o *options) run(cmd *cobra.Command) error {
	boot := log.New("warn", os.Stderr)
	cfg, _, err := config.Load(boot, o.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(config.Config{Sandbox: o.overrides, LogLevel: o.logLevel})

	logger := log.New(cfg.LogLevel, os.Stderr)
	srv, err := sandbox.New(cfg.Sandbox, o.gateway, logger)
	if err != nil {
		return err
	}

	for _, username := range o.issue {
		displayName := o.displayName
		if displayName == "" {
			displayName = username
		}
		token, err := srv.IssueToken(cmd.Context(), username, displayName, o.flags)
		if err != nil {
			srv.Close()
			return fmt.Errorf("issue token for %q: %w", username, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", username, token)
	}
	if o.issueOnly {
		if cfg.Sandbox.DBPath == ":memory:" {
			logger.Warn().Msg("tokens were issued against an in-memory database and will not be usable")
		}
		srv.Close()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", cfg.Sandbox.Addr).Msg("starting sandbox server")
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
