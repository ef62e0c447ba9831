package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/plugterm/internal/app"
	"github.com/vovakirdan/plugterm/internal/config"
	"github.com/vovakirdan/plugterm/internal/core"
	"github.com/vovakirdan/plugterm/internal/log"
)

func init() {
	// Query the terminal background before bubbletea owns stdin, otherwise
	// the OSC 11 reply can leak into the input box.
	_ = lipgloss.HasDarkBackground()
}

// stderrLogPath sends logs to stderr instead of a file.
const stderrLogPath = "-"

type rootFlags struct {
	configPath string
	overrides  config.Config
}

func newRootCmd(code *int) *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "plugterm",
		Short:         "Terminal client for the Plugify chat service",
		Version:       app.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.run(cmd.Context(), code, func(ctx context.Context, a *app.App) (int, error) {
				return a.RunTUI(ctx, tea.WithAltScreen())
			})
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default: <user config dir>/plugterm/config.yaml)")
	pf.StringVar(&flags.overrides.GatewayURL, "gateway", "", "gateway websocket url")
	pf.StringVar(&flags.overrides.APIBase, "api", "", "REST API base url")
	pf.StringVarP(&flags.overrides.TokenPath, "token", "t", "", "path of the file holding the credential token")
	pf.DurationVar(&flags.overrides.HeartbeatInterval, "heartbeat", 0, "heartbeat interval")
	pf.StringVar(&flags.overrides.CommandPrefix, "prefix", "", "command prefix")
	pf.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	pf.StringVar(&flags.overrides.LogPath, "log-file", "", `log file, "-" for stderr`)

	cmd.AddCommand(newPlainCmd(flags, code), newVersionCmd())
	return cmd
}

// load resolves the configuration: defaults, file, environment, then flags.
func (f *rootFlags) load() (config.Config, error) {
	boot := log.New("warn", os.Stderr)
	cfg, path, err := config.Load(boot, f.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(f.overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// run builds the client and hands it to mode, recording the exit code.
func (f *rootFlags) run(ctx context.Context, code *int, mode func(context.Context, *app.App) (int, error)) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}

	logger, closer, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	*code, err = mode(ctx, a)
	logger.Info().Int("exit_code", *code).Dur("uptime", time.Since(started)).Msg("plugterm exiting")
	if *code == core.ExitOK {
		return nil
	}
	return err
}

func openLogger(cfg config.Config) (*zerolog.Logger, io.Closer, error) {
	if cfg.LogPath == stderrLogPath || cfg.LogPath == "" {
		return log.New(cfg.LogLevel, os.Stderr), io.NopCloser(nil), nil
	}
	f, err := log.OpenFile(cfg.LogPath)
	if err != nil {
		return nil, nil, err
	}
	return log.New(cfg.LogLevel, f), f, nil
}
