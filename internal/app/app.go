// Package app wires configuration, transport, session, dispatcher and UI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/plugterm/internal/api"
	"github.com/vovakirdan/plugterm/internal/auth"
	"github.com/vovakirdan/plugterm/internal/config"
	"github.com/vovakirdan/plugterm/internal/core"
	"github.com/vovakirdan/plugterm/internal/dispatch"
	"github.com/vovakirdan/plugterm/internal/transport/ws"
	"github.com/vovakirdan/plugterm/internal/tui"
)

// Version is stamped at build time.
var Version = "dev"

// UserAgent identifies the client to the gateway and the REST API.
func UserAgent() string {
	return "plugterm/" + Version
}

// App is one client run: a single gateway session and its controls.
type App struct {
	cfg        config.Config
	session    *core.Session
	dispatcher *dispatch.Dispatcher
	log        *zerolog.Logger
}

// New loads the credential and builds every component. Nothing connects
// until a Run method is called.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	token, err := auth.LoadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	checkToken(token, logger)

	header := http.Header{}
	header.Set("User-Agent", UserAgent())
	dialer := ws.Dialer{URL: cfg.GatewayURL, Header: header}

	state := core.NewState()
	session := core.NewSession(dialer, state, core.Options{
		Token:             token,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	})

	client := api.New(cfg.APIBase, token, &http.Client{Timeout: cfg.RequestTimeout}, logger)
	dispatcher := dispatch.New(session, client, state, dispatch.Options{
		CommandPrefix:  cfg.CommandPrefix,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	logger.Info().
		Str("gateway", cfg.GatewayURL).
		Str("api", cfg.APIBase).
		Dur("heartbeat", cfg.HeartbeatInterval).
		Msg("client configured")

	return &App{
		cfg:        cfg,
		session:    session,
		dispatcher: dispatcher,
		log:        logger,
	}, nil
}

// checkToken logs what can be learnt from the credential. The server is
// the only judge of validity, so nothing here is fatal.
func checkToken(token string, logger *zerolog.Logger) {
	info, err := auth.Inspect(token)
	if err != nil {
		logger.Debug().Err(err).Msg("token is opaque")
		return
	}
	if info.Expired(time.Now()) {
		logger.Warn().Time("expires_at", info.ExpiresAt).Str("username", info.Username).Msg("token looks expired")
		return
	}
	logger.Debug().Str("username", info.Username).Str("issuer", info.Issuer).Msg("token inspected")
}

// RunTUI runs the session under the terminal UI until either ends and
// returns the process exit code.
func (a *App) RunTUI(ctx context.Context, opts ...tea.ProgramOption) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(ctx, a.session.Events(), a.dispatcher)
	program := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	var (
		g          errgroup.Group
		sessionErr error
	)
	g.Go(func() error {
		sessionErr = a.session.Run(ctx)
		program.Quit()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("run ui: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return core.ExitFatal, err
	}
	return core.ExitCode(sessionErr), sessionErr
}
