// Package sandbox is a local stand-in for the chat service: a websocket
// gateway and the REST API backed by sqlite.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plugterm/internal/auth"
	"github.com/vovakirdan/plugterm/internal/config"
	"github.com/vovakirdan/plugterm/internal/store"
	"github.com/vovakirdan/plugterm/internal/store/sqlite"
)

const (
	tokenIssuer   = "plugterm-sandbox"
	tokenAudience = "plugterm"
	tokenTTL      = 30 * 24 * time.Hour
)

// JWTConfig returns the token settings used by a sandbox with secret.
func JWTConfig(secret string) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(secret),
		Issuer:   tokenIssuer,
		Audience: tokenAudience,
		TTL:      tokenTTL,
	}
}

// NewRouter builds the gin engine serving the gateway at / and the REST API under /v2.
func NewRouter(st store.Store, authService *auth.Service, hub *Hub, opts GatewayOptions, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/", gin.WrapH(NewGateway(st, authService, hub, opts, logger)))

	rest := NewRESTHandlers(st, hub, logger)
	v2 := router.Group("/v2")
	v2.Use(AuthMiddleware(authService, logger))
	{
		v2.POST("/groups/create", rest.CreateGroup)
		v2.POST("/groups/info", rest.GroupInfo)
		v2.POST("/invites/create", rest.CreateInvite)
		v2.POST("/invites/use", rest.UseInvite)
		v2.GET("/users/info/:name", rest.UserInfo)
	}
	return router
}

// Server owns the sandbox store and HTTP server.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
	auth            *auth.Service
	store           store.Store
	log             *zerolog.Logger
}

// New opens the store and builds the HTTP server.
func New(cfg config.SandboxConfig, opts GatewayOptions, logger *zerolog.Logger) (*Server, error) {
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DBPath).Msg("database initialized")

	authService := auth.NewService(st, JWTConfig(cfg.JWTSecret))
	router := NewRouter(st, authService, NewHub(), opts, logger)

	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		auth:            authService,
		store:           st,
		log:             logger,
	}, nil
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Store returns the backing store, used to seed data.
func (s *Server) Store() store.Store {
	return s.store
}

// IssueToken creates the user if needed and returns a token for it.
func (s *Server) IssueToken(ctx context.Context, username, displayName string, flags int) (string, error) {
	return s.auth.IssueToken(ctx, username, displayName, flags)
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		s.Close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down sandbox server")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.Close()
			return err
		}

		s.Close()
		return <-serverErr
	}
}

// Close releases the store.
func (s *Server) Close() {
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close store")
		return
	}
	s.log.Info().Msg("store closed")
}
