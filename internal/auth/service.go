package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vovakirdan/plugterm/internal/store"
)

var (
	// ErrInvalidToken is returned when a token fails validation or names an unknown user.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
)

// Usernames must be addressable by the <@name> mention syntax.
var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// Service issues and checks sandbox credentials.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// IssueToken creates (or refreshes) the user and returns a signed token for it.
func (s *Service) IssueToken(ctx context.Context, username, displayName string, flags int) (string, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}

	user, err := s.store.UpsertUser(ctx, username, strings.TrimSpace(displayName), flags)
	if err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.Username, user.DisplayName, user.Flags)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// Authenticate validates a token and returns the user it belongs to.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	user, err := s.store.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}
