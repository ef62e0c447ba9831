package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyToken is returned when the credential file holds no token.
var ErrEmptyToken = errors.New("token file is empty")

// LoadToken reads the credential once at startup. Surrounding whitespace,
// such as the trailing newline left by editors, is not part of the token.
func LoadToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyToken)
	}
	return token, nil
}
