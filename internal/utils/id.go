package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewRequestID returns a correlation id for an outgoing REST request.
func NewRequestID() string {
	return uuid.NewString()
}

// NewID returns a short best-effort unique identifier used for sandbox
// invite codes and entity ids.
func NewID() string {
	const size = 8

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
