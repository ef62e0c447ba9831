package sandbox

import (
	"sync/atomic"

	"github.com/vovakirdan/plugterm/internal/store"
)

const clientBuffer = 64

// Client is one gateway connection.
type Client struct {
	ID     string
	Frames chan []byte

	user    atomic.Pointer[store.User]
	limiter *rateLimiter

	// channel is guarded by the hub mutex.
	channel int64
}

// NewClient creates an unauthenticated client.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Frames: make(chan []byte, clientBuffer),
	}
}

// User returns the authenticated user, or nil.
func (c *Client) User() *store.User {
	return c.user.Load()
}

func (c *Client) setUser(u *store.User) {
	c.user.Store(u)
}

// enqueue queues a frame without blocking. Slow consumers lose frames.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.Frames <- payload:
		return true
	default:
		return false
	}
}
