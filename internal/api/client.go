// Package api is a small client for the Plugify REST side channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/plugterm/internal/log"
	"github.com/vovakirdan/plugterm/internal/proto"
	"github.com/vovakirdan/plugterm/internal/utils"
)

// Service error codes observed in response envelopes.
const (
	CodeUserNotFound   = 8
	CodeGroupNotFound  = 9
	CodeInviteNotFound = 13
)

const defaultTimeout = 15 * time.Second

// ErrMalformedResponse is returned when a response body is not a valid envelope.
var ErrMalformedResponse = errors.New("malformed api response")

// Error is a service-level failure reported through the envelope.
type Error struct {
	Op   string
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("api %s: error %d", e.Op, e.Code)
}

// CodeOf extracts the service error code from err, if any.
func CodeOf(err error) (int, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   int             `json:"error,omitempty"`
}

// Client calls the REST API with the user's token. It keeps no cache:
// every call is an independent request.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zerolog.Logger
}

// New returns a client for the API rooted at base (for example
// https://api.plugify.cf/v2/). A nil httpClient gets a default with a timeout.
func New(base, token string, httpClient *http.Client, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{base: base, token: token, http: httpClient, log: logger}
}

// CreateGroup creates a group and returns its id.
func (c *Client) CreateGroup(ctx context.Context, name string) (proto.ID, error) {
	var out struct {
		ID proto.ID `json:"id"`
	}
	if err := c.do(ctx, "create group", http.MethodPost, "groups/create", map[string]string{"name": name}, &out); err != nil {
		return proto.ID{}, err
	}
	if out.ID.IsZero() {
		return proto.ID{}, fmt.Errorf("create group: %w: missing id", ErrMalformedResponse)
	}
	return out.ID, nil
}

// GroupChannels fetches the channel list of a group.
func (c *Client) GroupChannels(ctx context.Context, groupID proto.ID) ([]proto.Channel, error) {
	var out struct {
		Channels []proto.Channel `json:"channels"`
	}
	body := map[string]proto.ID{"id": groupID}
	if err := c.do(ctx, "group info", http.MethodPost, "groups/info", body, &out); err != nil {
		return nil, err
	}
	if out.Channels == nil {
		return nil, fmt.Errorf("group info: %w: missing channels", ErrMalformedResponse)
	}
	return out.Channels, nil
}

// UseInvite redeems an invite code.
func (c *Client) UseInvite(ctx context.Context, code string) error {
	return c.do(ctx, "use invite", http.MethodPost, "invites/use", map[string]string{"id": code}, nil)
}

// UserInfo looks up a public profile by username.
func (c *Client) UserInfo(ctx context.Context, name string) (Profile, error) {
	var out Profile
	if err := c.do(ctx, "user info", http.MethodGet, "users/info/"+url.PathEscape(name), nil, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	endpoint := strings.TrimSuffix(c.base, "/") + "/" + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	requestID := utils.NewRequestID()
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	reqLog := c.log.With().Str("op", op).Str("request_id", requestID).Logger()
	reqLog.Debug().Str("method", method).Str("url", endpoint).Msg("api request")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		reqLog.Warn().Err(err).Int("status", resp.StatusCode).Msg("undecodable api response")
		return fmt.Errorf("%s: %w: status %d: %v", op, ErrMalformedResponse, resp.StatusCode, err)
	}
	if !env.Success {
		reqLog.Info().Int("code", env.Error).Msg("api error")
		return &Error{Op: op, Code: env.Error}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: %w: missing data", op, ErrMalformedResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	return nil
}
