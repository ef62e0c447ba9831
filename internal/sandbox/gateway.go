package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plugterm/internal/auth"
	"github.com/vovakirdan/plugterm/internal/proto"
	"github.com/vovakirdan/plugterm/internal/store"
	"github.com/vovakirdan/plugterm/internal/utils"
)

// HistoryLimit is the number of messages replayed on join.
const HistoryLimit = 50

var errAuthFailed = errors.New("authentication failed")

// JoinErrorData is the payload of a join error frame.
type JoinErrorData struct {
	Message string `json:"message"`
}

// GatewayOptions tune the gateway behaviour.
type GatewayOptions struct {
	// DropHeartbeats stops the gateway from echoing heartbeats.
	DropHeartbeats bool
	// MaxMessageBytes caps inbound frames. Zero keeps the library default.
	MaxMessageBytes int64
	// MessagesPerMinute throttles chat per connection. Zero disables it.
	MessagesPerMinute int
}

// Gateway upgrades HTTP connections and serves the realtime protocol.
type Gateway struct {
	store store.Store
	auth  *auth.Service
	hub   *Hub
	opts  GatewayOptions
	log   *zerolog.Logger
}

// NewGateway builds a gateway handler.
func NewGateway(st store.Store, authService *auth.Service, hub *Hub, opts GatewayOptions, logger *zerolog.Logger) *Gateway {
	return &Gateway{store: st, auth: authService, hub: hub, opts: opts, log: logger}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if g.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(g.opts.MaxMessageBytes)
	}

	client := NewClient(utils.NewID())
	client.limiter = newRateLimiter(g.opts.MessagesPerMinute, time.Minute)
	defer g.hub.Unregister(client)
	log := g.log.With().Str("client_id", client.ID).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("gateway connection opened")

	g.send(client, proto.EventHello, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- g.readLoop(ctx, conn, client, &log)
	}()
	go func() {
		errCh <- g.writeLoop(ctx, conn, client, &log)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errAuthFailed):
		status = websocket.StatusPolicyViolation
		reason = errAuthFailed.Error()
	case err != nil && !peerClosed(err):
		status = websocket.StatusInternalError
		reason = "internal error"
		log.Warn().Err(err).Msg("gateway connection closed with error")
	}
	log.Debug().Int("status", int(status)).Msg("gateway connection closed")
	conn.Close(status, reason)
}

func peerClosed(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	s := websocket.CloseStatus(err)
	return s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *zerolog.Logger) error {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return err
		}
		frame, err := proto.Decode(raw)
		if err != nil {
			log.Warn().Err(err).Msg("drop malformed frame")
			continue
		}
		if err := g.handle(ctx, client, frame, log); err != nil {
			return err
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *zerolog.Logger) error {
	for {
		select {
		case payload := <-client.Frames:
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				log.Error().Err(err).Msg("write gateway frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle applies one client frame. Only errors that end the connection are returned.
func (g *Gateway) handle(ctx context.Context, client *Client, frame proto.Frame, log *zerolog.Logger) error {
	log.Debug().Stringer("event", frame.Event).Msg("frame received")

	switch frame.Event {
	case proto.EventHeartbeat:
		if !g.opts.DropHeartbeats {
			g.send(client, proto.EventHeartbeat, nil)
		}
		return nil
	case proto.EventAuthenticate:
		return g.authenticate(ctx, client, frame, log)
	}

	user := client.User()
	if user == nil {
		log.Warn().Stringer("event", frame.Event).Msg("frame before authentication")
		return nil
	}

	switch frame.Event {
	case proto.EventRequestGroups:
		groups, err := g.store.ListGroupsForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		g.send(client, proto.EventGroupList, toProtoGroups(groups))
	case proto.EventJoinChannel:
		return g.joinChannel(ctx, client, user, frame, log)
	case proto.EventChatSend:
		return g.chatSend(ctx, client, user, frame, log)
	default:
		log.Debug().Stringer("event", frame.Event).Msg("ignore frame")
	}
	return nil
}

func (g *Gateway) authenticate(ctx context.Context, client *Client, frame proto.Frame, log *zerolog.Logger) error {
	if client.User() != nil {
		log.Warn().Msg("ignore repeated authenticate")
		return nil
	}
	data, err := proto.DecodeData[proto.AuthenticateData](frame)
	if err != nil {
		log.Warn().Err(err).Msg("bad authenticate payload")
		return errAuthFailed
	}
	user, err := g.auth.Authenticate(ctx, data.Token)
	if err != nil {
		log.Info().Err(err).Msg("reject token")
		return errAuthFailed
	}
	client.setUser(user)
	g.hub.Register(client)
	log.Info().Str("username", user.Username).Msg("client authenticated")
	g.send(client, proto.EventAuthenticated, toIdentity(user))
	return nil
}

func (g *Gateway) joinChannel(ctx context.Context, client *Client, user *store.User, frame proto.Frame, log *zerolog.Logger) error {
	data, err := proto.DecodeData[proto.JoinChannelData](frame)
	if err != nil {
		g.send(client, proto.EventJoinError, JoinErrorData{Message: "invalid join request"})
		return nil
	}
	channelID, err := parseID(data.ID)
	if err != nil {
		g.send(client, proto.EventJoinError, JoinErrorData{Message: err.Error()})
		return nil
	}

	channel, err := g.store.GetChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		g.send(client, proto.EventJoinError, JoinErrorData{Message: "unknown channel"})
		return nil
	}
	if err != nil {
		return err
	}
	member, err := g.store.IsMember(ctx, user.ID, channel.GroupID)
	if err != nil {
		return err
	}
	if !member {
		g.send(client, proto.EventJoinError, JoinErrorData{Message: "not a member of this group"})
		return nil
	}

	history, err := g.store.ListMessages(ctx, channel.ID, HistoryLimit)
	if err != nil {
		return err
	}
	// the ack is queued before the room join so live messages follow the history
	g.send(client, proto.EventJoinAck, proto.JoinAckData{
		Channel: toProtoChannel(channel),
		History: toHistory(history),
	})
	g.hub.Join(client, channel.ID)
	log.Info().Int64("channel_id", channel.ID).Int("history", len(history)).Msg("client joined channel")
	return nil
}

func (g *Gateway) chatSend(ctx context.Context, client *Client, user *store.User, frame proto.Frame, log *zerolog.Logger) error {
	channelID, ok := g.hub.Channel(client)
	if !ok {
		log.Debug().Msg("drop chat without joined channel")
		return nil
	}
	data, err := proto.DecodeData[proto.ChatSendData](frame)
	if err != nil || strings.TrimSpace(data.Content) == "" {
		log.Debug().Msg("drop empty chat")
		return nil
	}
	if !client.limiter.allow() {
		log.Warn().Int64("channel_id", channelID).Msg("chat rate limited")
		return nil
	}

	msg := &store.Message{
		ChannelID: channelID,
		UserID:    user.ID,
		Body:      data.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveMessage(ctx, msg); err != nil {
		return err
	}

	payload, err := proto.Encode(proto.EventChatMessage, toChatMessage(msg, user))
	if err != nil {
		return err
	}
	delivered := g.hub.Broadcast(channelID, payload)
	log.Debug().Int64("channel_id", channelID).Int("delivered", delivered).Msg("chat broadcast")
	return nil
}

func (g *Gateway) send(client *Client, event proto.Event, data any) {
	payload, err := proto.Encode(event, data)
	if err != nil {
		g.log.Error().Err(err).Stringer("event", event).Msg("encode frame")
		return
	}
	if !client.enqueue(payload) {
		g.log.Warn().Str("client_id", client.ID).Stringer("event", event).Msg("drop frame for slow client")
	}
}
