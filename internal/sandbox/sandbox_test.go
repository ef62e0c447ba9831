package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/plugterm/internal/api"
	"github.com/vovakirdan/plugterm/internal/config"
	"github.com/vovakirdan/plugterm/internal/proto"
)

const testTimeout = 5 * time.Second

type testSandbox struct {
	server *Server
	ts     *httptest.Server
}

func startSandbox(t *testing.T, opts GatewayOptions) *testSandbox {
	t.Helper()

	logger := zerolog.Nop()
	cfg := config.Default().Sandbox
	cfg.DBPath = ":memory:"
	cfg.JWTSecret = "test-secret"

	srv, err := New(cfg, opts, &logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &testSandbox{server: srv, ts: ts}
}

func (s *testSandbox) token(t *testing.T, username string) string {
	t.Helper()
	token, err := s.server.IssueToken(context.Background(), username, strings.ToUpper(username), 0)
	require.NoError(t, err)
	return token
}

func (s *testSandbox) gatewayURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/"
}

func (s *testSandbox) apiClient(token string) *api.Client {
	return api.New(s.ts.URL+"/v2/", token, s.ts.Client(), nil)
}

// rawConn is a bare gateway connection that reads frames with a deadline.
type rawConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testSandbox) dial(t *testing.T) *rawConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.gatewayURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &rawConn{t: t, conn: conn}
}

func (c *rawConn) write(event proto.Event, data any) {
	c.t.Helper()
	payload, err := proto.Encode(event, data)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.conn, json.RawMessage(payload)))
}

func (c *rawConn) read() (proto.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var raw json.RawMessage
	if err := wsjson.Read(ctx, c.conn, &raw); err != nil {
		return proto.Frame{}, err
	}
	return proto.Decode(raw)
}

func (c *rawConn) expect(event proto.Event) proto.Frame {
	c.t.Helper()
	frame, err := c.read()
	require.NoError(c.t, err)
	require.Equal(c.t, event, frame.Event, "unexpected frame %s", frame.Data)
	return frame
}

// login runs the handshake and returns the announced identity.
func (c *rawConn) login(token string) proto.Identity {
	c.t.Helper()
	c.expect(proto.EventHello)
	c.write(proto.EventAuthenticate, proto.AuthenticateData{Token: token})
	identity, err := proto.DecodeData[proto.Identity](c.expect(proto.EventAuthenticated))
	require.NoError(c.t, err)
	return identity
}

func TestHealthEndpoint(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})

	resp, err := s.ts.Client().Get(s.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayHandshake(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	conn := s.dial(t)

	identity := conn.login(s.token(t, "alice"))
	assert.Equal(t, proto.Identity{Username: "alice", DisplayName: "ALICE"}, identity)

	conn.write(proto.EventRequestGroups, nil)
	groups, err := proto.DecodeData[[]proto.Group](conn.expect(proto.EventGroupList))
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGatewayRejectsInvalidToken(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	conn := s.dial(t)

	conn.expect(proto.EventHello)
	conn.write(proto.EventAuthenticate, proto.AuthenticateData{Token: "not-a-token"})

	_, err := conn.read()
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestGatewayIgnoresFramesBeforeAuthentication(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	conn := s.dial(t)

	conn.expect(proto.EventHello)
	conn.write(proto.EventRequestGroups, nil)
	conn.write(proto.EventHeartbeat, nil)
	// the group request is dropped, the heartbeat is answered
	conn.expect(proto.EventHeartbeat)
}

func TestGatewayDropHeartbeats(t *testing.T) {
	s := startSandbox(t, GatewayOptions{DropHeartbeats: true})
	conn := s.dial(t)
	conn.login(s.token(t, "alice"))

	conn.write(proto.EventHeartbeat, nil)
	conn.write(proto.EventRequestGroups, nil)
	conn.expect(proto.EventGroupList)
}

func TestJoinAndChat(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	ctx := context.Background()

	aliceToken := s.token(t, "alice")
	bobToken := s.token(t, "bob")

	groupID, err := s.apiClient(aliceToken).CreateGroup(ctx, "friends")
	require.NoError(t, err)
	channels, err := s.apiClient(aliceToken).GroupChannels(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	general := channels[0]
	assert.Equal(t, DefaultChannel, general.Name)

	alice := s.dial(t)
	alice.login(aliceToken)
	alice.write(proto.EventJoinChannel, proto.JoinChannelData{ID: general.ID})
	ack, err := proto.DecodeData[proto.JoinAckData](alice.expect(proto.EventJoinAck))
	require.NoError(t, err)
	assert.Equal(t, general.ID.String(), ack.Channel.ID.String())
	assert.Empty(t, ack.History)

	// bob is not a member yet
	bob := s.dial(t)
	bob.login(bobToken)
	bob.write(proto.EventJoinChannel, proto.JoinChannelData{ID: general.ID})
	joinErr, err := proto.DecodeData[JoinErrorData](bob.expect(proto.EventJoinError))
	require.NoError(t, err)
	assert.Contains(t, joinErr.Message, "not a member")

	alice.write(proto.EventChatSend, proto.ChatSendData{Content: "hi <@bob>"})
	msg, err := proto.DecodeData[proto.ChatMessage](alice.expect(proto.EventChatMessage))
	require.NoError(t, err)
	assert.Equal(t, "hi <@bob>", msg.Content)
	assert.Equal(t, "alice", msg.Author.Username)
	assert.Equal(t, general.ID.String(), msg.Channel.String())
	assert.NotZero(t, msg.Timestamp)

	_, err = s.server.Store().CreateInvite(ctx, "welcome", mustID(t, groupID))
	require.NoError(t, err)
	require.NoError(t, s.apiClient(bobToken).UseInvite(ctx, "welcome"))
	bob.expect(proto.EventGroupJoined)

	bob.write(proto.EventJoinChannel, proto.JoinChannelData{ID: general.ID})
	ack, err = proto.DecodeData[proto.JoinAckData](bob.expect(proto.EventJoinAck))
	require.NoError(t, err)
	require.Len(t, ack.History, 1)
	assert.Equal(t, "hi <@bob>", ack.History[0].Content)

	bob.write(proto.EventChatSend, proto.ChatSendData{Content: "hello"})
	for _, c := range []*rawConn{alice, bob} {
		msg, err := proto.DecodeData[proto.ChatMessage](c.expect(proto.EventChatMessage))
		require.NoError(t, err)
		assert.Equal(t, "bob", msg.Author.Username)
		assert.Equal(t, "BOB", msg.Author.DisplayName)
	}
}

func TestJoinUnknownChannel(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	conn := s.dial(t)
	conn.login(s.token(t, "alice"))

	conn.write(proto.EventJoinChannel, proto.JoinChannelData{ID: proto.NumericID(404)})
	conn.expect(proto.EventJoinError)

	conn.write(proto.EventJoinChannel, proto.JoinChannelData{ID: proto.StringID("general")})
	conn.expect(proto.EventJoinError)
}

func TestHistoryIsCapped(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	ctx := context.Background()
	token := s.token(t, "alice")

	groupID, err := s.apiClient(token).CreateGroup(ctx, "busy")
	require.NoError(t, err)
	channels, err := s.apiClient(token).GroupChannels(ctx, groupID)
	require.NoError(t, err)

	conn := s.dial(t)
	conn.login(token)
	conn.write(proto.EventJoinChannel, proto.JoinChannelData{ID: channels[0].ID})
	conn.expect(proto.EventJoinAck)

	for i := range HistoryLimit + 5 {
		conn.write(proto.EventChatSend, proto.ChatSendData{Content: "msg " + strings.Repeat("x", i%3+1)})
		conn.expect(proto.EventChatMessage)
	}

	conn.write(proto.EventJoinChannel, proto.JoinChannelData{ID: channels[0].ID})
	ack, err := proto.DecodeData[proto.JoinAckData](conn.expect(proto.EventJoinAck))
	require.NoError(t, err)
	assert.Len(t, ack.History, HistoryLimit)
}

func TestRESTErrors(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	ctx := context.Background()
	client := s.apiClient(s.token(t, "alice"))

	_, err := client.UserInfo(ctx, "ghost")
	code, ok := api.CodeOf(err)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, CodeUserNotFound, code)

	_, err = client.GroupChannels(ctx, proto.NumericID(77))
	code, _ = api.CodeOf(err)
	assert.Equal(t, CodeGroupNotFound, code)

	err = client.UseInvite(ctx, "nope")
	code, _ = api.CodeOf(err)
	assert.Equal(t, CodeInviteNotFound, code)

	_, err = s.apiClient("bogus").CreateGroup(ctx, "x")
	code, _ = api.CodeOf(err)
	assert.Equal(t, CodeUnauthorized, code)
}

func TestUserInfo(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	ctx := context.Background()
	_, err := s.server.IssueToken(ctx, "carol", "Carol C", int(api.FlagPro|api.FlagDev))
	require.NoError(t, err)

	profile, err := s.apiClient(s.token(t, "alice")).UserInfo(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "Carol C", profile.DisplayName)
	assert.Equal(t, "carol", profile.Name)
	assert.True(t, profile.Flags.Has(api.FlagPro))
	assert.True(t, profile.Flags.Has(api.FlagDev))
}

func TestGroupInfoHidesForeignGroups(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	ctx := context.Background()

	groupID, err := s.apiClient(s.token(t, "alice")).CreateGroup(ctx, "private")
	require.NoError(t, err)

	_, err = s.apiClient(s.token(t, "mallory")).GroupChannels(ctx, groupID)
	code, _ := api.CodeOf(err)
	assert.Equal(t, CodeGroupNotFound, code)
}

func TestCreateInviteEndpoint(t *testing.T) {
	s := startSandbox(t, GatewayOptions{})
	ctx := context.Background()
	aliceToken := s.token(t, "alice")

	groupID, err := s.apiClient(aliceToken).CreateGroup(ctx, "club")
	require.NoError(t, err)

	body := strings.NewReader(`{"id":` + groupID.String() + `}`)
	req := httptest.NewRequest(http.MethodPost, "/v2/invites/create", body)
	req.Header.Set("Authorization", aliceToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool       `json:"success"`
		Data    IDResponse `json:"data"`
		Error   int        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.False(t, resp.Data.ID.IsZero())

	bob := s.apiClient(s.token(t, "bob"))
	require.NoError(t, bob.UseInvite(ctx, resp.Data.ID.String()))
	channels, err := bob.GroupChannels(ctx, groupID)
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestHubRooms(t *testing.T) {
	hub := NewHub()
	a, b := NewClient("a"), NewClient("b")

	hub.Join(a, 1)
	hub.Join(b, 1)
	assert.Equal(t, 2, hub.Broadcast(1, []byte("x")))

	hub.Join(b, 2)
	assert.Equal(t, 1, hub.Broadcast(1, []byte("y")))
	ch, ok := hub.Channel(b)
	assert.True(t, ok)
	assert.Equal(t, int64(2), ch)

	hub.Unregister(a)
	assert.Equal(t, 0, hub.Broadcast(1, []byte("z")))
	_, ok = hub.Channel(a)
	assert.False(t, ok)
}

func TestRoomDropsForSlowClient(t *testing.T) {
	room := NewRoom(1)
	c := NewClient("slow")
	room.AddClient(c)
	for range clientBuffer {
		require.Equal(t, 1, room.Broadcast([]byte("x")))
	}
	assert.Equal(t, 0, room.Broadcast([]byte("overflow")))
	assert.False(t, room.AddClient(c))
	assert.True(t, room.RemoveClient(c))
	assert.True(t, room.Empty())
}

func mustID(t *testing.T, id proto.ID) int64 {
	t.Helper()
	n, err := parseID(id)
	require.NoError(t, err)
	return n
}

func TestChatRateLimit(t *testing.T) {
	s := startSandbox(t, GatewayOptions{MessagesPerMinute: 1})
	ctx := context.Background()
	token := s.token(t, "alice")

	groupID, err := s.apiClient(token).CreateGroup(ctx, "quiet")
	require.NoError(t, err)
	channels, err := s.apiClient(token).GroupChannels(ctx, groupID)
	require.NoError(t, err)

	conn := s.dial(t)
	conn.login(token)
	conn.write(proto.EventJoinChannel, proto.JoinChannelData{ID: channels[0].ID})
	conn.expect(proto.EventJoinAck)

	conn.write(proto.EventChatSend, proto.ChatSendData{Content: "first"})
	conn.write(proto.EventChatSend, proto.ChatSendData{Content: "second"})
	conn.write(proto.EventHeartbeat, nil)

	conn.expect(proto.EventChatMessage)
	conn.expect(proto.EventHeartbeat)
}
