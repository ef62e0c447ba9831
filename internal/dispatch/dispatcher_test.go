package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/plugterm/internal/api"
	"github.com/vovakirdan/plugterm/internal/core"
	"github.com/vovakirdan/plugterm/internal/proto"
)

// fakeEngine records every command in order.
type fakeEngine struct {
	mu       sync.Mutex
	chats    []string
	joins    []proto.ID
	replaced []proto.Group
	channels [][]proto.Channel
	notices  []string
	quits    int
	err      error
}

func (f *fakeEngine) SendChatMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	return f.err
}

func (f *fakeEngine) JoinChannel(_ context.Context, id proto.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	return f.err
}

func (f *fakeEngine) ReplaceChannels(_ context.Context, group proto.Group, channels []proto.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, group)
	f.channels = append(f.channels, channels)
	return f.err
}

func (f *fakeEngine) Notice(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, line)
	return f.err
}

func (f *fakeEngine) Quit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return f.err
}

func (f *fakeEngine) lastNotice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.notices) == 0 {
		return ""
	}
	return f.notices[len(f.notices)-1]
}

// fakeAPI answers from per-method results and counts calls.
type fakeAPI struct {
	mu sync.Mutex

	createID  proto.ID
	createErr error

	channels    []proto.Channel
	channelsErr error

	inviteErr   error
	inviteCodes []string

	profile    api.Profile
	profileErr error
	lookups    []string
}

func (f *fakeAPI) CreateGroup(context.Context, string) (proto.ID, error) {
	return f.createID, f.createErr
}

func (f *fakeAPI) GroupChannels(context.Context, proto.ID) ([]proto.Channel, error) {
	return f.channels, f.channelsErr
}

func (f *fakeAPI) UseInvite(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inviteCodes = append(f.inviteCodes, code)
	return f.inviteErr
}

func (f *fakeAPI) UserInfo(_ context.Context, name string) (api.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, name)
	return f.profile, f.profileErr
}

type staticChannels []proto.Channel

func (s staticChannels) Channels() []proto.Channel { return s }

func newTestDispatcher(channels ...proto.Channel) (*Dispatcher, *fakeEngine, *fakeAPI) {
	eng := &fakeEngine{}
	client := &fakeAPI{}
	return New(eng, client, staticChannels(channels), Options{}), eng, client
}

func TestHandleInputSendsPlainText(t *testing.T) {
	d, eng, _ := newTestDispatcher()
	ctx := context.Background()

	require.NoError(t, d.HandleInput(ctx, "hello there"))
	require.NoError(t, d.HandleInput(ctx, "   "))
	require.NoError(t, d.HandleInput(ctx, ""))

	assert.Equal(t, []string{"hello there"}, eng.chats)
	assert.Empty(t, eng.notices)
}

func TestHandleInputReservesPrefix(t *testing.T) {
	general := proto.Channel{ID: proto.NumericID(1), Name: "general"}
	d, eng, _ := newTestDispatcher(general, proto.Channel{ID: proto.NumericID(2), Name: "random"})
	ctx := context.Background()

	require.NoError(t, d.HandleInput(ctx, ".frobnicate"))
	assert.Contains(t, eng.lastNotice(), "Unknown command")

	require.NoError(t, d.HandleInput(ctx, ".help"))
	assert.Contains(t, eng.lastNotice(), ".join <channel>")

	require.NoError(t, d.HandleInput(ctx, ".join #General"))
	assert.Equal(t, []proto.ID{general.ID}, eng.joins)

	require.NoError(t, d.HandleInput(ctx, ".join nowhere"))
	assert.Equal(t, "No channel named #nowhere in the selected group.", eng.lastNotice())

	require.NoError(t, d.HandleInput(ctx, ".quit"))
	assert.Equal(t, 1, eng.quits)
	assert.Empty(t, eng.chats, "reserved input is never sent as chat")
}

func TestHandleInputCustomPrefix(t *testing.T) {
	eng := &fakeEngine{}
	d := New(eng, &fakeAPI{}, staticChannels(nil), Options{CommandPrefix: "/"})

	require.NoError(t, d.HandleInput(context.Background(), ".not a command"))
	require.NoError(t, d.HandleInput(context.Background(), "/quit"))

	assert.Equal(t, []string{".not a command"}, eng.chats)
	assert.Equal(t, 1, eng.quits)
}

func TestSelectGroup(t *testing.T) {
	d, eng, client := newTestDispatcher()
	group := proto.Group{ID: proto.StringID("g1"), Name: "friends"}
	client.channels = []proto.Channel{{ID: proto.NumericID(1), Name: "general"}}

	require.NoError(t, d.SelectGroup(context.Background(), group))
	require.Len(t, eng.replaced, 1)
	assert.Equal(t, group, eng.replaced[0])
	assert.Equal(t, client.channels, eng.channels[0])
}

func TestSelectGroupFailureKeepsChannels(t *testing.T) {
	d, eng, client := newTestDispatcher()
	client.channelsErr = &api.Error{Op: "group info", Code: api.CodeGroupNotFound}

	require.NoError(t, d.SelectGroup(context.Background(), proto.Group{ID: proto.NumericID(42)}))
	assert.Empty(t, eng.replaced)
	assert.Equal(t, "Error when fetching channels for group 42.", eng.lastNotice())
}

func TestSelectChannel(t *testing.T) {
	d, eng, _ := newTestDispatcher()

	require.NoError(t, d.SelectChannel(context.Background(), proto.Channel{ID: proto.StringID("c1")}))
	assert.Equal(t, []string{"Joining channel..."}, eng.notices)
	assert.Equal(t, []proto.ID{proto.StringID("c1")}, eng.joins)
}

func TestPrompt(t *testing.T) {
	d, eng, _ := newTestDispatcher()
	ctx := context.Background()

	label, err := d.Prompt(ctx, ActionCreateGroup)
	require.NoError(t, err)
	assert.Equal(t, "Enter group name", label)
	assert.Equal(t, "Waiting for group name...", eng.lastNotice())

	label, err = d.Prompt(ctx, ActionQuit)
	require.NoError(t, err)
	assert.Empty(t, label)
	assert.False(t, ActionQuit.NeedsInput())
}

func TestRunActionRejectsEmptyValue(t *testing.T) {
	d, eng, client := newTestDispatcher()

	for _, a := range []Action{ActionCreateGroup, ActionUserInfo, ActionUseInvite} {
		require.NoError(t, d.RunAction(context.Background(), a, "  "))
		assert.Equal(t, emptyValueNotice, eng.lastNotice())
	}
	assert.Empty(t, client.lookups)
	assert.Empty(t, client.inviteCodes)
}

func TestRunActionCreateGroup(t *testing.T) {
	d, eng, client := newTestDispatcher()
	ctx := context.Background()

	client.createID = proto.StringID("g-9")
	require.NoError(t, d.RunAction(ctx, ActionCreateGroup, "friends"))
	assert.Equal(t, "Created group with ID g-9", eng.lastNotice())

	client.createErr = &api.Error{Op: "create group", Code: 3}
	require.NoError(t, d.RunAction(ctx, ActionCreateGroup, "friends"))
	assert.Equal(t, "Error: 3", eng.lastNotice())
}

func TestRunActionUserInfoErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"user not found", &api.Error{Op: "user info", Code: api.CodeUserNotFound}, "User doesn't exist"},
		{"other code", &api.Error{Op: "user info", Code: 42}, "Error: 42"},
		{"malformed", api.ErrMalformedResponse, "Error: malformed api response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, eng, client := newTestDispatcher()
			client.profileErr = tt.err

			require.NoError(t, d.RunAction(context.Background(), ActionUserInfo, "@ghost"))
			assert.Equal(t, tt.want, eng.lastNotice())
			assert.Equal(t, []string{"ghost"}, client.lookups, "leading @ is stripped")
		})
	}
}

func TestRunActionUserInfoProfile(t *testing.T) {
	d, eng, client := newTestDispatcher()
	client.profile = api.Profile{DisplayName: "Alice", Name: "alice", Flags: api.FlagPro | api.FlagBeta, AvatarURL: "https://cdn/a.png"}

	require.NoError(t, d.RunAction(context.Background(), ActionUserInfo, "alice"))

	block := ansi.Strip(eng.lastNotice())
	assert.Equal(t, "----\nAlice (@alice) PRO BETA\nAvatar URL: https://cdn/a.png\n----", block)
}

func TestRunActionUseInviteIsNotDeduplicated(t *testing.T) {
	d, eng, client := newTestDispatcher()
	ctx := context.Background()

	client.inviteErr = &api.Error{Op: "use invite", Code: api.CodeInviteNotFound}
	require.NoError(t, d.RunAction(ctx, ActionUseInvite, "code-1"))
	assert.Equal(t, "Invite doesn't exist", eng.lastNotice())

	client.inviteErr = nil
	require.NoError(t, d.RunAction(ctx, ActionUseInvite, "code-1"))
	assert.Equal(t, "Invite used successfully.", eng.lastNotice())

	client.inviteErr = &api.Error{Op: "use invite", Code: api.CodeGroupNotFound}
	require.NoError(t, d.RunAction(ctx, ActionUseInvite, "code-1"))
	assert.Equal(t, "Group doesn't exist", eng.lastNotice())

	assert.Equal(t, []string{"code-1", "code-1", "code-1"}, client.inviteCodes)
}

func TestRunActionQuit(t *testing.T) {
	d, eng, _ := newTestDispatcher()

	require.NoError(t, d.RunAction(context.Background(), ActionQuit, ""))
	assert.Equal(t, "Quitting", eng.lastNotice())
	assert.Equal(t, 1, eng.quits)
}

func TestRunActionUnknown(t *testing.T) {
	d, _, _ := newTestDispatcher()
	err := d.RunAction(context.Background(), Action(99), "x")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestTerminatedEngineErrorsPropagate(t *testing.T) {
	d, eng, _ := newTestDispatcher()
	eng.err = core.ErrTerminated

	assert.ErrorIs(t, d.HandleInput(context.Background(), "hi"), core.ErrTerminated)
	assert.ErrorIs(t, d.SelectChannel(context.Background(), proto.Channel{}), core.ErrTerminated)
}

func TestActionsMenuOrder(t *testing.T) {
	var labels []string
	for _, a := range Actions() {
		labels = append(labels, a.Label())
	}
	assert.Equal(t, "Create new group|Get user info|Use an invite|Quit plugterm", strings.Join(labels, "|"))
}
