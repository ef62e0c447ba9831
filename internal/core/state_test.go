package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/plugterm/internal/proto"
)

func TestStateIdentityIsSetOnce(t *testing.T) {
	st := NewState()

	_, ok := st.Identity()
	assert.False(t, ok)

	require.NoError(t, st.SetIdentity(proto.Identity{Username: "alice"}))
	assert.ErrorIs(t, st.SetIdentity(proto.Identity{Username: "bob"}), ErrIdentityAlreadySet)

	id, ok := st.Identity()
	require.True(t, ok)
	assert.Equal(t, "alice", id.Username)
}

func TestStateCollectionsAreCopied(t *testing.T) {
	st := NewState()
	groups := []proto.Group{{ID: proto.StringID("g1"), Name: "one"}}

	st.ReplaceGroups(groups)
	groups[0].Name = "mutated"
	got := st.Groups()
	assert.Equal(t, "one", got[0].Name)

	got[0].Name = "mutated again"
	assert.Equal(t, "one", st.Groups()[0].Name)

	st.ReplaceGroups(nil)
	assert.Empty(t, st.Groups())
}

func TestStateChannelsFollowSelectedGroup(t *testing.T) {
	st := NewState()
	_, ok := st.SelectedGroup()
	assert.False(t, ok)

	g1 := proto.Group{ID: proto.StringID("g1"), Name: "one"}
	g2 := proto.Group{ID: proto.StringID("g2"), Name: "two"}
	st.ReplaceChannels(g1, []proto.Channel{{ID: proto.StringID("a")}, {ID: proto.StringID("b")}})
	st.ReplaceChannels(g2, []proto.Channel{{ID: proto.StringID("c")}})

	selected, ok := st.SelectedGroup()
	require.True(t, ok)
	assert.Equal(t, g2, selected)
	assert.Equal(t, []proto.Channel{{ID: proto.StringID("c")}}, st.Channels())
}

func TestStateUserCacheKeepsLatestProfile(t *testing.T) {
	st := NewState()

	st.RememberUser(proto.Author{Username: "bob", DisplayName: "Bob"})
	st.RememberUser(proto.Author{Username: "bob", DisplayName: "Robert"})
	st.RememberUser(proto.Author{Username: "carol", DisplayName: "Carol"})
	st.RememberUser(proto.Author{})

	bob, ok := st.User("bob")
	require.True(t, ok)
	assert.Equal(t, "Robert", bob.DisplayName)
	assert.Equal(t, 2, st.KnownUsers())

	_, ok = st.User("dave")
	assert.False(t, ok)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFatal, ExitCode(fatal(ErrHeartbeatTimeout)))
	assert.Equal(t, 3, ExitCode(&ExitError{Code: 3, Err: ErrConnectionLost}))
	assert.Equal(t, ExitFatal, ExitCode(assert.AnError))
}
