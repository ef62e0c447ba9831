package core

import (
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vovakirdan/plugterm/internal/proto"
)

// State is the in-memory view model of the session. Mutations are made by
// the session loop only; accessors return copies and are safe to call from
// the rendering goroutine.
type State struct {
	mu            sync.RWMutex
	identity      *proto.Identity
	groups        []proto.Group
	group         *proto.Group
	channels      []proto.Channel
	activeChannel *proto.Channel

	// users only grows: it holds every author this client has seen.
	users *gocache.Cache
}

// NewState returns an empty view state.
func NewState() *State {
	return &State{
		users: gocache.New(gocache.NoExpiration, 0),
	}
}

// Identity returns the authenticated user, if any.
func (s *State) Identity() (proto.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return proto.Identity{}, false
	}
	return *s.identity, true
}

// SetIdentity records the authenticated user. It can only be set once.
func (s *State) SetIdentity(id proto.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return ErrIdentityAlreadySet
	}
	s.identity = &id
	return nil
}

// Groups returns the known groups in server order.
func (s *State) Groups() []proto.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.groups)
}

// ReplaceGroups installs a new group list wholesale.
func (s *State) ReplaceGroups(groups []proto.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = slices.Clone(groups)
}

// SelectedGroup returns the group whose channels are currently listed.
func (s *State) SelectedGroup() (proto.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.group == nil {
		return proto.Group{}, false
	}
	return *s.group, true
}

// Channels returns the channels of the selected group.
func (s *State) Channels() []proto.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.channels)
}

// ReplaceChannels selects a group and installs its channel list wholesale.
func (s *State) ReplaceChannels(group proto.Group, channels []proto.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = &group
	s.channels = slices.Clone(channels)
}

// ActiveChannel returns the joined channel, if any.
func (s *State) ActiveChannel() (proto.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeChannel == nil {
		return proto.Channel{}, false
	}
	return *s.activeChannel, true
}

// SetActiveChannel records an acknowledged join.
func (s *State) SetActiveChannel(ch proto.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeChannel = &ch
}

// RememberUser stores the last seen profile of a message author.
func (s *State) RememberUser(author proto.Author) {
	if author.Username == "" {
		return
	}
	s.users.Set(author.Username, author, gocache.NoExpiration)
}

// User looks up a previously seen author.
func (s *State) User(username string) (proto.Author, bool) {
	v, ok := s.users.Get(username)
	if !ok {
		return proto.Author{}, false
	}
	author, ok := v.(proto.Author)
	return author, ok
}

// KnownUsers returns the number of cached authors.
func (s *State) KnownUsers() int {
	return s.users.ItemCount()
}
