// Package store defines the persistence contracts of the sandbox server.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// User represents a sandbox account.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	Flags       int
	AvatarURL   string
	CreatedAt   time.Time
}

// Group is a set of channels with a member list.
type Group struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
}

// Channel belongs to exactly one group.
type Channel struct {
	ID        int64
	GroupID   int64
	Name      string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	ChannelID int64
	UserID    int64
	Body      string
	CreatedAt time.Time

	// Author is filled by ListMessages.
	Author *User
}

// Invite grants membership of a group to whoever redeems its code.
type Invite struct {
	Code      string
	GroupID   int64
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// UpsertUser creates the user or refreshes its display name and flags.
	UpsertUser(ctx context.Context, username, displayName string, flags int) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// GroupStore handles groups and their membership.
type GroupStore interface {
	// CreateGroup creates a group owned by ownerID, adds the owner as a
	// member and creates its first channel.
	CreateGroup(ctx context.Context, name string, ownerID int64, firstChannel string) (*Group, error)

	// GetGroup retrieves a group by ID.
	GetGroup(ctx context.Context, id int64) (*Group, error)

	// ListGroupsForUser lists the groups userID is a member of.
	ListGroupsForUser(ctx context.Context, userID int64) ([]*Group, error)

	// AddMember adds a user to a group. Adding twice is a no-op.
	AddMember(ctx context.Context, userID, groupID int64) error

	// IsMember checks if user is a member of the group.
	IsMember(ctx context.Context, userID, groupID int64) (bool, error)
}

// ChannelStore handles channel persistence.
type ChannelStore interface {
	// CreateChannel adds a channel to a group.
	CreateChannel(ctx context.Context, groupID int64, name string) (*Channel, error)

	// GetChannel retrieves a channel by ID.
	GetChannel(ctx context.Context, id int64) (*Channel, error)

	// ListChannels lists the channels of a group in creation order.
	ListChannels(ctx context.Context, groupID int64) ([]*Channel, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message to storage and sets its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns the newest limit messages of a channel in
	// chronological order, with authors attached.
	ListMessages(ctx context.Context, channelID int64, limit int) ([]*Message, error)
}

// InviteStore handles invite codes.
type InviteStore interface {
	// CreateInvite stores a new invite code for a group.
	CreateInvite(ctx context.Context, code string, groupID int64) (*Invite, error)

	// GetInvite retrieves an invite by code.
	GetInvite(ctx context.Context, code string) (*Invite, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	GroupStore
	ChannelStore
	MessageStore
	InviteStore

	// Close closes the underlying database connection.
	Close() error
}
