package core

import "github.com/vovakirdan/plugterm/internal/proto"

// EventKind is a notification the session emits to the rendering layer.
type EventKind int

const (
	// EventLog appends a line to the log pane.
	EventLog EventKind = iota
	// EventIdentity announces the authenticated user.
	EventIdentity
	// EventGroups replaces the group list.
	EventGroups
	// EventChannels replaces the channel list.
	EventChannels
	// EventChannelJoined clears the message view for a newly joined channel.
	EventChannelJoined
	// EventMessage appends a rendered chat line to the message view.
	EventMessage
	// EventTerminated is the last event of a session.
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventIdentity:
		return "identity"
	case EventGroups:
		return "groups"
	case EventChannels:
		return "channels"
	case EventChannelJoined:
		return "channel_joined"
	case EventMessage:
		return "message"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event describes a view state change to render.
type Event struct {
	Kind     EventKind
	Line     string
	Identity proto.Identity
	Groups   []proto.Group
	Group    proto.Group
	Channels []proto.Channel
	Channel  proto.Channel
	ExitCode int
	Err      error
}
