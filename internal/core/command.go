package core

import "github.com/vovakirdan/plugterm/internal/proto"

// CommandKind describes what the operator wants the session to do.
type CommandKind int

const (
	// CommandSendChat sends a chat message to the active channel.
	CommandSendChat CommandKind = iota
	// CommandJoinChannel asks the server to join a channel.
	CommandJoinChannel
	// CommandReplaceChannels installs the channel list of a newly selected group.
	CommandReplaceChannels
	// CommandNotice appends a line to the log.
	CommandNotice
	// CommandQuit terminates the session without a handshake.
	CommandQuit
)

// Command is an action submitted to the session loop.
type Command struct {
	Kind      CommandKind
	Text      string
	ChannelID proto.ID
	Group     proto.Group
	Channels  []proto.Channel
}
