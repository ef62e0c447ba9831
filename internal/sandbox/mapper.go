package sandbox

import (
	"fmt"
	"strconv"

	"github.com/vovakirdan/plugterm/internal/proto"
	"github.com/vovakirdan/plugterm/internal/store"
)

func toProtoGroups(groups []*store.Group) []proto.Group {
	out := make([]proto.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, proto.Group{ID: proto.NumericID(g.ID), Name: g.Name})
	}
	return out
}

func toProtoChannels(channels []*store.Channel) []proto.Channel {
	out := make([]proto.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toProtoChannel(ch))
	}
	return out
}

func toProtoChannel(ch *store.Channel) proto.Channel {
	return proto.Channel{ID: proto.NumericID(ch.ID), Name: ch.Name}
}

func toIdentity(u *store.User) proto.Identity {
	return proto.Identity{Username: u.Username, DisplayName: displayName(u), Flags: u.Flags}
}

func toChatMessage(msg *store.Message, author *store.User) proto.ChatMessage {
	return proto.ChatMessage{
		Author:    proto.Author{Username: author.Username, DisplayName: displayName(author)},
		Timestamp: msg.CreatedAt.UnixMilli(),
		Content:   msg.Body,
		Channel:   proto.NumericID(msg.ChannelID),
	}
}

func toHistory(msgs []*store.Message) []proto.ChatMessage {
	out := make([]proto.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Author == nil {
			continue
		}
		out = append(out, toChatMessage(m, m.Author))
	}
	return out
}

// displayName falls back to the username.
func displayName(u *store.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// parseID accepts both numeric and string identifiers carrying a number.
func parseID(id proto.ID) (int64, error) {
	n, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid id %q", id.String())
	}
	return n, nil
}
