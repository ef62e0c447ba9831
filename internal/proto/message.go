package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedFrame is returned when a payload cannot be decoded into a frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Event discriminates the meaning of a frame.
type Event int

const (
	EventHello         Event = 0
	EventAuthenticate  Event = 1
	EventAuthenticated Event = 2
	EventJoinChannel   Event = 4
	EventJoinAck       Event = 5
	EventJoinError     Event = 6
	EventChatSend      Event = 7
	EventChatMessage   Event = 10
	EventRequestGroups Event = 11
	EventGroupList     Event = 12
	EventGroupJoined   Event = 15
	EventHeartbeat     Event = 9001
)

func (e Event) String() string {
	switch e {
	case EventHello:
		return "hello"
	case EventAuthenticate:
		return "authenticate"
	case EventAuthenticated:
		return "authenticated"
	case EventJoinChannel:
		return "join_channel"
	case EventJoinAck:
		return "join_ack"
	case EventJoinError:
		return "join_error"
	case EventChatSend:
		return "chat_send"
	case EventChatMessage:
		return "chat_message"
	case EventRequestGroups:
		return "request_groups"
	case EventGroupList:
		return "group_list"
	case EventGroupJoined:
		return "group_joined"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return "event(" + strconv.Itoa(int(e)) + ")"
	}
}

// Frame is the envelope exchanged over the gateway connection.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds the wire form of a frame. A nil data omits the payload.
func Encode(event Event, data any) ([]byte, error) {
	frame := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", event, err)
		}
		frame.Data = raw
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return payload, nil
}

// Decode parses a wire payload. The event key is mandatory.
func Decode(payload []byte) (Frame, error) {
	var envelope struct {
		Event *Event          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if envelope.Event == nil {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	frame := Frame{Event: *envelope.Event}
	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		frame.Data = envelope.Data
	}
	return frame, nil
}

// DecodeData unmarshals the kind-specific payload of a frame.
func DecodeData[T any](frame Frame) (T, error) {
	var out T
	if len(frame.Data) == 0 {
		return out, fmt.Errorf("%w: %s without data", ErrMalformedFrame, frame.Event)
	}
	if err := json.Unmarshal(frame.Data, &out); err != nil {
		return out, fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, frame.Event, err)
	}
	return out, nil
}

// ID identifies groups, channels and invites. The service sends both
// strings and numbers; the original form is kept for re-encoding.
type ID struct {
	value   string
	numeric bool
}

// StringID builds a string identifier.
func StringID(v string) ID { return ID{value: v} }

// NumericID builds a numeric identifier.
func NumericID(v int64) ID { return ID{value: strconv.FormatInt(v, 10), numeric: true} }

func (id ID) String() string { return id.value }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id.value == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID{value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID{value: n.String(), numeric: true}
	return nil
}

// AuthenticateData carries the credential token.
type AuthenticateData struct {
	Token string `json:"token"`
}

// Identity is the authenticated user.
type Identity struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Flags       int    `json:"flags"`
}

// Group is one entry of the group list.
type Group struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Channel belongs to the currently selected group.
type Channel struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// JoinChannelData requests to join a channel.
type JoinChannelData struct {
	ID ID `json:"id"`
}

// Author is the user attached to a chat message.
type Author struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// ChatMessage is a message delivered live or as join history.
type ChatMessage struct {
	Author    Author `json:"author"`
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
	Channel   ID     `json:"channel,omitzero"`
}

// JoinAckData acknowledges a join and carries the channel history.
type JoinAckData struct {
	Channel Channel       `json:"channel"`
	History []ChatMessage `json:"history,omitempty"`
}

// ChatSendData is a message from the client.
type ChatSendData struct {
	Content string `json:"content"`
}
