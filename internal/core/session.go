package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/plugterm/internal/log"
	"github.com/vovakirdan/plugterm/internal/proto"
)

// DefaultHeartbeatInterval is the period between liveness probes.
const DefaultHeartbeatInterval = 10 * time.Second

const (
	commandBuffer = 16
	eventBuffer   = 64
)

var errQuit = errors.New("quit requested")

// Transport is an open gateway connection carrying encoded frames.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens the gateway connection.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Phase is the lifecycle stage of a session.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseAwaitingHello
	PhaseAuthenticating
	PhaseReady
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseReady:
		return "ready"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options configures a Session.
type Options struct {
	Token             string
	HeartbeatInterval time.Duration
	// Location renders message timestamps; defaults to time.Local.
	Location *time.Location
	Logger   *zerolog.Logger
}

type inboundFrame struct {
	payload []byte
	err     error
}

// Session owns the gateway connection: it performs the handshake, runs the
// heartbeat, applies incoming frames to the view state and serializes
// outgoing commands. All of that happens on the goroutine running Run.
type Session struct {
	dialer   Dialer
	token    string
	interval time.Duration
	loc      *time.Location
	state    *State
	log      *zerolog.Logger

	commands chan Command
	events   chan Event
	done     chan struct{}

	phase            atomic.Int32
	heartbeatPending atomic.Bool

	conn      Transport
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewSession builds a session that has not connected yet.
func NewSession(dialer Dialer, state *State, opts Options) *Session {
	if state == nil {
		state = NewState()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Session{
		dialer:    dialer,
		token:     opts.Token,
		interval:  interval,
		loc:       loc,
		state:     state,
		log:       logger,
		commands:  make(chan Command, commandBuffer),
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		newTicker: systemTicker,
	}
}

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Events delivers view changes in the order they were applied.
func (s *Session) Events() <-chan Event { return s.events }

// State exposes the read side of the view state.
func (s *Session) State() *State { return s.state }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Phase reports the current lifecycle stage.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// HeartbeatPending reports whether a probe is waiting for its ack.
func (s *Session) HeartbeatPending() bool { return s.heartbeatPending.Load() }

func (s *Session) setPhase(p Phase) {
	prev := Phase(s.phase.Swap(int32(p)))
	if prev != p {
		s.log.Debug().Stringer("from", prev).Stringer("to", p).Msg("session phase")
	}
}

// Run connects and services the session until it terminates. It returns nil
// after an explicit quit, the context error on cancellation and an
// *ExitError on fatal conditions. There is no reconnection.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	s.setPhase(PhaseConnecting)
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return s.terminate(ctx, fatal(fmt.Errorf("%w: dial: %v", ErrConnectionLost, err)))
	}
	s.conn = conn
	s.setPhase(PhaseAwaitingHello)
	s.notice(ctx, "WS | Opened.")

	readCtx, cancelRead := context.WithCancel(ctx)
	inbound := make(chan inboundFrame)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(readCtx, conn, inbound)
	}()
	defer func() {
		cancelRead()
		_ = conn.Close()
		wg.Wait()
	}()

	tick, stopTicker := s.newTicker(s.interval)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return s.terminate(ctx, ctx.Err())
		case in := <-inbound:
			if in.err != nil {
				if errors.Is(in.err, ErrClosedByServer) {
					s.log.Info().Err(in.err).Msg("gateway closed the connection")
				} else {
					s.log.Warn().Err(in.err).Msg("gateway read failed")
				}
				return s.terminate(ctx, fatal(fmt.Errorf("%w: read: %w", ErrConnectionLost, in.err)))
			}
			if err := s.handleFrame(ctx, in.payload); err != nil {
				return s.terminate(ctx, err)
			}
		case <-tick:
			if err := s.heartbeat(ctx); err != nil {
				return s.terminate(ctx, err)
			}
		case cmd := <-s.commands:
			if err := s.handleCommand(ctx, cmd); err != nil {
				return s.terminate(ctx, err)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn Transport, out chan<- inboundFrame) {
	for {
		payload, err := conn.Read(ctx)
		select {
		case out <- inboundFrame{payload: payload, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) terminate(ctx context.Context, cause error) error {
	s.setPhase(PhaseTerminated)
	if s.conn != nil {
		_ = s.conn.Close()
	}

	result := cause
	if errors.Is(cause, errQuit) {
		result = nil
	}
	code := ExitCode(result)

	switch {
	case result == nil:
		s.log.Info().Msg("session closed")
	case code == ExitOK:
		s.log.Info().Err(result).Msg("session cancelled")
	default:
		s.log.Error().Err(result).Int("exit_code", code).Msg("session terminated")
	}

	ev := Event{Kind: EventTerminated, ExitCode: code, Err: result}
	if ctx.Err() == nil {
		s.emit(ctx, ev)
	} else {
		select {
		case s.events <- ev:
		default:
		}
	}
	return result
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) notice(ctx context.Context, line string) {
	s.log.Info().Msg(line)
	s.emit(ctx, Event{Kind: EventLog, Line: line})
}

func (s *Session) send(ctx context.Context, event proto.Event, data any) error {
	payload, err := proto.Encode(event, data)
	if err != nil {
		s.log.Error().Err(err).Stringer("event", event).Msg("encode frame")
		return nil
	}
	if err := s.conn.Write(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fatal(fmt.Errorf("%w: write %s: %v", ErrConnectionLost, event, err))
	}
	s.log.Debug().Stringer("event", event).Msg("frame sent")
	return nil
}

func (s *Session) heartbeat(ctx context.Context) error {
	if s.heartbeatPending.Load() {
		s.notice(ctx, "We lost connection with Plugify server. Quitting.")
		return fatal(ErrHeartbeatTimeout)
	}
	if err := s.send(ctx, proto.EventHeartbeat, nil); err != nil {
		return err
	}
	s.heartbeatPending.Store(true)
	return nil
}

// handleFrame applies one incoming frame. Only errors that end the session
// are returned; everything else degrades to a log line.
func (s *Session) handleFrame(ctx context.Context, payload []byte) error {
	frame, err := proto.Decode(payload)
	if err != nil {
		s.log.Warn().Err(err).Int("size", len(payload)).Msg("drop malformed frame")
		s.notice(ctx, "WS | Received a malformed frame.")
		return nil
	}
	phase := s.Phase()
	s.log.Debug().Stringer("event", frame.Event).Stringer("phase", phase).Msg("frame received")

	switch frame.Event {
	case proto.EventHello:
		// valid in AwaitingHello
		if phase != PhaseAwaitingHello {
			return s.unexpected(frame, phase)
		}
		if err := s.send(ctx, proto.EventAuthenticate, proto.AuthenticateData{Token: s.token}); err != nil {
			return err
		}
		s.setPhase(PhaseAuthenticating)
		return nil

	case proto.EventAuthenticated:
		// valid in Authenticating
		if phase != PhaseAuthenticating {
			return s.unexpected(frame, phase)
		}
		return s.onAuthenticated(ctx, frame)

	case proto.EventHeartbeat:
		// valid in any phase
		s.heartbeatPending.Store(false)
		return nil

	case proto.EventGroupList:
		// valid in Ready
		if phase != PhaseReady {
			return s.unexpected(frame, phase)
		}
		groups, err := proto.DecodeData[[]proto.Group](frame)
		if err != nil {
			return s.malformed(ctx, frame, err)
		}
		s.notice(ctx, "WS | Got groups.")
		s.state.ReplaceGroups(groups)
		s.emit(ctx, Event{Kind: EventGroups, Groups: s.state.Groups()})
		return nil

	case proto.EventGroupJoined:
		// valid in Ready
		if phase != PhaseReady {
			return s.unexpected(frame, phase)
		}
		s.notice(ctx, "WS | Joined new group.")
		s.notice(ctx, "You have joined a new group. If the group list does not refresh, restart plugterm.")
		return s.send(ctx, proto.EventRequestGroups, nil)

	case proto.EventJoinError:
		// valid in Ready
		if phase != PhaseReady {
			return s.unexpected(frame, phase)
		}
		s.notice(ctx, "WS | Channel join error.")
		if len(frame.Data) > 0 {
			s.notice(ctx, string(frame.Data))
		}
		return nil

	case proto.EventJoinAck:
		// valid in Ready
		if phase != PhaseReady {
			return s.unexpected(frame, phase)
		}
		return s.onJoinAck(ctx, frame)

	case proto.EventChatMessage:
		// valid in Ready
		if phase != PhaseReady {
			return s.unexpected(frame, phase)
		}
		msg, err := proto.DecodeData[proto.ChatMessage](frame)
		if err != nil {
			return s.malformed(ctx, frame, err)
		}
		active, ok := s.state.ActiveChannel()
		if !ok {
			s.log.Debug().Msg("drop message: no active channel")
			return nil
		}
		if !msg.Channel.IsZero() && msg.Channel.String() != active.ID.String() {
			s.log.Debug().Str("channel_id", msg.Channel.String()).Msg("drop message for inactive channel")
			return nil
		}
		s.renderMessage(ctx, msg)
		return nil

	case proto.EventAuthenticate, proto.EventJoinChannel, proto.EventChatSend, proto.EventRequestGroups:
		s.log.Warn().Stringer("event", frame.Event).Msg("server sent a client-only frame")
		return nil

	default:
		s.log.Debug().Stringer("event", frame.Event).Msg("ignore unknown frame")
		return nil
	}
}

func (s *Session) unexpected(frame proto.Frame, phase Phase) error {
	s.log.Debug().Stringer("event", frame.Event).Stringer("phase", phase).Msg("ignore frame in this phase")
	return nil
}

func (s *Session) malformed(ctx context.Context, frame proto.Frame, err error) error {
	s.log.Warn().Err(err).Stringer("event", frame.Event).Msg("drop frame with invalid payload")
	s.notice(ctx, fmt.Sprintf("WS | Invalid %s payload.", frame.Event))
	return nil
}

func (s *Session) onAuthenticated(ctx context.Context, frame proto.Frame) error {
	identity, err := proto.DecodeData[proto.Identity](frame)
	if err != nil {
		return s.malformed(ctx, frame, err)
	}
	if err := s.state.SetIdentity(identity); err != nil {
		s.log.Warn().Err(err).Str("username", identity.Username).Msg("ignore second identity")
	}
	current, _ := s.state.Identity()
	s.setPhase(PhaseReady)
	s.emit(ctx, Event{Kind: EventIdentity, Identity: current})
	s.notice(ctx, "WS | Logged in.")
	return s.send(ctx, proto.EventRequestGroups, nil)
}

// onJoinAck swaps the active channel and replays its history before any
// later frame is looked at, so history always precedes live messages.
func (s *Session) onJoinAck(ctx context.Context, frame proto.Frame) error {
	ack, err := proto.DecodeData[proto.JoinAckData](frame)
	if err != nil {
		return s.malformed(ctx, frame, err)
	}
	if ack.Channel.ID.IsZero() {
		return s.malformed(ctx, frame, fmt.Errorf("%w: join ack without channel id", proto.ErrMalformedFrame))
	}
	s.state.SetActiveChannel(ack.Channel)
	s.log.Info().Str("channel_id", ack.Channel.ID.String()).Int("history", len(ack.History)).Msg("channel joined")
	s.emit(ctx, Event{Kind: EventChannelJoined, Channel: ack.Channel})
	for _, msg := range ack.History {
		s.renderMessage(ctx, msg)
	}
	return nil
}

func (s *Session) renderMessage(ctx context.Context, msg proto.ChatMessage) {
	s.state.RememberUser(msg.Author)
	self, _ := s.state.Identity()
	s.emit(ctx, Event{Kind: EventMessage, Line: RenderMessage(msg, self.Username, s.loc)})
}

func (s *Session) handleCommand(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandSendChat:
		if _, ok := s.state.ActiveChannel(); !ok {
			s.notice(ctx, "You should join a channel first.")
			return nil
		}
		if _, ok := s.state.Identity(); !ok || s.Phase() != PhaseReady {
			s.log.Debug().Stringer("phase", s.Phase()).Msg("drop chat message: not ready")
			return nil
		}
		return s.send(ctx, proto.EventChatSend, proto.ChatSendData{Content: cmd.Text})

	case CommandJoinChannel:
		if s.Phase() != PhaseReady {
			s.notice(ctx, "Not logged in yet, cannot join a channel.")
			return nil
		}
		return s.send(ctx, proto.EventJoinChannel, proto.JoinChannelData{ID: cmd.ChannelID})

	case CommandReplaceChannels:
		s.state.ReplaceChannels(cmd.Group, cmd.Channels)
		s.emit(ctx, Event{Kind: EventChannels, Group: cmd.Group, Channels: s.state.Channels()})
		return nil

	case CommandNotice:
		s.notice(ctx, cmd.Text)
		return nil

	case CommandQuit:
		return errQuit

	default:
		s.log.Warn().Int("kind", int(cmd.Kind)).Msg("ignore unknown command")
		return nil
	}
}

// Submit queues a command for the session loop.
func (s *Session) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return ErrTerminated
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendChatMessage sends text to the active channel.
func (s *Session) SendChatMessage(ctx context.Context, text string) error {
	return s.Submit(ctx, Command{Kind: CommandSendChat, Text: text})
}

// JoinChannel requests to join a channel of the selected group.
func (s *Session) JoinChannel(ctx context.Context, id proto.ID) error {
	return s.Submit(ctx, Command{Kind: CommandJoinChannel, ChannelID: id})
}

// ReplaceChannels selects group and installs its channel list.
func (s *Session) ReplaceChannels(ctx context.Context, group proto.Group, channels []proto.Channel) error {
	return s.Submit(ctx, Command{Kind: CommandReplaceChannels, Group: group, Channels: channels})
}

// Notice appends a line to the log, ordered with session output.
func (s *Session) Notice(ctx context.Context, line string) error {
	return s.Submit(ctx, Command{Kind: CommandNotice, Text: line})
}

// Quit ends the session with exit code 0.
func (s *Session) Quit(ctx context.Context) error {
	return s.Submit(ctx, Command{Kind: CommandQuit})
}
