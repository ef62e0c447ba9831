// Package dispatch turns operator input into session commands and REST calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/plugterm/internal/api"
	"github.com/vovakirdan/plugterm/internal/log"
	"github.com/vovakirdan/plugterm/internal/proto"
)

// Guidance shown when a prompt is submitted empty.
const emptyValueNotice = "Nothing was entered. Type a value and press Enter."

const defaultRequestTimeout = 15 * time.Second

// ErrUnknownAction is returned by RunAction for actions outside the menu.
var ErrUnknownAction = errors.New("unknown action")

// Engine is the part of the session the dispatcher drives. All view state
// changes go through it so they stay ordered with incoming frames.
type Engine interface {
	SendChatMessage(ctx context.Context, text string) error
	JoinChannel(ctx context.Context, id proto.ID) error
	ReplaceChannels(ctx context.Context, group proto.Group, channels []proto.Channel) error
	Notice(ctx context.Context, line string) error
	Quit(ctx context.Context) error
}

// API is the REST side channel.
type API interface {
	CreateGroup(ctx context.Context, name string) (proto.ID, error)
	GroupChannels(ctx context.Context, groupID proto.ID) ([]proto.Channel, error)
	UseInvite(ctx context.Context, code string) error
	UserInfo(ctx context.Context, name string) (api.Profile, error)
}

// ChannelLister exposes the channels of the selected group.
type ChannelLister interface {
	Channels() []proto.Channel
}

// Options tunes a Dispatcher.
type Options struct {
	// CommandPrefix marks reserved input. Defaults to ".".
	CommandPrefix string
	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

// Dispatcher maps operator input to engine commands and REST calls. It
// holds no mutable state, so calls may run concurrently.
type Dispatcher struct {
	engine   Engine
	api      API
	channels ChannelLister
	prefix   string
	timeout  time.Duration
	log      *zerolog.Logger
}

// New creates a Dispatcher.
func New(engine Engine, client API, channels ChannelLister, opts Options) *Dispatcher {
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "."
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Dispatcher{
		engine:   engine,
		api:      client,
		channels: channels,
		prefix:   opts.CommandPrefix,
		timeout:  opts.RequestTimeout,
		log:      opts.Logger,
	}
}

// HandleInput routes a line typed into the input box.
func (d *Dispatcher) HandleInput(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !strings.HasPrefix(text, d.prefix) {
		return d.engine.SendChatMessage(ctx, text)
	}

	fields := strings.Fields(strings.TrimPrefix(text, d.prefix))
	if len(fields) == 0 {
		return d.engine.Notice(ctx, "Unknown command. Type "+d.prefix+"help for a list.")
	}
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return d.RunAction(ctx, ActionQuit, "")
	case "help":
		return d.engine.Notice(ctx, d.help())
	case "join":
		if len(fields) < 2 {
			return d.engine.Notice(ctx, "Usage: "+d.prefix+"join <channel>")
		}
		return d.joinByName(ctx, strings.Join(fields[1:], " "))
	default:
		return d.engine.Notice(ctx, fmt.Sprintf("Unknown command %q. Type %shelp for a list.", fields[0], d.prefix))
	}
}

func (d *Dispatcher) help() string {
	p := d.prefix
	return strings.Join([]string{
		"Commands:",
		"  " + p + "join <channel>  join a channel of the selected group",
		"  " + p + "help            show this list",
		"  " + p + "quit            leave plugterm",
		"Anything else is sent to the active channel.",
	}, "\n")
}

func (d *Dispatcher) joinByName(ctx context.Context, name string) error {
	name = strings.TrimPrefix(name, "#")
	for _, ch := range d.channels.Channels() {
		if strings.EqualFold(ch.Name, name) {
			return d.SelectChannel(ctx, ch)
		}
	}
	return d.engine.Notice(ctx, fmt.Sprintf("No channel named #%s in the selected group.", name))
}

// SelectGroup fetches the channels of group and installs them.
func (d *Dispatcher) SelectGroup(ctx context.Context, group proto.Group) error {
	if err := d.engine.Notice(ctx, "API | Fetching channels"); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	channels, err := d.api.GroupChannels(reqCtx, group.ID)
	if err != nil {
		d.log.Warn().Err(err).Str("group_id", group.ID.String()).Msg("fetch channels failed")
		return d.engine.Notice(ctx, fmt.Sprintf("Error when fetching channels for group %s.", group.ID))
	}
	return d.engine.ReplaceChannels(ctx, group, channels)
}

// SelectChannel asks the session to join channel.
func (d *Dispatcher) SelectChannel(ctx context.Context, channel proto.Channel) error {
	if err := d.engine.Notice(ctx, "Joining channel..."); err != nil {
		return err
	}
	return d.engine.JoinChannel(ctx, channel.ID)
}

// Prompt logs that the action is waiting for input and returns the prompt
// label. Actions without input return an empty label.
func (d *Dispatcher) Prompt(ctx context.Context, action Action) (string, error) {
	p, ok := prompts[action]
	if !ok {
		return "", nil
	}
	return p.label, d.engine.Notice(ctx, p.waiting)
}

// RunAction executes a menu action with the prompt value. Each call is an
// independent request; nothing is cached or merged.
func (d *Dispatcher) RunAction(ctx context.Context, action Action, value string) error {
	if action == ActionQuit {
		if err := d.engine.Notice(ctx, "Quitting"); err != nil {
			return err
		}
		return d.engine.Quit(ctx)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return d.engine.Notice(ctx, emptyValueNotice)
	}

	switch action {
	case ActionCreateGroup:
		return d.createGroup(ctx, value)
	case ActionUserInfo:
		return d.userInfo(ctx, value)
	case ActionUseInvite:
		return d.useInvite(ctx, value)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownAction, action)
	}
}

func (d *Dispatcher) createGroup(ctx context.Context, name string) error {
	if err := d.engine.Notice(ctx, fmt.Sprintf("Creating group with name %s...", name)); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := d.api.CreateGroup(reqCtx, name)
	if err != nil {
		return d.engine.Notice(ctx, errorLine(err, nil))
	}
	return d.engine.Notice(ctx, fmt.Sprintf("Created group with ID %s", id))
}

func (d *Dispatcher) userInfo(ctx context.Context, value string) error {
	name := strings.ReplaceAll(value, "@", "")
	if err := d.engine.Notice(ctx, fmt.Sprintf("Getting user info of @%s...", name)); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	profile, err := d.api.UserInfo(reqCtx, name)
	if err != nil {
		return d.engine.Notice(ctx, errorLine(err, map[int]string{
			api.CodeUserNotFound: "User doesn't exist",
		}))
	}
	return d.engine.Notice(ctx, FormatProfile(profile))
}

func (d *Dispatcher) useInvite(ctx context.Context, code string) error {
	if err := d.engine.Notice(ctx, fmt.Sprintf("Attempting to use invite `%s`...", code)); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.api.UseInvite(reqCtx, code); err != nil {
		return d.engine.Notice(ctx, errorLine(err, map[int]string{
			api.CodeGroupNotFound:  "Group doesn't exist",
			api.CodeInviteNotFound: "Invite doesn't exist",
		}))
	}
	return d.engine.Notice(ctx, "Invite used successfully.")
}

// errorLine maps a REST failure to the log line shown to the operator.
func errorLine(err error, known map[int]string) string {
	code, ok := api.CodeOf(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if msg, ok := known[code]; ok {
		return msg
	}
	return fmt.Sprintf("Error: %d", code)
}
