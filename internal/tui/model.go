// Package tui renders the session in a terminal with bubbletea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vovakirdan/plugterm/internal/core"
	"github.com/vovakirdan/plugterm/internal/dispatch"
	"github.com/vovakirdan/plugterm/internal/proto"
)

// Controller is the dispatcher surface the UI drives.
type Controller interface {
	HandleInput(ctx context.Context, text string) error
	SelectGroup(ctx context.Context, group proto.Group) error
	SelectChannel(ctx context.Context, channel proto.Channel) error
	Prompt(ctx context.Context, action dispatch.Action) (string, error)
	RunAction(ctx context.Context, action dispatch.Action, value string) error
}

type pane int

const (
	paneGroups pane = iota
	paneChannels
	paneMessages
	paneInput
	paneLogs
	paneActions
	paneCount
)

// Keep at most this many lines per scrollback pane.
const maxScrollback = 1000

type sessionEventMsg core.Event

type commandDoneMsg struct{ err error }

type promptOpenMsg struct {
	action dispatch.Action
	label  string
	err    error
}

type promptState struct {
	action dispatch.Action
	label  string
	input  textinput.Model
}

// Model is the root bubbletea model.
type Model struct {
	ctx    context.Context
	events <-chan core.Event
	ctrl   Controller
	keys   KeyMap
	help   help.Model

	focus    pane
	groups   []proto.Group
	channels []proto.Channel
	actions  []dispatch.Action

	groupList   list.Model
	channelList list.Model
	actionList  list.Model
	messages    viewport.Model
	logs        viewport.Model
	input       textinput.Model
	prompt      *promptState

	messageLines []string
	logLines     []string

	identity string
	channel  string
	group    string
	width    int
	height   int
}

// New builds the model. events is the session event stream; ctrl runs
// operator actions.
func New(ctx context.Context, events <-chan core.Event, ctrl Controller) Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Prompt = "> "
	input.CharLimit = 2000

	actions := dispatch.Actions()
	labels := make([]string, len(actions))
	for i, a := range actions {
		labels[i] = a.Label()
	}

	m := Model{
		ctx:         ctx,
		events:      events,
		ctrl:        ctrl,
		keys:        DefaultKeyMap(),
		help:        help.New(),
		focus:       paneGroups,
		actions:     actions,
		groupList:   newList(nil),
		channelList: newList(nil),
		actionList:  newList(labels),
		messages:    viewport.New(0, 0),
		logs:        viewport.New(0, 0),
		input:       input,
	}
	return m
}

// Init starts listening to the session.
func (m Model) Init() tea.Cmd {
	return m.listen()
}

// listen waits for the next session event.
func (m Model) listen() tea.Cmd {
	ctx, events := m.ctx, m.events
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			return sessionEventMsg(ev)
		}
	}
}

// run executes a dispatcher call off the update loop so REST requests do
// not freeze the UI.
func (m Model) run(f func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return commandDoneMsg{err: f(ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case sessionEventMsg:
		return m.handleEvent(core.Event(msg))

	case commandDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, core.ErrTerminated) && !errors.Is(msg.err, context.Canceled) {
			m.appendLog("plugterm | " + msg.err.Error())
		}
		return m, nil

	case promptOpenMsg:
		if msg.err != nil {
			m.appendLog("plugterm | " + msg.err.Error())
			return m, nil
		}
		return m.openPrompt(msg.action, msg.label)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateFocused(msg)
}

func (m Model) handleEvent(ev core.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case core.EventLog:
		m.appendLog(ev.Line)
	case core.EventIdentity:
		m.identity = fmt.Sprintf("%s (@%s)", ev.Identity.DisplayName, ev.Identity.Username)
	case core.EventGroups:
		m.groups = ev.Groups
		labels := make([]string, len(ev.Groups))
		for i, g := range ev.Groups {
			labels[i] = g.Name
		}
		m.groupList.SetItems(toItems(labels))
	case core.EventChannels:
		m.group = ev.Group.Name
		m.channels = ev.Channels
		labels := make([]string, len(ev.Channels))
		for i, c := range ev.Channels {
			labels[i] = "#" + c.Name
		}
		m.channelList.SetItems(toItems(labels))
		m.channelList.Select(0)
	case core.EventChannelJoined:
		m.channel = ev.Channel.Name
		m.messageLines = nil
		m.refreshMessages()
	case core.EventMessage:
		m.messageLines = appendCapped(m.messageLines, ev.Line)
		m.refreshMessages()
	case core.EventTerminated:
		// The exit code comes from the session result, not the UI.
		return m, tea.Quit
	}
	return m, m.listen()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	if m.prompt != nil {
		return m.handlePromptKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.NextPane):
		m.setFocus((m.focus + 1) % paneCount)
		return m, nil
	case key.Matches(msg, m.keys.PrevPane):
		m.setFocus((m.focus + paneCount - 1) % paneCount)
		return m, nil
	case key.Matches(msg, m.keys.Select):
		return m.selectFocused()
	}

	return m.updateFocused(msg)
}

func (m Model) selectFocused() (tea.Model, tea.Cmd) {
	switch m.focus {
	case paneGroups:
		idx := m.groupList.Index()
		if idx < 0 || idx >= len(m.groups) {
			return m, nil
		}
		group := m.groups[idx]
		return m, m.run(func(ctx context.Context) error { return m.ctrl.SelectGroup(ctx, group) })

	case paneChannels:
		idx := m.channelList.Index()
		if idx < 0 || idx >= len(m.channels) {
			return m, nil
		}
		channel := m.channels[idx]
		return m, m.run(func(ctx context.Context) error { return m.ctrl.SelectChannel(ctx, channel) })

	case paneInput:
		text := m.input.Value()
		m.input.Reset()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		return m, m.run(func(ctx context.Context) error { return m.ctrl.HandleInput(ctx, text) })

	case paneActions:
		idx := m.actionList.Index()
		if idx < 0 || idx >= len(m.actions) {
			return m, nil
		}
		action := m.actions[idx]
		if !action.NeedsInput() {
			return m, m.run(func(ctx context.Context) error { return m.ctrl.RunAction(ctx, action, "") })
		}
		ctx, ctrl := m.ctx, m.ctrl
		return m, func() tea.Msg {
			label, err := ctrl.Prompt(ctx, action)
			return promptOpenMsg{action: action, label: label, err: err}
		}
	}
	return m, nil
}

func (m Model) openPrompt(action dispatch.Action, label string) (tea.Model, tea.Cmd) {
	ti := textinput.New()
	ti.Prompt = ""
	ti.CharLimit = 200
	ti.Width = 32
	cmd := ti.Focus()
	m.input.Blur()
	m.prompt = &promptState{action: action, label: label, input: ti}
	return m, cmd
}

func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.prompt = nil
		m.setFocus(m.focus)
		return m, nil
	case key.Matches(msg, m.keys.Select):
		action, value := m.prompt.action, m.prompt.input.Value()
		m.prompt = nil
		m.setFocus(m.focus)
		return m, m.run(func(ctx context.Context) error { return m.ctrl.RunAction(ctx, action, value) })
	}

	p := *m.prompt
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	m.prompt = &p
	return m, cmd
}

func (m Model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focus {
	case paneGroups:
		m.groupList, cmd = m.groupList.Update(msg)
	case paneChannels:
		m.channelList, cmd = m.channelList.Update(msg)
	case paneMessages:
		m.messages, cmd = m.messages.Update(msg)
	case paneInput:
		m.input, cmd = m.input.Update(msg)
	case paneLogs:
		m.logs, cmd = m.logs.Update(msg)
	case paneActions:
		m.actionList, cmd = m.actionList.Update(msg)
	}
	return m, cmd
}

func (m *Model) setFocus(p pane) {
	m.focus = p
	if p == paneInput && m.prompt == nil {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) appendLog(line string) {
	m.logLines = appendCapped(m.logLines, line)
	m.refreshLogs()
}

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxScrollback {
		lines = lines[len(lines)-maxScrollback:]
	}
	return lines
}

func (m *Model) refreshMessages() {
	m.messages.SetContent(wrapLines(m.messageLines, m.messages.Width))
	m.messages.GotoBottom()
}

func (m *Model) refreshLogs() {
	m.logs.SetContent(wrapLines(m.logLines, m.logs.Width))
	m.logs.GotoBottom()
}

// wrapLines word-wraps each line to width. Escape sequences do not count
// towards the width.
func wrapLines(lines []string, width int) string {
	if width <= 0 {
		return strings.Join(lines, "\n")
	}
	wrapped := make([]string, len(lines))
	for i, l := range lines {
		wrapped[i] = wordwrap.String(l, width)
	}
	return strings.Join(wrapped, "\n")
}

// Pane geometry. Every pane has a border and a title row.
const (
	borderSize  = 2
	chromeW     = borderSize
	chromeH     = borderSize + 1
	inputPaneH  = 4
	helpHeight  = 1
	minPaneSize = 1
)

type layout struct {
	topH      int
	bottomH   int
	groupsW   int
	channelsW int
	rightW    int
	messagesH int
	logsW     int
	actionsW  int
}

func (m Model) layout() layout {
	h := m.height - helpHeight
	l := layout{}
	l.topH = h * 3 / 4
	l.bottomH = h - l.topH
	l.groupsW = m.width * 16 / 100
	l.channelsW = m.width * 20 / 100
	l.rightW = m.width - l.groupsW - l.channelsW
	l.messagesH = l.topH - inputPaneH
	l.logsW = m.width * 2 / 3
	l.actionsW = m.width - l.logsW
	return l
}

func inner(v, chrome int) int {
	return max(v-chrome, minPaneSize)
}

func (m *Model) resize() {
	l := m.layout()
	m.groupList.SetSize(inner(l.groupsW, chromeW), inner(l.topH, chromeH))
	m.channelList.SetSize(inner(l.channelsW, chromeW), inner(l.topH, chromeH))
	m.actionList.SetSize(inner(l.actionsW, chromeW), inner(l.bottomH, chromeH))
	m.messages.Width = inner(l.rightW, chromeW)
	m.messages.Height = inner(l.messagesH, chromeH)
	m.logs.Width = inner(l.logsW, chromeW)
	m.logs.Height = inner(l.bottomH, chromeH)
	m.input.Width = inner(l.rightW, chromeW+len(m.input.Prompt)+1)
	m.help.Width = m.width
	m.refreshMessages()
	m.refreshLogs()
}

func (m Model) box(p pane, title, body string, w, h int) string {
	style, titleStyle := paneStyle, paneTitleStyle
	if m.focus == p && m.prompt == nil {
		style, titleStyle = focusedPaneStyle, focusedTitleStyle
	}
	content := titleStyle.Render(title) + "\n" + body
	return style.
		Width(inner(w, chromeW)).
		Height(inner(h, borderSize)).
		MaxHeight(max(h, minPaneSize)).
		Render(content)
}

// View renders the screen.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Connecting to Plugify..."
	}

	if m.prompt != nil {
		box := promptStyle.Render(m.prompt.label + "\n" + m.prompt.input.View())
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}

	l := m.layout()

	messagesTitle := "Messages"
	if m.channel != "" {
		messagesTitle = "Messages | #" + m.channel
	}
	groupsTitle := "Groups"
	if m.identity != "" {
		groupsTitle = "Groups | " + m.identity
	}
	channelsTitle := "Channels"
	if m.group != "" {
		channelsTitle = "Channels | " + m.group
	}

	right := lipgloss.JoinVertical(lipgloss.Left,
		m.box(paneMessages, messagesTitle, m.messages.View(), l.rightW, l.messagesH),
		m.box(paneInput, "Input", m.input.View(), l.rightW, inputPaneH),
	)
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		m.box(paneGroups, groupsTitle, m.groupList.View(), l.groupsW, l.topH),
		m.box(paneChannels, channelsTitle, m.channelList.View(), l.channelsW, l.topH),
		right,
	)
	bottom := lipgloss.JoinHorizontal(lipgloss.Top,
		m.box(paneLogs, "Logs", m.logs.View(), l.logsW, l.bottomH),
		m.box(paneActions, "Actions (global)", m.actionList.View(), l.actionsW, l.bottomH),
	)

	return lipgloss.JoinVertical(lipgloss.Left, top, bottom, m.help.View(m.keys))
}
