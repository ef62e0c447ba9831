package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/plugterm/internal/core"
	"github.com/vovakirdan/plugterm/internal/dispatch"
	"github.com/vovakirdan/plugterm/internal/proto"
)

// PlainOptions tune the line mode.
type PlainOptions struct {
	// NoColor strips escape sequences from printed lines.
	NoColor bool
}

// RunPlain runs the session as a line oriented chat over in and out. It
// needs no terminal and is what scripts and tests drive. End of input quits.
func (a *App) RunPlain(ctx context.Context, in io.Reader, out io.Writer, opts PlainOptions) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{out: out, noColor: opts.NoColor}

	var (
		g          errgroup.Group
		sessionErr error
	)
	g.Go(func() error {
		sessionErr = a.session.Run(ctx)
		return nil
	})
	g.Go(func() error {
		p.drain(a.session)
		return nil
	})

	a.readLoop(ctx, in)
	_ = g.Wait()
	return core.ExitCode(sessionErr), sessionErr
}

func (a *App) readLoop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-a.session.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-a.session.Done():
			return
		case line, ok := <-lines:
			if !ok {
				a.log.Debug().Msg("input closed")
				if err := a.dispatcher.RunAction(ctx, dispatch.ActionQuit, ""); err != nil && !errors.Is(err, core.ErrTerminated) {
					a.log.Warn().Err(err).Msg("quit")
				}
				<-a.session.Done()
				return
			}
			if err := a.handleLine(ctx, line); err != nil {
				if errors.Is(err, core.ErrTerminated) || errors.Is(err, context.Canceled) {
					return
				}
				a.log.Warn().Err(err).Str("line", line).Msg("handle input")
			}
		}
	}
}

// handleLine serves the commands that replace the panes of the UI and
// passes everything else to the dispatcher.
func (a *App) handleLine(ctx context.Context, line string) error {
	prefix := a.cfg.CommandPrefix
	if prefix == "" {
		prefix = "."
	}
	if !strings.HasPrefix(line, prefix) {
		return a.dispatcher.HandleInput(ctx, line)
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, prefix), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "groups":
		return a.session.Notice(ctx, formatGroups(a.session.State().Groups()))
	case "channels":
		return a.session.Notice(ctx, formatChannels(a.session.State().Channels()))
	case "group":
		group, ok := findGroup(a.session.State().Groups(), arg)
		if !ok {
			return a.session.Notice(ctx, fmt.Sprintf("No group %q. Type %sgroups for the list.", arg, prefix))
		}
		return a.dispatcher.SelectGroup(ctx, group)
	case "create":
		return a.dispatcher.RunAction(ctx, dispatch.ActionCreateGroup, arg)
	case "user":
		return a.dispatcher.RunAction(ctx, dispatch.ActionUserInfo, arg)
	case "invite":
		return a.dispatcher.RunAction(ctx, dispatch.ActionUseInvite, arg)
	default:
		return a.dispatcher.HandleInput(ctx, line)
	}
}

// findGroup matches a 1-based list position or a case-insensitive name.
func findGroup(groups []proto.Group, arg string) (proto.Group, bool) {
	if arg == "" {
		return proto.Group{}, false
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(groups) {
		return groups[n-1], true
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, arg) {
			return g, true
		}
	}
	return proto.Group{}, false
}

func formatGroups(groups []proto.Group) string {
	if len(groups) == 0 {
		return "You are not in any group."
	}
	var b strings.Builder
	b.WriteString("Groups:")
	for i, g := range groups {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, g.Name)
	}
	return b.String()
}

func formatChannels(channels []proto.Channel) string {
	if len(channels) == 0 {
		return "No channels. Select a group first."
	}
	var b strings.Builder
	b.WriteString("Channels:")
	for _, ch := range channels {
		b.WriteString("\n  #" + ch.Name)
	}
	return b.String()
}

// printer writes session events as lines. It is the only writer of out.
type printer struct {
	out     io.Writer
	noColor bool
}

func (p *printer) drain(s *core.Session) {
	for {
		select {
		case ev := <-s.Events():
			if p.print(ev) {
				return
			}
		case <-s.Done():
			for {
				select {
				case ev := <-s.Events():
					if p.print(ev) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// print reports true after the final event.
func (p *printer) print(ev core.Event) bool {
	switch ev.Kind {
	case core.EventLog:
		p.line("* " + ev.Line)
	case core.EventIdentity:
		p.line(fmt.Sprintf("* Logged in as %s (@%s)", ev.Identity.DisplayName, ev.Identity.Username))
	case core.EventGroups:
		p.line(formatGroups(ev.Groups))
	case core.EventChannels:
		p.line(fmt.Sprintf("[%s] %s", ev.Group.Name, formatChannels(ev.Channels)))
	case core.EventChannelJoined:
		p.line("-- Joined #" + ev.Channel.Name + " --")
	case core.EventMessage:
		p.line(ev.Line)
	case core.EventTerminated:
		if ev.Err != nil {
			p.line(fmt.Sprintf("* Session ended: %v", ev.Err))
		}
		return true
	}
	return false
}

func (p *printer) line(s string) {
	if p.noColor {
		s = ansi.Strip(s)
	}
	fmt.Fprintln(p.out, s)
}
