package tui

import (
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// item is a single-line list entry.
type item string

func (i item) FilterValue() string { return string(i) }

var (
	itemStyle         = lipgloss.NewStyle().PaddingLeft(1)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(1).Bold(true).Background(focusColor)
)

// itemDelegate renders items without descriptions or spacing so short panes
// still show every entry.
type itemDelegate struct{}

func (itemDelegate) Height() int { return 1 }

func (itemDelegate) Spacing() int { return 0 }

func (itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (itemDelegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	it, ok := li.(item)
	if !ok {
		return
	}
	style := itemStyle
	if index == m.Index() {
		style = selectedItemStyle
	}
	_, _ = io.WriteString(w, style.MaxWidth(m.Width()).Render(string(it)))
}

func newList(labels []string) list.Model {
	l := list.New(toItems(labels), itemDelegate{}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetShowPagination(false)
	l.DisableQuitKeybindings()
	return l
}

func toItems(labels []string) []list.Item {
	items := make([]list.Item, len(labels))
	for i, l := range labels {
		items[i] = item(l)
	}
	return items
}
