package core

import (
	"regexp"
	"strings"
	"time"

	"github.com/vovakirdan/plugterm/internal/proto"
)

// SGR sequences used for mention highlighting.
const (
	Highlight = "\x1b[47m\x1b[30m"
	Reset     = "\x1b[0m"
)

var mentionPattern = regexp.MustCompile(`(?i)<@([a-z0-9_-]+)>`)

// MentionsUser reports whether content contains the literal mention of username.
func MentionsUser(content, username string) bool {
	return username != "" && strings.Contains(content, "<@"+username+">")
}

// RenderMessage formats a chat message as one scrollback line. A message
// mentioning self is highlighted as a whole; otherwise only the mention
// tokens are.
func RenderMessage(msg proto.ChatMessage, self string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	content := msg.Content
	if MentionsUser(content, self) {
		b.WriteString(Highlight)
		content = mentionPattern.ReplaceAllString(content, "@$1")
	} else {
		content = mentionPattern.ReplaceAllString(content, Highlight+"@$1"+Reset)
	}

	ts := time.UnixMilli(msg.Timestamp).In(loc)
	b.WriteString(ts.Format("15:04"))
	b.WriteString(" [")
	b.WriteString(msg.Author.DisplayName)
	b.WriteString(" (@")
	b.WriteString(msg.Author.Username)
	b.WriteString(")]: ")
	b.WriteString(content)
	b.WriteString(Reset)
	return b.String()
}
