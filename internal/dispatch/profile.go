package dispatch

import (
	"fmt"
	"strings"

	"github.com/vovakirdan/plugterm/internal/api"
)

// Badge colours per flag label.
var badgeStyle = map[string]string{
	"PRO":   "\x1b[42m",
	"DEV":   "\x1b[44m",
	"EARLY": "\x1b[45m",
	"BETA":  "\x1b[43m",
}

const sgrReset = "\x1b[0m"

// FormatProfile renders a user profile as a framed block for the log pane.
func FormatProfile(p api.Profile) string {
	var b strings.Builder
	b.WriteString("----\n")
	fmt.Fprintf(&b, "%s (@%s)", p.DisplayName, p.Name)
	for _, label := range p.Flags.Labels() {
		b.WriteString(" ")
		b.WriteString(badgeStyle[label])
		b.WriteString(label)
		b.WriteString(sgrReset)
	}
	fmt.Fprintf(&b, "\nAvatar URL: %s\n----", p.AvatarURL)
	return b.String()
}
