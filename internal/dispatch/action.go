package dispatch

// Action is an entry of the global actions menu.
type Action int

const (
	ActionCreateGroup Action = iota
	ActionUserInfo
	ActionUseInvite
	ActionQuit
)

// Actions returns the menu entries in display order.
func Actions() []Action {
	return []Action{ActionCreateGroup, ActionUserInfo, ActionUseInvite, ActionQuit}
}

// Label is the menu text of the action.
func (a Action) Label() string {
	switch a {
	case ActionCreateGroup:
		return "Create new group"
	case ActionUserInfo:
		return "Get user info"
	case ActionUseInvite:
		return "Use an invite"
	case ActionQuit:
		return "Quit plugterm"
	default:
		return "unknown action"
	}
}

// NeedsInput reports whether the action opens a prompt before running.
func (a Action) NeedsInput() bool {
	return a != ActionQuit
}

type promptText struct {
	label   string
	waiting string
}

var prompts = map[Action]promptText{
	ActionCreateGroup: {label: "Enter group name", waiting: "Waiting for group name..."},
	ActionUserInfo:    {label: "Enter user name", waiting: "Waiting for user name..."},
	ActionUseInvite:   {label: "Enter invite code", waiting: "Waiting for invite code..."},
}
