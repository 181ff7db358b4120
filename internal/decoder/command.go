package decoder

import (
	"regexp"
	"strings"
)

// CommandAction is the closed set of server commands the bridge accepts on
// the primary channel.
type CommandAction int

const (
	ActionUnknown CommandAction = iota
	ActionOpenGate
	ActionCloseGate
	ActionPrintTicket
	ActionStatus
	ActionEnablePrint
	ActionDisablePrint
	ActionResetPrint
)

// Command is one interpreted server instruction.
type Command struct {
	Action    CommandAction
	VehicleID string
}

var commandIDPattern = regexp.MustCompile(`(?i)id[:\s=]+([a-z0-9]+)`)

// ParseCommand interprets free-text instructions received from the server.
// The grammar is intentionally substring-based: operators type these by hand.
func ParseCommand(text string) Command {
	normalized := strings.ToLower(strings.TrimSpace(text))

	switch normalized {
	case "disable_print", "stop_print":
		return Command{Action: ActionDisablePrint}
	case "enable_print", "start_print":
		return Command{Action: ActionEnablePrint}
	case "reset_printing":
		return Command{Action: ActionResetPrint}
	}

	switch {
	case strings.Contains(normalized, "gate") && strings.Contains(normalized, "open"):
		return Command{Action: ActionOpenGate}
	case strings.Contains(normalized, "gate") && strings.Contains(normalized, "close"):
		return Command{Action: ActionCloseGate}
	case strings.Contains(normalized, "print") || strings.Contains(normalized, "ticket"):
		cmd := Command{Action: ActionPrintTicket}
		if m := commandIDPattern.FindStringSubmatch(text); m != nil {
			cmd.VehicleID = m[1]
		}
		return cmd
	case strings.Contains(normalized, "status") || strings.Contains(normalized, "ping"):
		return Command{Action: ActionStatus}
	}

	return Command{Action: ActionUnknown}
}
