package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand_GateActions(t *testing.T) {
	assert.Equal(t, ActionOpenGate, ParseCommand("open the gate").Action)
	assert.Equal(t, ActionOpenGate, ParseCommand("GATE OPEN please").Action)
	assert.Equal(t, ActionCloseGate, ParseCommand("close gate now").Action)
}

func TestParseCommand_PrintAliases(t *testing.T) {
	assert.Equal(t, ActionDisablePrint, ParseCommand("disable_print").Action)
	assert.Equal(t, ActionDisablePrint, ParseCommand("stop_print").Action)
	assert.Equal(t, ActionEnablePrint, ParseCommand("enable_print").Action)
	assert.Equal(t, ActionEnablePrint, ParseCommand("start_print").Action)
	assert.Equal(t, ActionResetPrint, ParseCommand("reset_printing").Action)
}

func TestParseCommand_PrintTicketWithID(t *testing.T) {
	cmd := ParseCommand("print ticket id: BTN0042")

	assert.Equal(t, ActionPrintTicket, cmd.Action)
	assert.Equal(t, "BTN0042", cmd.VehicleID)
}

func TestParseCommand_PrintTicketWithoutID(t *testing.T) {
	cmd := ParseCommand("reprint last ticket")

	assert.Equal(t, ActionPrintTicket, cmd.Action)
	assert.Empty(t, cmd.VehicleID)
}

func TestParseCommand_Status(t *testing.T) {
	assert.Equal(t, ActionStatus, ParseCommand("status?").Action)
	assert.Equal(t, ActionStatus, ParseCommand("ping").Action)
}

func TestParseCommand_Unknown(t *testing.T) {
	assert.Equal(t, ActionUnknown, ParseCommand("make me a sandwich").Action)
	assert.Equal(t, ActionUnknown, ParseCommand("").Action)
}
