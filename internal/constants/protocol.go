package constants

// Device line protocol tokens.
const (
	// ControlPrefix marks administrative lines from the device that mutate
	// process-wide flags instead of producing events.
	ControlPrefix = "CMD:"

	// ButtonPrefix and ButtonPrefixShort mark explicit push-button lines.
	ButtonPrefix      = "BUTTON:"
	ButtonPrefixShort = "BTN:"

	// Bare button identifiers accepted without a prefix.
	ButtonEntry     = "ENTRY"
	ButtonExit      = "EXIT"
	ButtonEmergency = "EMERGENCY"

	// AckToken is written back to the device after every processed line.
	AckToken = "ACK"
)

// Control commands accepted after ControlPrefix.
const (
	ControlStartAuto    = "start_auto"
	ControlStopAuto     = "stop_auto"
	ControlEnablePrint  = "enable_print"
	ControlDisablePrint = "disable_print"
	ControlReset        = "reset"
)

// Gate relay commands written to the device.
const (
	GateCommandOpen  = "OPEN_GATE"
	GateCommandClose = "CLOSE_GATE"
)
