// Package decoder turns raw device lines into typed events. It owns the
// whole line grammar: control commands, button presses, counter values and
// raw scan data, plus the single-slot debounce that filters switch noise.
package decoder

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/models"
)

// Control is a decoded administrative action from the device. Controls
// mutate process-wide flags and never become events.
type Control string

const (
	ControlNone         Control = ""
	ControlStartAuto    Control = constants.ControlStartAuto
	ControlStopAuto     Control = constants.ControlStopAuto
	ControlEnablePrint  Control = constants.ControlEnablePrint
	ControlDisablePrint Control = constants.ControlDisablePrint
	ControlReset        Control = constants.ControlReset
)

var (
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	counterPattern = regexp.MustCompile(`^BTN([0-9]+)$`)
	scanPattern    = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Decoder classifies device lines. It is used from a single goroutine (the
// ingestion loop) and keeps only the last-accepted token for debounce.
type Decoder struct {
	debounceWindow time.Duration
	minScanLength  int
	logger         zerolog.Logger

	lastToken    string
	lastAccepted time.Time
}

// New builds a decoder. Zero values fall back to the protocol defaults.
func New(debounceWindow time.Duration, minScanLength int, logger zerolog.Logger) *Decoder {
	if debounceWindow <= 0 {
		debounceWindow = constants.DefaultDebounceWindow
	}
	if minScanLength <= 0 {
		minScanLength = constants.DefaultMinScanLength
	}
	return &Decoder{
		debounceWindow: debounceWindow,
		minScanLength:  minScanLength,
		logger:         logger,
	}
}

// Decode classifies one raw line. At most one of the event and control
// results is set; both empty with a nil error means the line produced
// nothing (blank line or debounced duplicate). A non-nil error is always a
// ProtocolMalformed delivery error and must not abort the ingestion loop.
func (d *Decoder) Decode(raw string, now time.Time) (*models.Event, Control, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil, ControlNone, nil
	}

	if strings.HasPrefix(line, constants.ControlPrefix) {
		ctrl, err := d.decodeControl(line)
		return nil, ctrl, err
	}

	// Single-slot debounce: only the immediately previous accepted token is
	// compared, within the noise window.
	if line == d.lastToken && now.Sub(d.lastAccepted) < d.debounceWindow {
		d.logger.Debug().Str("token", line).Msg("Dropping duplicate line inside debounce window")
		return nil, ControlNone, nil
	}

	ev, err := d.classify(line, now)
	if err != nil {
		return nil, ControlNone, err
	}

	d.lastToken = line
	d.lastAccepted = now
	return ev, ControlNone, nil
}

func (d *Decoder) decodeControl(line string) (Control, error) {
	verb := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, constants.ControlPrefix)))
	switch Control(verb) {
	case ControlStartAuto, ControlStopAuto, ControlEnablePrint, ControlDisablePrint, ControlReset:
		return Control(verb), nil
	}
	return ControlNone, models.NewDeliveryError(models.FailureMalformed, "",
		fmt.Errorf("unknown control command %q", verb))
}

// classify applies the accepted event shapes in precedence order.
func (d *Decoder) classify(line string, now time.Time) (*models.Event, error) {
	// 1. Explicit button-prefixed tokens, including the bare BTN<digits>
	// counter form emitted by older firmware.
	if rest, ok := cutPrefix(line, constants.ButtonPrefix, constants.ButtonPrefixShort); ok {
		if numericPattern.MatchString(rest) {
			counter, _ := strconv.Atoi(rest)
			return d.counterEvent(line, counter, now), nil
		}
		if ev := d.buttonEvent(line, rest, now); ev != nil {
			return ev, nil
		}
		return nil, models.NewDeliveryError(models.FailureMalformed, "",
			fmt.Errorf("unknown button %q", rest))
	}
	if m := counterPattern.FindStringSubmatch(line); m != nil {
		counter, _ := strconv.Atoi(m[1])
		return d.counterEvent(line, counter, now), nil
	}

	// 2. Bare keyword tokens.
	if ev := d.buttonEvent(line, line, now); ev != nil {
		return ev, nil
	}

	// 3. Structured "BUTTON <type>" tokens.
	if strings.HasPrefix(strings.ToUpper(line), "BUTTON") {
		return d.structuredButtonEvent(line, now), nil
	}

	// 4. Purely numeric counter tokens.
	if numericPattern.MatchString(line) {
		counter, _ := strconv.Atoi(line)
		return d.counterEvent(line, counter, now), nil
	}

	// 5. Raw scan/barcode data.
	if len(line) >= d.minScanLength && scanPattern.MatchString(line) {
		return &models.Event{
			TicketID:  randomTicketID(now),
			VehicleID: line,
			Kind:      models.KindVehicleEntry,
			Raw:       line,
			CreatedAt: now,
		}, nil
	}

	return nil, models.NewDeliveryError(models.FailureMalformed, "",
		fmt.Errorf("unrecognized line %q", line))
}

// buttonEvent maps an exact ENTRY/EXIT/EMERGENCY token, or nil if the token
// is not one of them.
func (d *Decoder) buttonEvent(raw, token string, now time.Time) *models.Event {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case constants.ButtonEntry:
		return d.manualEntryEvent(raw, now)
	case constants.ButtonExit:
		return &models.Event{
			TicketID:  randomTicketID(now),
			VehicleID: constants.ButtonExit,
			Kind:      models.KindManualExit,
			Raw:       raw,
			CreatedAt: now,
		}
	case constants.ButtonEmergency:
		return &models.Event{
			TicketID:  randomTicketID(now),
			VehicleID: constants.ButtonEmergency,
			Kind:      models.KindEmergency,
			Raw:       raw,
			CreatedAt: now,
		}
	}
	return nil
}

// structuredButtonEvent handles "BUTTON <type>" lines split on separators,
// mapped by substring, defaulting to entry when no type is present.
func (d *Decoder) structuredButtonEvent(line string, now time.Time) *models.Event {
	parts := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '_' || r == ':' || r == '-'
	})
	if len(parts) < 2 {
		return d.manualEntryEvent(line, now)
	}

	buttonType := strings.ToUpper(parts[1])
	switch {
	case strings.Contains(buttonType, "ENTRY") || buttonType == "IN":
		return d.manualEntryEvent(line, now)
	case strings.Contains(buttonType, "EXIT") || buttonType == "OUT":
		return &models.Event{
			TicketID:  randomTicketID(now),
			VehicleID: constants.ButtonExit,
			Kind:      models.KindManualExit,
			Raw:       line,
			CreatedAt: now,
		}
	case strings.Contains(buttonType, "EMERG"):
		return &models.Event{
			TicketID:  randomTicketID(now),
			VehicleID: constants.ButtonEmergency,
			Kind:      models.KindEmergency,
			Raw:       line,
			CreatedAt: now,
		}
	}
	return d.manualEntryEvent(line, now)
}

func (d *Decoder) manualEntryEvent(raw string, now time.Time) *models.Event {
	return &models.Event{
		TicketID:  randomTicketID(now),
		VehicleID: "MANUAL_" + now.Format("20060102150405"),
		Kind:      models.KindManualEntry,
		Raw:       raw,
		CreatedAt: now,
	}
}

// counterEvent synthesizes a vehicle id and ticket id from a button counter.
// The ticket id is deterministic: wall clock plus the counter as suffix, so
// duplicate timestamps within the same second still yield distinct ids.
func (d *Decoder) counterEvent(raw string, counter int, now time.Time) *models.Event {
	return &models.Event{
		TicketID:  fmt.Sprintf("%s_%04d", now.Format("20060102_150405"), counter),
		VehicleID: fmt.Sprintf("BTN%04d", counter),
		Kind:      models.KindVehicleEntry,
		Raw:       raw,
		CreatedAt: now,
	}
}

// randomTicketID distinguishes tickets captured within the same second with
// a random 4-digit suffix.
func randomTicketID(now time.Time) string {
	return fmt.Sprintf("%s_%04d", now.Format("20060102_150405"), 1000+rand.Intn(9000))
}

func cutPrefix(line string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(strings.TrimPrefix(line, p)), true
		}
	}
	return "", false
}
