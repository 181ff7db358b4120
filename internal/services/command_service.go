package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/decoder"
	"github.com/parkops/gatebridge/internal/dispatcher"
	"github.com/parkops/gatebridge/internal/models"
)

// GateActuator is the barrier surface exposed to server commands.
type GateActuator interface {
	Open()
	HoldOpen()
	Close()
}

// TicketReprinter reprints a ticket on operator request.
type TicketReprinter interface {
	Print(evt models.Event) error
}

// StatusNotifier triggers an immediate device status publish.
type StatusNotifier interface {
	PublishNow()
}

// CommandService consumes operator commands arriving on the primary
// channel and actuates the gate, printer and runtime flags.
type CommandService struct {
	commands  <-chan string
	messages  <-chan string
	gate      GateActuator
	printer   PrinterControl
	reprinter TicketReprinter
	status    StatusNotifier
	flags     *dispatcher.Flags
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCommandService initializes a new CommandService.
func NewCommandService(commands, messages <-chan string, gate GateActuator, prn PrinterControl,
	reprinter TicketReprinter, status StatusNotifier, flags *dispatcher.Flags, logger zerolog.Logger) *CommandService {

	return &CommandService{
		commands:  commands,
		messages:  messages,
		gate:      gate,
		printer:   prn,
		reprinter: reprinter,
		status:    status,
		flags:     flags,
		logger:    logger,
	}
}

// Start launches the command loop in a separate goroutine.
func (cs *CommandService) Start() error {
	if cs.ctx != nil {
		cs.logger.Warn().Msg("CommandService is already running")
		return errors.New("command service is already running")
	}

	cs.ctx, cs.cancel = context.WithCancel(context.Background())

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.runCommandLoop()
	}()

	cs.logger.Info().Msg("CommandService started successfully")
	return nil
}

// Stop gracefully stops the command service.
func (cs *CommandService) Stop() error {
	if cs.ctx == nil {
		cs.logger.Warn().Msg("CommandService is not running")
		return errors.New("command service is not running")
	}

	cs.cancel()
	cs.wg.Wait()

	cs.ctx = nil
	cs.cancel = nil

	cs.logger.Info().Msg("CommandService stopped successfully")
	return nil
}

func (cs *CommandService) runCommandLoop() {
	for {
		select {
		case <-cs.ctx.Done():
			cs.logger.Info().Msg("CommandService stopping gracefully")
			return
		case text := <-cs.commands:
			cs.handleCommand(text)
		case text := <-cs.messages:
			cs.logger.Info().Str("message", text).Msg("Server message received")
		}
	}
}

func (cs *CommandService) handleCommand(text string) {
	cmd := decoder.ParseCommand(text)
	cs.logger.Info().Str("command", text).Msg("Server command received")

	switch cmd.Action {
	case decoder.ActionOpenGate:
		cs.gate.Open()
	case decoder.ActionCloseGate:
		cs.gate.Close()
	case decoder.ActionEnablePrint:
		cs.printer.SetEnabled(true)
	case decoder.ActionDisablePrint:
		cs.printer.SetEnabled(false)
	case decoder.ActionResetPrint:
		cs.printer.Reset()
	case decoder.ActionPrintTicket:
		cs.reprint(cmd)
	case decoder.ActionStatus:
		if cs.status != nil {
			cs.status.PublishNow()
		}
	default:
		cs.logger.Warn().Str("command", text).Msg("Ignoring unrecognized server command")
	}
}

// reprint prints a courtesy ticket for an operator-supplied vehicle id.
func (cs *CommandService) reprint(cmd decoder.Command) {
	if cs.reprinter == nil {
		cs.logger.Warn().Msg("No printer configured, ignoring print command")
		return
	}
	now := time.Now()
	evt := models.Event{
		TicketID:  now.Format("20060102_150405") + "_REPRINT",
		VehicleID: cmd.VehicleID,
		Kind:      models.KindManualEntry,
		CreatedAt: now,
	}
	if evt.VehicleID == "" {
		evt.VehicleID = "MANUAL"
	}
	if err := cs.reprinter.Print(evt); err != nil {
		cs.logger.Error().Err(err).Msg("Ticket reprint failed")
	}
}
