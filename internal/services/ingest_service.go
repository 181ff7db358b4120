package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/decoder"
	"github.com/parkops/gatebridge/internal/dispatcher"
	"github.com/parkops/gatebridge/internal/utils"
	"github.com/parkops/gatebridge/pkg/device"
)

// DeviceLink is the line-oriented serial connection the ingest loop polls.
type DeviceLink interface {
	ReadLine() (string, error)
	WriteLine(line string) error
}

// PrinterControl is the runtime printer toggle surface used by control
// lines and server commands.
type PrinterControl interface {
	SetEnabled(on bool)
	Reset()
}

// IngestService polls the serial device, decodes each line and hands
// events to the dispatcher through a worker pool so a slow delivery
// ladder never blocks the read loop.
type IngestService struct {
	device       DeviceLink
	decoder      *decoder.Decoder
	dispatcher   *dispatcher.Dispatcher
	flags        *dispatcher.Flags
	printer      PrinterControl
	pool         *utils.WorkerPool
	pollInterval time.Duration
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestService initializes a new IngestService.
func NewIngestService(dev DeviceLink, dec *decoder.Decoder, disp *dispatcher.Dispatcher,
	flags *dispatcher.Flags, prn PrinterControl, pool *utils.WorkerPool,
	pollInterval time.Duration, logger zerolog.Logger) *IngestService {

	if pollInterval <= 0 {
		pollInterval = constants.DefaultPollInterval
	}
	return &IngestService{
		device:       dev,
		decoder:      dec,
		dispatcher:   disp,
		flags:        flags,
		printer:      prn,
		pool:         pool,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start launches the ingest loop in a separate goroutine.
func (s *IngestService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("IngestService is already running")
		return errors.New("ingest service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runIngestLoop()
	}()

	s.logger.Info().Msg("IngestService started successfully")
	return nil
}

// Stop gracefully stops the ingest service.
func (s *IngestService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("IngestService is not running")
		return errors.New("ingest service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("IngestService stopped successfully")
	return nil
}

// runIngestLoop polls the device for lines until the service is stopped.
func (s *IngestService) runIngestLoop() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info().Msg("IngestService stopping gracefully")
			return
		case <-ticker.C:
			s.drainDevice()
		}
	}
}

// drainDevice reads every complete line currently buffered on the link.
func (s *IngestService) drainDevice() {
	for {
		line, err := s.device.ReadLine()
		if err != nil {
			if errors.Is(err, device.ErrNoData) {
				return
			}
			s.logger.Error().Err(err).Msg("Serial read failed")
			return
		}
		s.handleLine(line)
	}
}

func (s *IngestService) handleLine(line string) {
	evt, ctl, err := s.decoder.Decode(line, time.Now())
	if err != nil {
		s.logger.Warn().Err(err).Str("line", line).Msg("Dropping malformed device line")
		return
	}

	switch {
	case ctl != decoder.ControlNone:
		s.applyControl(ctl)
		s.ack()
	case evt != nil:
		s.logger.Info().
			Str("ticket_id", evt.TicketID).
			Str("vehicle_id", evt.VehicleID).
			Str("kind", string(evt.Kind)).
			Msg("Device event accepted")
		s.ack()

		ev := *evt
		s.pool.Submit(func() {
			outcome, err := s.dispatcher.Deliver(s.ctx, ev)
			if err != nil {
				s.logger.Error().Err(err).Str("ticket_id", ev.TicketID).Msg("Event delivery failed")
				return
			}
			s.logger.Info().
				Str("ticket_id", ev.TicketID).
				Str("result", string(outcome.Result)).
				Str("via", string(outcome.Via)).
				Msg("Event dispatched")
		})
	}
}

func (s *IngestService) applyControl(ctl decoder.Control) {
	s.logger.Info().Str("control", string(ctl)).Msg("Applying device control command")
	switch ctl {
	case decoder.ControlStartAuto:
		s.flags.SetAuto(true)
	case decoder.ControlStopAuto:
		s.flags.SetAuto(false)
	case decoder.ControlEnablePrint:
		s.printer.SetEnabled(true)
	case decoder.ControlDisablePrint:
		s.printer.SetEnabled(false)
	case decoder.ControlReset:
		s.printer.Reset()
	}
}

// ack confirms a processed line back to the controller firmware.
func (s *IngestService) ack() {
	if err := s.device.WriteLine(constants.AckToken); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write acknowledgement to device")
	}
}
