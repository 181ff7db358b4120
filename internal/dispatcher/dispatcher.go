// Package dispatcher routes decoded device events to their delivery
// targets: the database first, then the realtime channel with a REST
// fallback, with the offline cache as the safety net of last resort.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/cache"
	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/internal/monitor"
	"github.com/parkops/gatebridge/internal/printer"
	"github.com/parkops/gatebridge/internal/ratelimit"
)

// VehicleStore persists vehicle entries and the manual operations log.
type VehicleStore interface {
	UpsertVehicleEntry(ctx context.Context, vehicleID, ticketID, snapshotRef string, enteredAt time.Time) error
	LogManualOperation(ctx context.Context, opType string, occurredAt time.Time, note string) error
}

// Realtime is the primary delivery channel.
type Realtime interface {
	Connected() bool
	SendVehicleAdded(payload models.VehiclePayload) error
	SendEmergencyAlert(alert models.EmergencyAlert) error
}

// REST is the secondary delivery channel.
type REST interface {
	PostJSON(ctx context.Context, payload models.VehiclePayload) error
	PostForm(ctx context.Context, payload models.VehiclePayload, attachmentPath string) error
	PostAlternate(ctx context.Context, payload models.VehiclePayload) error
}

// TicketPrinter prints entry tickets.
type TicketPrinter interface {
	Available() bool
	Print(evt models.Event) error
}

// Gate actuates the entry barrier.
type Gate interface {
	Open()
	HoldOpen()
	Close()
}

// Camera captures entry snapshots.
type Camera interface {
	Available() bool
	Capture(ctx context.Context, ticketID string) (string, error)
}

// Result describes what happened to a dispatched event.
type Result string

const (
	// ResultSuppressed means auto mode was off and the event was dropped.
	ResultSuppressed Result = "suppressed"
	// ResultDelivered means at least one channel accepted the event live.
	ResultDelivered Result = "delivered"
	// ResultCached means the event went to the offline cache for later
	// reconciliation.
	ResultCached Result = "cached"
	// ResultHandled means the event needed only local actuation.
	ResultHandled Result = "handled"
)

// Outcome reports the dispatch result and, when delivered, the channel
// that accepted it.
type Outcome struct {
	Result Result
	Via    models.Target
}

// Config tunes the delivery ladder.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Dispatcher owns the delivery ladder for decoded events.
type Dispatcher struct {
	cfg      Config
	flags    *Flags
	store    VehicleStore
	realtime Realtime
	rest     REST
	printer  TicketPrinter
	gate     Gate
	camera   Camera
	monitor  *monitor.Monitor
	queue    *cache.Queue
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
}

// New wires a dispatcher. store, realtime, rest, printer, gate and
// camera may each be nil when the corresponding target is not
// configured; the ladder skips absent targets.
func New(cfg Config, flags *Flags, store VehicleStore, realtime Realtime, rest REST,
	prn TicketPrinter, gate Gate, cam Camera, mon *monitor.Monitor, queue *cache.Queue,
	limiter *ratelimit.Limiter, logger zerolog.Logger) *Dispatcher {

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = constants.DefaultRetryDelay
	}
	return &Dispatcher{
		cfg:      cfg,
		flags:    flags,
		store:    store,
		realtime: realtime,
		rest:     rest,
		printer:  prn,
		gate:     gate,
		camera:   cam,
		monitor:  mon,
		queue:    queue,
		limiter:  limiter,
		logger:   logger,
	}
}

// Deliver routes one decoded event. Entry events walk the full ladder:
// snapshot, database write, realtime channel, REST fallbacks, offline
// cache. Manual exits and emergencies actuate the gate and are logged.
func (d *Dispatcher) Deliver(ctx context.Context, evt models.Event) (Outcome, error) {
	if !d.flags.AutoEnabled() {
		d.logger.Debug().Str("ticket_id", evt.TicketID).Msg("Auto mode off, suppressing event")
		return Outcome{Result: ResultSuppressed}, nil
	}

	if evt.IsEntry() {
		return d.deliverEntry(ctx, evt)
	}

	switch evt.Kind {
	case models.KindManualExit:
		return d.deliverManualExit(ctx, evt)
	case models.KindEmergency:
		return d.deliverEmergency(ctx, evt)
	default:
		return Outcome{}, models.NewDeliveryError(models.FailureMalformed, "",
			errors.New("dispatcher: unroutable event kind "+string(evt.Kind)))
	}
}

func (d *Dispatcher) deliverEntry(ctx context.Context, evt models.Event) (Outcome, error) {
	if evt.Attachment == "" && d.camera != nil && d.camera.Available() {
		ref, err := d.camera.Capture(ctx, evt.TicketID)
		if err != nil {
			d.logger.Warn().Err(err).Str("ticket_id", evt.TicketID).Msg("Snapshot capture failed, continuing without image")
			d.monitor.ReportFailure(models.TargetCamera, err)
		} else {
			evt.Attachment = ref
			d.monitor.ReportSuccess(models.TargetCamera)
		}
	}

	dbPersisted, dbFailedLive := d.writeDatabase(ctx, evt)

	via, chErr := d.deliverChannels(ctx, evt)
	delivered := chErr == nil

	// Local actuation happens regardless of network outcome: the
	// vehicle at the barrier is served from what we know locally.
	d.actuateEntry(evt)

	if !dbPersisted && (dbFailedLive || !delivered) {
		if err := d.queue.Enqueue(evt); err != nil {
			d.logger.Error().Err(err).Str("ticket_id", evt.TicketID).Msg("Failed to cache event, data may be lost")
			return Outcome{}, err
		}
		if delivered {
			return Outcome{Result: ResultDelivered, Via: via}, nil
		}
		return Outcome{Result: ResultCached}, nil
	}

	if delivered {
		return Outcome{Result: ResultDelivered, Via: via}, nil
	}
	// Database has the record; channels will learn about it from the
	// backend's own reconciliation.
	return Outcome{Result: ResultDelivered, Via: models.TargetDatabase}, nil
}

// writeDatabase attempts the system-of-record write when the database
// is believed reachable. It reports whether the record was persisted
// and whether a live write attempt failed.
func (d *Dispatcher) writeDatabase(ctx context.Context, evt models.Event) (persisted, failedLive bool) {
	if d.store == nil {
		return false, false
	}
	if !d.monitor.IsUp(models.TargetDatabase) {
		d.logger.Debug().Str("ticket_id", evt.TicketID).Msg("Database believed down, skipping live write")
		return false, false
	}

	if err := d.store.UpsertVehicleEntry(ctx, evt.VehicleID, evt.TicketID, evt.Attachment, evt.CreatedAt); err != nil {
		d.logger.Error().Err(err).Str("ticket_id", evt.TicketID).Msg("Database write failed")
		d.monitor.ReportFailure(models.TargetDatabase, err)
		return false, true
	}
	d.monitor.ReportSuccess(models.TargetDatabase)
	return true, false
}

// deliverChannels walks the channel ladder: realtime first, then REST
// with retries, form fallback and alternate endpoints.
func (d *Dispatcher) deliverChannels(ctx context.Context, evt models.Event) (models.Target, error) {
	payload := models.VehiclePayload{
		VehicleID:   evt.VehicleID,
		TicketID:    evt.TicketID,
		PlateNumber: evt.VehicleID,
		VehicleType: "unknown",
		Timestamp:   evt.CreatedAt,
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", models.NewDeliveryError(models.FailureTransient, models.TargetPrimaryChannel, err)
		}
	}

	if d.realtime != nil && d.realtime.Connected() {
		if err := d.realtime.SendVehicleAdded(payload); err == nil {
			d.monitor.ReportSuccess(models.TargetPrimaryChannel)
			return models.TargetPrimaryChannel, nil
		} else {
			d.logger.Warn().Err(err).Str("ticket_id", evt.TicketID).Msg("Realtime publish failed, falling back to REST")
			d.monitor.ReportFailure(models.TargetPrimaryChannel, err)
		}
	}

	if d.rest == nil {
		return "", models.NewDeliveryError(models.FailureTransient, models.TargetSecondaryChannel,
			errors.New("no secondary channel configured"))
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.rest.PostJSON(ctx, payload)
		if err == nil {
			d.monitor.ReportSuccess(models.TargetSecondaryChannel)
			return models.TargetSecondaryChannel, nil
		}
		lastErr = err

		switch models.ClassOf(err) {
		case models.FailureAuthRejected:
			// Credentials problems never heal by retrying.
			d.logger.Error().Err(err).Msg("Server rejected credentials, aborting delivery")
			d.monitor.ReportFailure(models.TargetSecondaryChannel, err)
			return "", err
		case models.FailureValidation:
			// Some server builds only accept the multipart form shape.
			if formErr := d.rest.PostForm(ctx, payload, evt.Attachment); formErr == nil {
				d.monitor.ReportSuccess(models.TargetSecondaryChannel)
				return models.TargetSecondaryChannel, nil
			} else {
				lastErr = formErr
			}
		}

		if attempt < d.cfg.MaxAttempts {
			delay := time.Duration(attempt) * d.cfg.RetryDelay
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if err := d.rest.PostAlternate(ctx, payload); err == nil {
		d.monitor.ReportSuccess(models.TargetSecondaryChannel)
		return models.TargetSecondaryChannel, nil
	}

	d.monitor.ReportFailure(models.TargetSecondaryChannel, lastErr)
	return "", lastErr
}

func (d *Dispatcher) actuateEntry(evt models.Event) {
	if d.gate != nil {
		d.gate.Open()
	}
	if d.printer == nil || !d.printer.Available() {
		return
	}
	if err := d.printer.Print(evt); err != nil {
		if errors.Is(err, printer.ErrPrintSuppressed) {
			d.logger.Info().Str("ticket_id", evt.TicketID).Msg("Ticket print suppressed by interval window")
			return
		}
		d.logger.Error().Err(err).Str("ticket_id", evt.TicketID).Msg("Ticket print failed")
		d.monitor.ReportFailure(models.TargetPrinter, err)
		return
	}
	d.monitor.ReportSuccess(models.TargetPrinter)
}

func (d *Dispatcher) deliverManualExit(ctx context.Context, evt models.Event) (Outcome, error) {
	if d.gate != nil {
		d.gate.Open()
	}
	d.logManual(ctx, "manual_exit", evt)
	return Outcome{Result: ResultHandled}, nil
}

func (d *Dispatcher) deliverEmergency(ctx context.Context, evt models.Event) (Outcome, error) {
	if d.gate != nil {
		d.gate.HoldOpen()
	}
	d.logManual(ctx, "emergency", evt)

	if d.realtime != nil && d.realtime.Connected() {
		alert := models.EmergencyAlert{
			Message:   "Emergency button pressed at entry gate",
			Timestamp: evt.CreatedAt,
		}
		if err := d.realtime.SendEmergencyAlert(alert); err != nil {
			d.logger.Error().Err(err).Msg("Failed to publish emergency alert")
			d.monitor.ReportFailure(models.TargetPrimaryChannel, err)
		} else {
			d.monitor.ReportSuccess(models.TargetPrimaryChannel)
		}
	}
	return Outcome{Result: ResultHandled}, nil
}

func (d *Dispatcher) logManual(ctx context.Context, opType string, evt models.Event) {
	if d.store == nil || !d.monitor.IsUp(models.TargetDatabase) {
		return
	}
	if err := d.store.LogManualOperation(ctx, opType, evt.CreatedAt, evt.Raw); err != nil {
		d.logger.Warn().Err(err).Str("op", opType).Msg("Failed to record manual operation")
		d.monitor.ReportFailure(models.TargetDatabase, err)
	} else {
		d.monitor.ReportSuccess(models.TargetDatabase)
	}
}

// Redeliver writes one cached event to the system of record. Used by
// the reconciliation drain; a duplicate ticket id is a success.
func (d *Dispatcher) Redeliver(ctx context.Context, evt models.Event) error {
	if d.store == nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetDatabase,
			errors.New("no database configured"))
	}
	if err := d.store.UpsertVehicleEntry(ctx, evt.VehicleID, evt.TicketID, evt.Attachment, evt.CreatedAt); err != nil {
		d.monitor.ReportFailure(models.TargetDatabase, err)
		return err
	}
	d.monitor.ReportSuccess(models.TargetDatabase)
	return nil
}
