package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/cache"
	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/dispatcher"
	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/internal/monitor"
	"github.com/parkops/gatebridge/pkg/mqtt"
)

// ReconcileService periodically re-probes down targets and drains the
// offline cache into the database when it recovers. One drain runs per
// recovery, never one per probe cycle.
type ReconcileService struct {
	monitor       *monitor.Monitor
	queue         *cache.Queue
	dispatcher    *dispatcher.Dispatcher
	mqttService   *mqtt.MqttService
	probeInterval time.Duration
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconcileService initializes a new ReconcileService. mqttService may
// be nil when no primary channel is configured.
func NewReconcileService(mon *monitor.Monitor, queue *cache.Queue, disp *dispatcher.Dispatcher,
	mqttService *mqtt.MqttService, probeInterval time.Duration, logger zerolog.Logger) *ReconcileService {

	if probeInterval <= 0 {
		probeInterval = constants.DefaultProbeInterval
	}
	return &ReconcileService{
		monitor:       mon,
		queue:         queue,
		dispatcher:    disp,
		mqttService:   mqttService,
		probeInterval: probeInterval,
		logger:        logger,
	}
}

// Start launches the reconciliation loop in a separate goroutine.
func (s *ReconcileService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("ReconcileService is already running")
		return errors.New("reconcile service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runReconcileLoop()
	}()

	s.logger.Info().Dur("probe_interval", s.probeInterval).Msg("ReconcileService started successfully")
	return nil
}

// Stop gracefully stops the reconcile service.
func (s *ReconcileService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("ReconcileService is not running")
		return errors.New("reconcile service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("ReconcileService stopped successfully")
	return nil
}

func (s *ReconcileService) runReconcileLoop() {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	// Probe immediately so target beliefs settle at startup instead of
	// staying Unknown for a whole probe interval. A restart with a
	// populated cache drains on this first pass once the database answers.
	s.reconcile()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info().Msg("ReconcileService stopping gracefully")
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

func (s *ReconcileService) reconcile() {
	if s.mqttService != nil && !s.mqttService.IsConnected() {
		s.logger.Debug().Msg("Broker disconnected, attempting reconnect")
		if err := s.mqttService.ConnectWithRetry(s.ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Broker reconnect failed, will retry next cycle")
		}
	}

	recovered := s.monitor.ProbeAll(s.ctx)
	for _, target := range recovered {
		if target != models.TargetDatabase {
			continue
		}
		s.drainCache()
	}
}

func (s *ReconcileService) drainCache() {
	if s.queue.Size() == 0 {
		return
	}

	s.logger.Info().Int("pending", s.queue.Size()).Msg("Database recovered, draining offline cache")
	report, err := s.queue.Drain(s.ctx, s.dispatcher.Redeliver)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cache drain aborted")
	}
	s.logger.Info().
		Int("delivered", report.Delivered).
		Int("remaining", report.Remaining).
		Bool("halted", report.Halted).
		Msg("Cache drain finished")
}
