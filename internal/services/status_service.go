package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/parkops/gatebridge/internal/cache"
	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/internal/monitor"
)

// StatusPublisher carries device status reports to the backend.
type StatusPublisher interface {
	Connected() bool
	SendDeviceStatus(status models.DeviceStatus) error
}

// StatusService periodically reports the bridge's health: target
// beliefs, cache depth and host resource usage.
type StatusService struct {
	deviceID  string
	interval  time.Duration
	publisher StatusPublisher
	monitor   *monitor.Monitor
	queue     *cache.Queue
	logger    zerolog.Logger

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStatusService initializes a new StatusService.
func NewStatusService(deviceID string, interval time.Duration, publisher StatusPublisher,
	mon *monitor.Monitor, queue *cache.Queue, logger zerolog.Logger) *StatusService {

	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusService{
		deviceID:  deviceID,
		interval:  interval,
		publisher: publisher,
		monitor:   mon,
		queue:     queue,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// Start launches the status loop in a separate goroutine.
func (ss *StatusService) Start() error {
	if ss.ctx != nil {
		ss.logger.Warn().Msg("StatusService is already running")
		return errors.New("status service is already running")
	}

	ss.ctx, ss.cancel = context.WithCancel(context.Background())

	ss.wg.Add(1)
	go func() {
		defer ss.wg.Done()
		ss.runStatusLoop()
	}()

	ss.logger.Info().Dur("interval", ss.interval).Msg("StatusService started successfully")
	return nil
}

// Stop gracefully stops the status service.
func (ss *StatusService) Stop() error {
	if ss.ctx == nil {
		ss.logger.Warn().Msg("StatusService is not running")
		return errors.New("status service is not running")
	}

	ss.cancel()
	ss.wg.Wait()

	ss.ctx = nil
	ss.cancel = nil

	ss.logger.Info().Msg("StatusService stopped successfully")
	return nil
}

// PublishNow requests an immediate status publish outside the regular
// interval, used by the status/ping server command.
func (ss *StatusService) PublishNow() {
	select {
	case ss.trigger <- struct{}{}:
	default:
	}
}

func (ss *StatusService) runStatusLoop() {
	ticker := time.NewTicker(ss.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.ctx.Done():
			ss.logger.Info().Msg("StatusService stopping gracefully")
			return
		case <-ticker.C:
			ss.publish()
		case <-ss.trigger:
			ss.publish()
		}
	}
}

func (ss *StatusService) publish() {
	if !ss.publisher.Connected() {
		ss.logger.Debug().Msg("Broker disconnected, skipping status publish")
		return
	}

	status := models.DeviceStatus{
		DeviceID:          ss.deviceID,
		Status:            "online",
		Timestamp:         time.Now(),
		DatabaseConnected: ss.monitor.IsUp(models.TargetDatabase),
		ServerConnected:   ss.publisher.Connected(),
		CachedItems:       ss.queue.Size(),
		Targets:           ss.monitor.Snapshot(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryUsedPercent = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPUUsedPercent = percents[0]
	}

	if err := ss.publisher.SendDeviceStatus(status); err != nil {
		ss.logger.Error().Err(err).Msg("Failed to publish device status")
		return
	}
	ss.logger.Debug().Msg("Device status published")
}
