package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/cache"
	"github.com/parkops/gatebridge/internal/camera"
	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/decoder"
	"github.com/parkops/gatebridge/internal/dispatcher"
	"github.com/parkops/gatebridge/internal/gate"
	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/internal/monitor"
	"github.com/parkops/gatebridge/internal/printer"
	"github.com/parkops/gatebridge/internal/ratelimit"
	"github.com/parkops/gatebridge/internal/service_registry"
	"github.com/parkops/gatebridge/internal/services"
	"github.com/parkops/gatebridge/internal/storage"
	"github.com/parkops/gatebridge/internal/transport"
	"github.com/parkops/gatebridge/internal/utils"
	"github.com/parkops/gatebridge/pkg/device"
	"github.com/parkops/gatebridge/pkg/file"
	"github.com/parkops/gatebridge/pkg/mqtt"
	"github.com/parkops/gatebridge/pkg/objectstore"
)

var errBrokerDisconnected = errors.New("broker disconnected")

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// The serial link to the gate controller is the one dependency the
	// bridge cannot run without, unless explicitly configured otherwise.
	dev, err := device.Open(device.Config{
		Ports:       config.Device.Ports,
		BaudRate:    config.Device.BaudRate,
		ReadTimeout: config.Device.ReadTimeout,
	})
	if err != nil {
		if config.Device.Required {
			log.Fatal().Err(err).Msg("Failed to open serial device")
		}
		log.Warn().Err(err).Msg("No serial device available, running without hardware")
	} else {
		defer dev.Close()
		log.Info().Str("port", dev.Name()).Msg("Serial device opened")
	}

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()

	// Initialize the shared MQTT connection. The broker being down at
	// startup is not fatal; reconciliation keeps retrying.
	mqttService := mqtt.NewMqttService(fileClient)
	mqttErr := mqttService.Initialize(mqtt.Options{
		Broker:         config.MQTT.Broker,
		ClientID:       config.MQTT.ClientID,
		Username:       config.MQTT.Username,
		Password:       config.MQTT.Password,
		CACertPath:     config.MQTT.CACertificate,
		ConnectRetries: config.MQTT.ConnectRetries,
		ConnectBase:    config.MQTT.ConnectBase,
		ConnectMax:     config.MQTT.ConnectMax,
	})
	if mqttErr != nil {
		log.Warn().Err(mqttErr).Msg("Broker unreachable at startup, continuing offline")
	}
	defer mqttService.Disconnect(250)

	realtime := transport.NewRealtimeChannel(transport.RealtimeConfig{
		VehicleTopic:   config.Topics.Vehicle,
		EmergencyTopic: config.Topics.Emergency,
		StatusTopic:    config.Topics.Status,
		CommandTopic:   config.Topics.Command,
		MessageTopic:   config.Topics.Message,
		QOS:            config.Topics.QOS,
	}, mqttService, log)
	if mqttErr == nil {
		if err := realtime.SubscribeInbound(); err != nil {
			log.Warn().Err(err).Msg("Failed to subscribe to inbound topics")
		}
	}

	rest := transport.NewRESTClient(transport.RESTConfig{
		BaseURL:     config.Server.BaseURL,
		VehiclePath: config.Server.VehiclePath,
		HealthPath:  config.Server.HealthPath,
		Username:    config.Server.Username,
		Password:    config.Server.Password,
		Timeout:     config.Server.Timeout,
	}, log)

	// Database, like the broker, starts in whatever state it is in. The
	// pool connects lazily, so an unreachable database still yields a
	// store whose Ping probe drives recovery and cache draining later.
	var store *storage.PostgresStore
	dbUpAtStart := false
	if config.Database.URL != "" {
		store, err = storage.NewPostgresStore(config.Database.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Invalid database configuration, continuing without database")
			store = nil
		} else {
			defer store.Close()
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
			if err := store.Ping(pingCtx); err != nil {
				log.Warn().Err(err).Msg("Database unreachable at startup, continuing offline")
			} else {
				dbUpAtStart = true
				if err := store.EnsureSchema(); err != nil {
					log.Warn().Err(err).Msg("Failed to apply database schema")
				}
			}
			cancelPing()
		}
	}

	cacheStore, err := cache.Open(cache.Config{
		Backend: config.Cache.Backend,
		Path:    config.Cache.Path,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open offline cache")
	}
	queue := cache.NewQueue(cacheStore, log)
	defer queue.Close()

	var objectStore objectstore.ObjectStorageClient
	if config.ObjectStorage.Enabled {
		objectStore = objectstore.NewObjectStorage()
		if err := objectStore.Connect(config.ObjectStorage.Endpoint, config.ObjectStorage.AccessKey,
			config.ObjectStorage.SecretKey, config.ObjectStorage.UseSSL); err != nil {
			log.Warn().Err(err).Msg("Object storage unreachable, snapshots stay local")
			objectStore = nil
		}
	}

	cam := camera.New(camera.Config{
		Enabled:     config.Camera.Enabled,
		SnapshotURL: config.Camera.SnapshotURL,
		Username:    config.Camera.Username,
		Password:    config.Camera.Password,
		SaveDir:     config.Camera.SaveDir,
		Bucket:      config.Camera.Bucket,
		Timeout:     config.Camera.Timeout,
	}, objectStore, log)

	prn := printer.New(printer.Config{
		Enabled:     config.Printer.Enabled,
		Address:     config.Printer.Address,
		SiteName:    config.Printer.SiteName,
		MinInterval: config.Printer.MinInterval,
		DialTimeout: config.Printer.DialTimeout,
	}, log)

	var gateWriter gate.CommandWriter
	if dev != nil {
		gateWriter = dev
	}
	gateCtrl := gate.NewController(gateWriter, config.Gate.CloseAfter, log)

	// Reachability beliefs drive caching and reconciliation.
	mon := monitor.New(config.Delivery.ProbeTimeout, log)
	if store != nil {
		mon.Register(models.TargetDatabase, store.Ping)
		if dbUpAtStart {
			mon.ReportSuccess(models.TargetDatabase)
		}
	}
	mon.Register(models.TargetPrimaryChannel, func(context.Context) error {
		if realtime.Connected() {
			return nil
		}
		return errBrokerDisconnected
	})
	mon.Register(models.TargetSecondaryChannel, rest.Probe)
	if config.Printer.Enabled {
		mon.Register(models.TargetPrinter, func(context.Context) error { return prn.Probe() })
	}
	if cam.Available() {
		mon.Register(models.TargetCamera, cam.Probe)
	}

	flags := dispatcher.NewFlags()
	limiter := ratelimit.New(config.Server.MinInterval)

	var vehicleStore dispatcher.VehicleStore
	if store != nil {
		vehicleStore = store
	}
	disp := dispatcher.New(dispatcher.Config{
		MaxAttempts: config.Delivery.MaxAttempts,
		RetryDelay:  config.Delivery.RetryDelay,
	}, flags, vehicleStore, realtime, rest, prn, gateCtrl, cam, mon, queue, limiter, log)

	workers := config.Delivery.Workers
	if workers <= 0 {
		workers = constants.DefaultDispatchWorkers
	}
	pool := utils.NewWorkerPool(workers)
	defer pool.Shutdown()

	statusService := services.NewStatusService(config.Device.ID, config.Status.Interval,
		realtime, mon, queue, log)

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(log)
	if dev != nil {
		dec := decoder.New(config.Device.DebounceWindow, config.Device.MinScanLength, log)
		serviceRegistry.RegisterService("ingest", services.NewIngestService(
			dev, dec, disp, flags, prn, pool, config.Device.PollInterval, log))
	}
	serviceRegistry.RegisterService("reconcile", services.NewReconcileService(
		mon, queue, disp, mqttService, config.Delivery.ProbeInterval, log))
	serviceRegistry.RegisterService("command", services.NewCommandService(
		realtime.Commands(), realtime.Messages(), gateCtrl, prn, prn, statusService, flags, log))
	if config.Status.Enabled {
		serviceRegistry.RegisterService("status", statusService)
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Failed to stop all services cleanly")
	}

	// Give in-flight deliveries a moment to settle before the process exits.
	time.Sleep(250 * time.Millisecond)
}
