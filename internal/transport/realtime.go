// Package transport carries vehicle events to the parking server over
// two channels: a realtime MQTT channel and a secondary REST channel.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/pkg/mqtt"
)

// RealtimeConfig holds the primary channel topic layout.
type RealtimeConfig struct {
	VehicleTopic   string `yaml:"vehicle_topic"`
	EmergencyTopic string `yaml:"emergency_topic"`
	StatusTopic    string `yaml:"status_topic"`
	CommandTopic   string `yaml:"command_topic"`
	MessageTopic   string `yaml:"message_topic"`
	QOS            int    `yaml:"qos"`
}

// RealtimeChannel publishes events to the broker and surfaces inbound
// operator commands on a channel.
type RealtimeChannel struct {
	cfg    RealtimeConfig
	mqtt   *mqtt.MqttService
	logger zerolog.Logger

	commands chan string
	messages chan string
}

// NewRealtimeChannel wraps an initialized MQTT service.
func NewRealtimeChannel(cfg RealtimeConfig, svc *mqtt.MqttService, logger zerolog.Logger) *RealtimeChannel {
	if cfg.VehicleTopic == "" {
		cfg.VehicleTopic = "parking/vehicle/add"
	}
	if cfg.EmergencyTopic == "" {
		cfg.EmergencyTopic = "parking/emergency"
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = "parking/device/status"
	}
	if cfg.CommandTopic == "" {
		cfg.CommandTopic = "parking/device/command"
	}
	if cfg.MessageTopic == "" {
		cfg.MessageTopic = "parking/device/message"
	}
	return &RealtimeChannel{
		cfg:      cfg,
		mqtt:     svc,
		logger:   logger,
		commands: make(chan string, 16),
		messages: make(chan string, 16),
	}
}

// SubscribeInbound wires the operator command and message topics onto
// the Commands and Messages channels. Inbound traffic is dropped when a
// channel buffer is full rather than blocking the broker callback.
func (r *RealtimeChannel) SubscribeInbound() error {
	token := r.mqtt.Subscribe(r.cfg.CommandTopic, byte(r.cfg.QOS), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case r.commands <- string(msg.Payload()):
		default:
			r.logger.Warn().Str("topic", msg.Topic()).Msg("Dropping inbound command, buffer full")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to command topic: %w", token.Error())
	}

	token = r.mqtt.Subscribe(r.cfg.MessageTopic, byte(r.cfg.QOS), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case r.messages <- string(msg.Payload()):
		default:
			r.logger.Warn().Str("topic", msg.Topic()).Msg("Dropping inbound message, buffer full")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to message topic: %w", token.Error())
	}
	return nil
}

// Commands yields operator commands received from the server.
func (r *RealtimeChannel) Commands() <-chan string { return r.commands }

// Messages yields informational messages received from the server.
func (r *RealtimeChannel) Messages() <-chan string { return r.messages }

// Connected reports whether the broker connection is live.
func (r *RealtimeChannel) Connected() bool {
	return r.mqtt.IsConnected()
}

// SendVehicleAdded publishes a vehicle entry to the realtime channel.
func (r *RealtimeChannel) SendVehicleAdded(payload models.VehiclePayload) error {
	return r.publish(r.cfg.VehicleTopic, payload)
}

// SendEmergencyAlert publishes an emergency alert.
func (r *RealtimeChannel) SendEmergencyAlert(alert models.EmergencyAlert) error {
	return r.publish(r.cfg.EmergencyTopic, alert)
}

// SendDeviceStatus publishes a device status report.
func (r *RealtimeChannel) SendDeviceStatus(status models.DeviceStatus) error {
	return r.publish(r.cfg.StatusTopic, status)
}

func (r *RealtimeChannel) publish(topic string, v interface{}) error {
	if !r.mqtt.IsConnected() {
		return models.NewDeliveryError(models.FailureTransient, models.TargetPrimaryChannel,
			fmt.Errorf("broker not connected"))
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return models.NewDeliveryError(models.FailureMalformed, models.TargetPrimaryChannel, err)
	}

	token := r.mqtt.Publish(topic, byte(r.cfg.QOS), false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return models.NewDeliveryError(models.FailureTransient, models.TargetPrimaryChannel,
			fmt.Errorf("publish to %s timed out", topic))
	}
	if token.Error() != nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetPrimaryChannel, token.Error())
	}
	return nil
}
