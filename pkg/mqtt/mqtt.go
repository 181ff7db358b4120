package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/pkg/file"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	CACertPath string `yaml:"ca_cert_path"`

	ConnectRetries int           `yaml:"connect_retries"`
	ConnectBase    time.Duration `yaml:"connect_base"`
	ConnectMax     time.Duration `yaml:"connect_max"`
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client     MQTTClient
	fileClient file.FileOperations
	opts       Options
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations) *MqttService {
	return &MqttService{
		fileClient: fileClient,
	}
}

// Initialize sets up the MQTT client. TLS is enabled when a CA
// certificate path is configured. The first connection attempt is made
// here; use ConnectWithRetry for resilient reconnection.
func (s *MqttService) Initialize(opts Options) error {
	s.opts = opts

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetAutoReconnect(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	if opts.CACertPath != "" {
		caCert, err := s.fileClient.ReadFileRaw(opts.CACertPath)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %v", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to append CA certificate")
		}
		clientOpts.SetTLSConfig(&tls.Config{RootCAs: caCertPool})
	}

	s.client = mqtt.NewClient(clientOpts)

	token := s.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Connect connects to the MQTT broker.
func (s *MqttService) Connect() mqtt.Token {
	return s.client.Connect()
}

// ConnectWithRetry attempts to connect with exponential backoff and
// jitter until it succeeds, the retry budget is spent, or ctx is done.
func (s *MqttService) ConnectWithRetry(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("mqtt client not initialized")
	}
	retries := s.opts.ConnectRetries
	if retries <= 0 {
		retries = constants.DefaultConnectRetries
	}
	base := s.opts.ConnectBase
	if base <= 0 {
		base = constants.DefaultConnectBase
	}
	max := s.opts.ConnectMax
	if max <= 0 {
		max = constants.DefaultConnectMax
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		lastErr = token.Error()

		delay := nextBackoff(base, max, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", retries, lastErr)
}

// nextBackoff doubles the base delay per attempt with up to 25% jitter,
// capped at max.
func nextBackoff(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}

// Publish sends a message to the specified topic.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return s.client.Publish(topic, qos, retained, payload)
}

// Subscribe subscribes to the specified topic with a message handler.
func (s *MqttService) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return s.client.Subscribe(topic, qos, callback)
}

// Unsubscribe unsubscribes from the specified topics.
func (s *MqttService) Unsubscribe(topics ...string) mqtt.Token {
	return s.client.Unsubscribe(topics...)
}

// IsConnected reports whether the underlying client holds a live
// broker connection.
func (s *MqttService) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	s.client.Disconnect(quiesce)
}
