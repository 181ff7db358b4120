package utils

import (
	"time"

	"github.com/parkops/gatebridge/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Device struct {
		ID             string        `yaml:"id"`              // Identifier reported in status messages
		Ports          []string      `yaml:"ports"`           // Candidate serial ports, tried in order
		BaudRate       int           `yaml:"baud_rate"`       // Serial baud rate
		PollInterval   time.Duration `yaml:"poll_interval"`   // Serial poll interval
		ReadTimeout    time.Duration `yaml:"read_timeout"`    // Serial read timeout per poll
		Required       bool          `yaml:"required"`        // Fail startup when no port opens
		DebounceWindow time.Duration `yaml:"debounce_window"` // Duplicate line suppression window
		MinScanLength  int           `yaml:"min_scan_length"` // Minimum length for raw scan data
	} `yaml:"device"`

	MQTT struct {
		Broker         string        `yaml:"broker"`          // MQTT broker address
		ClientID       string        `yaml:"client_id"`       // MQTT client ID
		Username       string        `yaml:"username"`        // Broker username
		Password       string        `yaml:"password"`        // Broker password
		CACertificate  string        `yaml:"ca_certificate"`  // Path to the CA certificate
		ConnectRetries int           `yaml:"connect_retries"` // Reconnect attempts per cycle
		ConnectBase    time.Duration `yaml:"connect_base"`    // Initial reconnect backoff
		ConnectMax     time.Duration `yaml:"connect_max"`     // Maximum reconnect backoff
	} `yaml:"mqtt"`

	Topics struct {
		Vehicle   string `yaml:"vehicle"`   // Outbound vehicle entry topic
		Emergency string `yaml:"emergency"` // Outbound emergency alert topic
		Status    string `yaml:"status"`    // Outbound device status topic
		Command   string `yaml:"command"`   // Inbound operator command topic
		Message   string `yaml:"message"`   // Inbound informational message topic
		QOS       int    `yaml:"qos"`       // MQTT QoS level for all topics
	} `yaml:"topics"`

	Database struct {
		URL string `yaml:"url"` // Postgres connection string
	} `yaml:"database"`

	Server struct {
		BaseURL     string        `yaml:"base_url"`     // REST server base URL
		VehiclePath string        `yaml:"vehicle_path"` // Vehicle ingestion path
		HealthPath  string        `yaml:"health_path"`  // Connectivity probe path
		Username    string        `yaml:"username"`     // Basic auth username
		Password    string        `yaml:"password"`     // Basic auth password
		Timeout     time.Duration `yaml:"timeout"`      // Per-request timeout
		MinInterval time.Duration `yaml:"min_interval"` // Minimum spacing between channel calls
	} `yaml:"server"`

	Delivery struct {
		MaxAttempts   int           `yaml:"max_attempts"`   // REST retry budget per event
		RetryDelay    time.Duration `yaml:"retry_delay"`    // Base delay, scaled linearly per attempt
		Workers       int           `yaml:"workers"`        // Dispatch worker pool size
		ProbeInterval time.Duration `yaml:"probe_interval"` // Reconciliation probe interval
		ProbeTimeout  time.Duration `yaml:"probe_timeout"`  // Per-probe timeout
	} `yaml:"delivery"`

	Cache struct {
		Backend string `yaml:"backend"` // "memory" or "sqlite"
		Path    string `yaml:"path"`    // SQLite database path
	} `yaml:"cache"`

	Gate struct {
		CloseAfter time.Duration `yaml:"close_after"` // Auto-close delay after opening
	} `yaml:"gate"`

	Printer struct {
		Enabled     bool          `yaml:"enabled"`      // Enable/disable ticket printing
		Address     string        `yaml:"address"`      // Printer host:port (raw 9100)
		SiteName    string        `yaml:"site_name"`    // Header printed on tickets
		MinInterval time.Duration `yaml:"min_interval"` // Minimum spacing between prints
		DialTimeout time.Duration `yaml:"dial_timeout"` // TCP dial timeout
	} `yaml:"printer"`

	Camera struct {
		Enabled     bool          `yaml:"enabled"`      // Enable/disable entry snapshots
		SnapshotURL string        `yaml:"snapshot_url"` // Camera snapshot endpoint
		Username    string        `yaml:"username"`     // Basic auth username
		Password    string        `yaml:"password"`     // Basic auth password
		SaveDir     string        `yaml:"save_dir"`     // Local snapshot directory
		Bucket      string        `yaml:"bucket"`       // Object storage bucket, empty disables upload
		Timeout     time.Duration `yaml:"timeout"`      // Snapshot request timeout
	} `yaml:"camera"`

	ObjectStorage struct {
		Enabled   bool   `yaml:"enabled"`    // Enable/disable snapshot archival
		Endpoint  string `yaml:"endpoint"`   // S3-compatible endpoint
		AccessKey string `yaml:"access_key"` // Access key id
		SecretKey string `yaml:"secret_key"` // Secret access key
		UseSSL    bool   `yaml:"use_ssl"`    // Use TLS for the endpoint
	} `yaml:"object_storage"`

	Status struct {
		Enabled  bool          `yaml:"enabled"`  // Enable/disable periodic status reports
		Interval time.Duration `yaml:"interval"` // Interval between status reports
	} `yaml:"status"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
