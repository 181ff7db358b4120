// Package device handles serial communication with the gate controller
// board: reading event lines and writing acknowledgements and relay
// commands.
package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/parkops/gatebridge/internal/constants"
)

// ErrNoData is returned by ReadLine when no complete line arrived
// within the read timeout. Callers poll again.
var ErrNoData = errors.New("device: no data available")

// Config holds the serial link settings. Ports lists candidate device
// paths tried in order; the first one that opens wins.
type Config struct {
	Ports       []string      `yaml:"ports"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// SerialDevice is a line-oriented serial connection to the controller.
type SerialDevice struct {
	mu      sync.Mutex
	port    *serial.Port
	reader  *bufio.Reader
	pending strings.Builder
	name    string
}

// Open tries each candidate port in order and returns a device on the
// first that opens.
func Open(cfg Config) (*SerialDevice, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = constants.DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = constants.DefaultReadTimeout
	}

	var lastErr error
	for _, name := range cfg.Ports {
		c := &serial.Config{Name: name, Baud: cfg.BaudRate, ReadTimeout: cfg.ReadTimeout}
		port, err := serial.OpenPort(c)
		if err != nil {
			lastErr = err
			continue
		}
		return &SerialDevice{
			port:   port,
			reader: bufio.NewReader(port),
			name:   name,
		}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no serial ports configured")
	}
	return nil, fmt.Errorf("failed to open serial device: %w", lastErr)
}

// Name returns the path of the opened port.
func (d *SerialDevice) Name() string { return d.name }

// ReadLine returns the next complete line from the device with
// surrounding whitespace trimmed. ErrNoData means the timeout elapsed
// with no complete line; other errors mean the link is broken.
func (d *SerialDevice) ReadLine() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	chunk, err := d.reader.ReadString('\n')
	if err != nil {
		// tarm/serial reports an expired read timeout as EOF. A
		// partial chunk belongs to a line still in flight, so keep
		// it for the next poll.
		if errors.Is(err, io.EOF) {
			d.pending.WriteString(chunk)
			return "", ErrNoData
		}
		return "", err
	}

	line := chunk
	if d.pending.Len() > 0 {
		line = d.pending.String() + chunk
		d.pending.Reset()
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrNoData
	}
	return line, nil
}

// WriteLine sends one line to the device, appending the newline
// terminator the controller firmware expects.
func (d *SerialDevice) WriteLine(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.port.Write([]byte(line + "\n"))
	if err != nil {
		return fmt.Errorf("failed to write to serial device: %w", err)
	}
	return nil
}

// Close releases the serial port.
func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port.Close()
}
