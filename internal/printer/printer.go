// Package printer talks ESC/POS over a raw TCP socket (port 9100 style)
// to print parking tickets. Prints are spaced by a minimum interval to
// protect the thermal head; suppressed prints are reported, not errors
// the caller should retry.
package printer

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/models"
)

// ErrPrintSuppressed is returned when a print falls inside the minimum
// interval window. The attempt still consumes the window.
var ErrPrintSuppressed = errors.New("printer: print suppressed by minimum interval")

// escpos control sequences.
var (
	escInit      = []byte{0x1b, 0x40}       // initialize
	escCenter    = []byte{0x1b, 0x61, 0x01} // align center
	escLeft      = []byte{0x1b, 0x61, 0x00} // align left
	escDoubleOn  = []byte{0x1d, 0x21, 0x11} // double width+height
	escDoubleOff = []byte{0x1d, 0x21, 0x00}
	escCut       = []byte{0x1d, 0x56, 0x42, 0x00} // partial cut with feed
)

// Config holds the network printer settings.
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"`
	SiteName    string        `yaml:"site_name"`
	MinInterval time.Duration `yaml:"min_interval"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Printer prints entry tickets on a networked ESC/POS printer.
type Printer struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	enabled   bool
	lastPrint time.Time

	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

// New builds a ticket printer. The printer starts in the enabled state
// given by cfg.Enabled; control commands may flip it at runtime.
func New(cfg Config, logger zerolog.Logger) *Printer {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = constants.DefaultPrintInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = constants.DefaultProbeTimeout
	}
	return &Printer{cfg: cfg, logger: logger, enabled: cfg.Enabled, dial: net.DialTimeout}
}

// Available reports whether a printer is configured and currently enabled.
func (p *Printer) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Address != "" && p.enabled
}

// SetEnabled toggles printing at runtime.
func (p *Printer) SetEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = on
	p.logger.Info().Bool("enabled", on).Msg("Printer enabled state changed")
}

// Reset clears the minimum-interval window so the next print goes through.
func (p *Printer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPrint = time.Time{}
	p.logger.Info().Msg("Printer interval window reset")
}

// Print prints a ticket for the given event. The interval window is
// stamped on every attempt, including suppressed and failed ones.
func (p *Printer) Print(evt models.Event) error {
	p.mu.Lock()
	if p.cfg.Address == "" || !p.enabled {
		p.mu.Unlock()
		return models.NewDeliveryError(models.FailureHardwareAbsent, models.TargetPrinter,
			errors.New("printer disabled or not configured"))
	}
	if !p.lastPrint.IsZero() && time.Since(p.lastPrint) < p.cfg.MinInterval {
		p.mu.Unlock()
		return ErrPrintSuppressed
	}
	p.lastPrint = time.Now()
	addr := p.cfg.Address
	timeout := p.cfg.DialTimeout
	site := p.cfg.SiteName
	p.mu.Unlock()

	conn, err := p.dial("tcp", addr, timeout)
	if err != nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetPrinter, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetPrinter, err)
	}
	if _, err := conn.Write(renderTicket(evt, site)); err != nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetPrinter, err)
	}
	p.logger.Info().Str("ticket_id", evt.TicketID).Msg("Ticket printed")
	return nil
}

// Probe checks that the printer socket accepts connections.
func (p *Printer) Probe() error {
	p.mu.Lock()
	addr := p.cfg.Address
	timeout := p.cfg.DialTimeout
	p.mu.Unlock()
	if addr == "" {
		return errors.New("printer: no address configured")
	}
	conn, err := p.dial("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func renderTicket(evt models.Event, site string) []byte {
	ts := evt.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if site == "" {
		site = "PARKING"
	}

	var buf []byte
	buf = append(buf, escInit...)
	buf = append(buf, escCenter...)
	buf = append(buf, escDoubleOn...)
	buf = append(buf, site...)
	buf = append(buf, '\n')
	buf = append(buf, escDoubleOff...)
	buf = append(buf, "ENTRY TICKET\n\n"...)
	buf = append(buf, escLeft...)
	buf = append(buf, fmt.Sprintf("Ticket : %s\n", evt.TicketID)...)
	buf = append(buf, fmt.Sprintf("Vehicle: %s\n", evt.VehicleID)...)
	buf = append(buf, fmt.Sprintf("Time   : %s\n", ts.Format("2006-01-02 15:04:05"))...)
	buf = append(buf, "\n\n"...)
	buf = append(buf, escCut...)
	return buf
}
