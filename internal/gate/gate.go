// Package gate drives the entry barrier through the device's relay
// commands. The barrier auto-closes after a fixed timeout unless an
// emergency override holds it open.
package gate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
)

// CommandWriter sends one relay command line to the device.
type CommandWriter interface {
	WriteLine(line string) error
}

// Controller owns the gate state machine: Closed -> Open -> (auto) Closed.
type Controller struct {
	mu         sync.Mutex
	writer     CommandWriter
	closeAfter time.Duration
	logger     zerolog.Logger

	open       bool
	held       bool
	closeTimer *time.Timer
}

// NewController builds a gate controller. A nil writer means the gate
// hardware is absent; all actuation is then silently skipped.
func NewController(writer CommandWriter, closeAfter time.Duration, logger zerolog.Logger) *Controller {
	if closeAfter <= 0 {
		closeAfter = constants.DefaultGateCloseAfter
	}
	return &Controller{writer: writer, closeAfter: closeAfter, logger: logger}
}

// Open raises the barrier and arms the auto-close timer. While an emergency
// hold is active the timer is not armed.
func (c *Controller) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.send(constants.GateCommandOpen) {
		return
	}
	c.open = true

	if c.held {
		return
	}
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.closeTimer = time.AfterFunc(c.closeAfter, c.autoClose)
	c.logger.Info().Dur("close_after", c.closeAfter).Msg("Gate opened")
}

// HoldOpen raises the barrier and pins it open until an explicit Close.
func (c *Controller) HoldOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.send(constants.GateCommandOpen) {
		return
	}
	c.open = true
	c.held = true
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	c.logger.Warn().Msg("Gate held open (emergency override)")
}

// Close lowers the barrier and clears any emergency hold.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// IsOpen reports the current barrier state.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Controller) autoClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held || !c.open {
		return
	}
	c.closeLocked()
	c.logger.Info().Msg("Gate auto-closed after timeout")
}

func (c *Controller) closeLocked() {
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	c.held = false
	if !c.send(constants.GateCommandClose) {
		return
	}
	c.open = false
}

// send writes one relay command, reporting hardware absence as a skip.
func (c *Controller) send(cmd string) bool {
	if c.writer == nil {
		c.logger.Debug().Str("command", cmd).Msg("Gate hardware absent, skipping actuation")
		return false
	}
	if err := c.writer.WriteLine(cmd); err != nil {
		c.logger.Error().Err(err).Str("command", cmd).Msg("Failed to send gate command")
		return false
	}
	return true
}
