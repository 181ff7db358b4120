package services

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/parkops/gatebridge/internal/cache"
	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/decoder"
	"github.com/parkops/gatebridge/internal/dispatcher"
	"github.com/parkops/gatebridge/internal/monitor"
	"github.com/parkops/gatebridge/internal/utils"
	"github.com/parkops/gatebridge/pkg/device"
)

// scriptedDevice feeds a fixed set of lines, then reports no data.
type scriptedDevice struct {
	mu      sync.Mutex
	pending []string
	written []string
}

func (d *scriptedDevice) ReadLine() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return "", device.ErrNoData
	}
	line := d.pending[0]
	d.pending = d.pending[1:]
	return line, nil
}

func (d *scriptedDevice) WriteLine(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, line)
	return nil
}

func (d *scriptedDevice) acks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.written {
		if w == constants.AckToken {
			n++
		}
	}
	return n
}

type mockPrinterControl struct {
	mock.Mock
}

func (m *mockPrinterControl) SetEnabled(on bool) { m.Called(on) }
func (m *mockPrinterControl) Reset()             { m.Called() }

func newIngestFixture(dev *scriptedDevice, flags *dispatcher.Flags, prn PrinterControl) *IngestService {
	log := zerolog.Nop()
	mon := monitor.New(time.Second, log)
	queue := cache.NewQueue(cache.NewMemoryStore(), log)
	disp := dispatcher.New(dispatcher.Config{}, flags, nil, nil, nil, nil, nil, nil, mon, queue, nil, log)
	dec := decoder.New(time.Second, 7, log)
	pool := utils.NewWorkerPool(1)
	return NewIngestService(dev, dec, disp, flags, prn, pool, 5*time.Millisecond, log)
}

func TestIngestService_StartAndStop(t *testing.T) {
	svc := newIngestFixture(&scriptedDevice{}, dispatcher.NewFlags(), new(mockPrinterControl))

	assert.NoError(t, svc.Start())
	assert.Error(t, svc.Start()) // already running
	assert.NoError(t, svc.Stop())
	assert.Error(t, svc.Stop()) // already stopped
}

func TestIngestService_ControlLinesFlipFlagsAndAck(t *testing.T) {
	dev := &scriptedDevice{pending: []string{"CMD:stop_auto", "CMD:disable_print"}}
	flags := dispatcher.NewFlags()
	prn := new(mockPrinterControl)
	prn.On("SetEnabled", false).Return()

	svc := newIngestFixture(dev, flags, prn)
	assert.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Eventually(t, func() bool { return dev.acks() == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, flags.AutoEnabled())
	prn.AssertExpectations(t)
}

func TestIngestService_MalformedLinesAreDroppedWithoutAck(t *testing.T) {
	dev := &scriptedDevice{pending: []string{"@#$%", "CMD:reset"}}
	flags := dispatcher.NewFlags()
	prn := new(mockPrinterControl)
	prn.On("Reset").Return()

	svc := newIngestFixture(dev, flags, prn)
	assert.NoError(t, svc.Start())
	defer svc.Stop()

	// Only the valid control line is acknowledged.
	assert.Eventually(t, func() bool { return dev.acks() == 1 }, time.Second, 5*time.Millisecond)
	prn.AssertExpectations(t)
}

func TestIngestService_EventsAreAcknowledged(t *testing.T) {
	dev := &scriptedDevice{pending: []string{"CMD:stop_auto", "ENTRY"}}
	flags := dispatcher.NewFlags()

	// Auto mode is off, so the event is suppressed downstream, but the
	// device still gets its acknowledgement for the accepted line.
	svc := newIngestFixture(dev, flags, new(mockPrinterControl))
	assert.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Eventually(t, func() bool { return dev.acks() == 2 }, time.Second, 5*time.Millisecond)
}
