package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/parkops/gatebridge/internal/cache"
	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/internal/monitor"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertVehicleEntry(ctx context.Context, vehicleID, ticketID, snapshotRef string, enteredAt time.Time) error {
	args := m.Called(ctx, vehicleID, ticketID, snapshotRef, enteredAt)
	return args.Error(0)
}

func (m *mockStore) LogManualOperation(ctx context.Context, opType string, occurredAt time.Time, note string) error {
	args := m.Called(ctx, opType, occurredAt, note)
	return args.Error(0)
}

type mockRealtime struct {
	mock.Mock
}

func (m *mockRealtime) Connected() bool {
	return m.Called().Bool(0)
}

func (m *mockRealtime) SendVehicleAdded(payload models.VehiclePayload) error {
	return m.Called(payload).Error(0)
}

func (m *mockRealtime) SendEmergencyAlert(alert models.EmergencyAlert) error {
	return m.Called(alert).Error(0)
}

type mockREST struct {
	mock.Mock
}

func (m *mockREST) PostJSON(ctx context.Context, payload models.VehiclePayload) error {
	return m.Called(ctx, payload).Error(0)
}

func (m *mockREST) PostForm(ctx context.Context, payload models.VehiclePayload, attachmentPath string) error {
	return m.Called(ctx, payload, attachmentPath).Error(0)
}

func (m *mockREST) PostAlternate(ctx context.Context, payload models.VehiclePayload) error {
	return m.Called(ctx, payload).Error(0)
}

type mockGate struct {
	mock.Mock
}

func (m *mockGate) Open()     { m.Called() }
func (m *mockGate) HoldOpen() { m.Called() }
func (m *mockGate) Close()    { m.Called() }

type mockPrinter struct {
	mock.Mock
}

func (m *mockPrinter) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockPrinter) Print(evt models.Event) error {
	return m.Called(evt).Error(0)
}

func transientErr(target models.Target) error {
	return models.NewDeliveryError(models.FailureTransient, target, errors.New("unreachable"))
}

func entryEvent() models.Event {
	return models.Event{
		TicketID:  "20260314_092653_0007",
		VehicleID: "BTN0007",
		Kind:      models.KindVehicleEntry,
		Raw:       "BTN0007",
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

type fixture struct {
	store    *mockStore
	realtime *mockRealtime
	rest     *mockREST
	gate     *mockGate
	monitor  *monitor.Monitor
	queue    *cache.Queue
	flags    *Flags
	disp     *Dispatcher
}

func newFixture() *fixture {
	f := &fixture{
		store:    new(mockStore),
		realtime: new(mockRealtime),
		rest:     new(mockREST),
		gate:     new(mockGate),
		monitor:  monitor.New(time.Second, zerolog.Nop()),
		queue:    cache.NewQueue(cache.NewMemoryStore(), zerolog.Nop()),
		flags:    NewFlags(),
	}
	f.monitor.Register(models.TargetDatabase, nil)
	f.monitor.Register(models.TargetPrimaryChannel, nil)
	f.monitor.Register(models.TargetSecondaryChannel, nil)

	f.disp = New(Config{MaxAttempts: 2, RetryDelay: time.Millisecond},
		f.flags, f.store, f.realtime, f.rest, nil, f.gate, nil,
		f.monitor, f.queue, nil, zerolog.Nop())
	return f
}

func TestDeliver_AllTargetsUp(t *testing.T) {
	// Setup
	f := newFixture()
	f.monitor.ReportSuccess(models.TargetDatabase)
	f.store.On("UpsertVehicleEntry", mock.Anything, "BTN0007", "20260314_092653_0007", "", mock.Anything).Return(nil)
	f.realtime.On("Connected").Return(true)
	f.realtime.On("SendVehicleAdded", mock.Anything).Return(nil)
	f.gate.On("Open").Return()

	// Execute
	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, ResultDelivered, outcome.Result)
	assert.Equal(t, models.TargetPrimaryChannel, outcome.Via)
	assert.Equal(t, 0, f.queue.Size())
	f.store.AssertExpectations(t)
	f.realtime.AssertExpectations(t)
	f.gate.AssertExpectations(t)
	f.rest.AssertNotCalled(t, "PostJSON", mock.Anything, mock.Anything)
}

func TestDeliver_AutoModeOffSuppresses(t *testing.T) {
	f := newFixture()
	f.flags.SetAuto(false)

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.Equal(t, ResultSuppressed, outcome.Result)
	f.store.AssertNotCalled(t, "UpsertVehicleEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.gate.AssertNotCalled(t, "Open")
}

func TestDeliver_ValidationFallsBackToForm(t *testing.T) {
	// Database believed down, realtime down, JSON rejected as invalid,
	// form accepted. The event is delivered with no cache record.
	f := newFixture()
	f.monitor.ReportFailure(models.TargetDatabase, errors.New("down"))
	f.realtime.On("Connected").Return(false)
	f.rest.On("PostJSON", mock.Anything, mock.Anything).
		Return(models.NewDeliveryError(models.FailureValidation, models.TargetSecondaryChannel, errors.New("bad shape")))
	f.rest.On("PostForm", mock.Anything, mock.Anything, "").Return(nil)
	f.gate.On("Open").Return()

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.Equal(t, ResultDelivered, outcome.Result)
	assert.Equal(t, models.TargetSecondaryChannel, outcome.Via)
	assert.Equal(t, 0, f.queue.Size())
	f.store.AssertNotCalled(t, "UpsertVehicleEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliver_EverythingDownCachesEvent(t *testing.T) {
	f := newFixture()
	f.monitor.ReportFailure(models.TargetDatabase, errors.New("down"))
	f.realtime.On("Connected").Return(false)
	f.rest.On("PostJSON", mock.Anything, mock.Anything).Return(transientErr(models.TargetSecondaryChannel))
	f.rest.On("PostAlternate", mock.Anything, mock.Anything).Return(transientErr(models.TargetSecondaryChannel))
	f.gate.On("Open").Return()

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.Equal(t, ResultCached, outcome.Result)
	assert.Equal(t, 1, f.queue.Size())
	// The vehicle at the barrier is still served locally.
	f.gate.AssertCalled(t, "Open")
	f.rest.AssertNumberOfCalls(t, "PostJSON", 2)
}

func TestDeliver_LiveDatabaseFailureCachesDespiteChannelSuccess(t *testing.T) {
	f := newFixture()
	f.monitor.ReportSuccess(models.TargetDatabase)
	f.store.On("UpsertVehicleEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transientErr(models.TargetDatabase))
	f.realtime.On("Connected").Return(true)
	f.realtime.On("SendVehicleAdded", mock.Anything).Return(nil)
	f.gate.On("Open").Return()

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.Equal(t, ResultDelivered, outcome.Result)
	// System-of-record missed it, so reconciliation owns it now.
	assert.Equal(t, 1, f.queue.Size())
	assert.False(t, f.monitor.IsUp(models.TargetDatabase))
}

func TestDeliver_DatabaseSuccessAloneCountsAsDelivered(t *testing.T) {
	f := newFixture()
	f.monitor.ReportSuccess(models.TargetDatabase)
	f.store.On("UpsertVehicleEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.realtime.On("Connected").Return(false)
	f.rest.On("PostJSON", mock.Anything, mock.Anything).Return(transientErr(models.TargetSecondaryChannel))
	f.rest.On("PostAlternate", mock.Anything, mock.Anything).Return(transientErr(models.TargetSecondaryChannel))
	f.gate.On("Open").Return()

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.Equal(t, ResultDelivered, outcome.Result)
	assert.Equal(t, models.TargetDatabase, outcome.Via)
	assert.Equal(t, 0, f.queue.Size())
}

func TestDeliver_AuthRejectionStopsRetries(t *testing.T) {
	f := newFixture()
	f.monitor.ReportFailure(models.TargetDatabase, errors.New("down"))
	f.realtime.On("Connected").Return(false)
	f.rest.On("PostJSON", mock.Anything, mock.Anything).
		Return(models.NewDeliveryError(models.FailureAuthRejected, models.TargetSecondaryChannel, errors.New("401")))
	f.gate.On("Open").Return()

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.Equal(t, ResultCached, outcome.Result)
	f.rest.AssertNumberOfCalls(t, "PostJSON", 1)
	f.rest.AssertNotCalled(t, "PostAlternate", mock.Anything, mock.Anything)
}

func TestDeliver_ManualExitOpensGateAndLogs(t *testing.T) {
	f := newFixture()
	f.monitor.ReportSuccess(models.TargetDatabase)
	f.gate.On("Open").Return()
	f.store.On("LogManualOperation", mock.Anything, "manual_exit", mock.Anything, mock.Anything).Return(nil)

	evt := entryEvent()
	evt.Kind = models.KindManualExit

	outcome, err := f.disp.Deliver(context.Background(), evt)

	assert.NoError(t, err)
	assert.Equal(t, ResultHandled, outcome.Result)
	f.gate.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

func TestDeliver_EmergencyHoldsGateAndAlerts(t *testing.T) {
	f := newFixture()
	f.monitor.ReportSuccess(models.TargetDatabase)
	f.gate.On("HoldOpen").Return()
	f.store.On("LogManualOperation", mock.Anything, "emergency", mock.Anything, mock.Anything).Return(nil)
	f.realtime.On("Connected").Return(true)
	f.realtime.On("SendEmergencyAlert", mock.Anything).Return(nil)

	evt := entryEvent()
	evt.Kind = models.KindEmergency

	outcome, err := f.disp.Deliver(context.Background(), evt)

	assert.NoError(t, err)
	assert.Equal(t, ResultHandled, outcome.Result)
	f.gate.AssertExpectations(t)
	f.realtime.AssertExpectations(t)
}

func TestRedeliver_WritesToDatabase(t *testing.T) {
	f := newFixture()
	f.store.On("UpsertVehicleEntry", mock.Anything, "BTN0007", "20260314_092653_0007", "", mock.Anything).Return(nil)

	err := f.disp.Redeliver(context.Background(), entryEvent())

	assert.NoError(t, err)
	assert.True(t, f.monitor.IsUp(models.TargetDatabase))
}

func TestRedeliver_FailurePropagatesForDrainHalt(t *testing.T) {
	f := newFixture()
	f.store.On("UpsertVehicleEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transientErr(models.TargetDatabase))

	err := f.disp.Redeliver(context.Background(), entryEvent())

	assert.Error(t, err)
	assert.False(t, f.monitor.IsUp(models.TargetDatabase))
}

func TestDeliver_CachedEventDrainsAfterRecovery(t *testing.T) {
	// End to end through the queue: cache while down, drain after the
	// database comes back, duplicate enqueue never doubles the record.
	f := newFixture()
	f.monitor.ReportFailure(models.TargetDatabase, errors.New("down"))
	f.realtime.On("Connected").Return(false)
	f.rest.On("PostJSON", mock.Anything, mock.Anything).Return(transientErr(models.TargetSecondaryChannel))
	f.rest.On("PostAlternate", mock.Anything, mock.Anything).Return(transientErr(models.TargetSecondaryChannel))
	f.gate.On("Open").Return()

	outcome, err := f.disp.Deliver(context.Background(), entryEvent())
	assert.NoError(t, err)
	assert.Equal(t, ResultCached, outcome.Result)

	f.store.On("UpsertVehicleEntry", mock.Anything, "BTN0007", "20260314_092653_0007", "", mock.Anything).Return(nil)

	report, err := f.queue.Drain(context.Background(), f.disp.Redeliver)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, f.queue.Size())
}
