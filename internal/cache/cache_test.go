package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/parkops/gatebridge/internal/models"
)

func testEvent(ticketID string) models.Event {
	return models.Event{
		TicketID:  ticketID,
		VehicleID: "BTN0001",
		Kind:      models.KindVehicleEntry,
		CreatedAt: time.Now(),
	}
}

func TestQueue_EnqueueAndSize(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())

	assert.NoError(t, q.Enqueue(testEvent("t1")))
	assert.NoError(t, q.Enqueue(testEvent("t2")))

	assert.Equal(t, 2, q.Size())
}

func TestQueue_EnqueueIsIdempotentByTicketID(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())

	assert.NoError(t, q.Enqueue(testEvent("t1")))
	assert.NoError(t, q.Enqueue(testEvent("t1")))

	assert.Equal(t, 1, q.Size())
}

func TestQueue_DrainDeliversInEnqueueOrder(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())
	for i := 0; i < 5; i++ {
		assert.NoError(t, q.Enqueue(testEvent(fmt.Sprintf("t%d", i))))
	}

	var delivered []string
	report, err := q.Drain(context.Background(), func(_ context.Context, ev models.Event) error {
		delivered = append(delivered, ev.TicketID)
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4"}, delivered)
	assert.Equal(t, 5, report.Delivered)
	assert.Equal(t, 0, report.Remaining)
	assert.False(t, report.Halted)
	assert.Equal(t, 0, q.Size())
}

func TestQueue_DrainHaltsOnFirstFailure(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())
	for i := 0; i < 4; i++ {
		assert.NoError(t, q.Enqueue(testEvent(fmt.Sprintf("t%d", i))))
	}

	calls := 0
	report, err := q.Drain(context.Background(), func(_ context.Context, ev models.Event) error {
		calls++
		if ev.TicketID == "t2" {
			return errors.New("database still down")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls) // t0, t1 delivered; t2 failed; t3 never tried
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 2, report.Remaining)
	assert.True(t, report.Halted)
	assert.Equal(t, "t2", report.HaltedOn)
}

func TestQueue_FailedRecordSurvivesForNextDrain(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())
	assert.NoError(t, q.Enqueue(testEvent("t1")))

	_, err := q.Drain(context.Background(), func(context.Context, models.Event) error {
		return errors.New("down")
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, q.Size())

	report, err := q.Drain(context.Background(), func(context.Context, models.Event) error {
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, q.Size())
}

func TestQueue_DrainStopsWhenContextCancelled(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())
	for i := 0; i < 3; i++ {
		assert.NoError(t, q.Enqueue(testEvent(fmt.Sprintf("t%d", i))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	delivered := 0
	report, err := q.Drain(ctx, func(context.Context, models.Event) error {
		delivered++
		cancel()
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.True(t, report.Halted)
	assert.Equal(t, 2, report.Remaining)
}

func TestQueue_ConcurrentEnqueueIsSafe(t *testing.T) {
	q := NewQueue(NewMemoryStore(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Enqueue(testEvent(fmt.Sprintf("t%d", n)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, q.Size())
}

func TestSQLiteStore_RoundTripPreservesOrder(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/cache.db")
	assert.NoError(t, err)
	defer store.Close()

	q := NewQueue(store, zerolog.Nop())
	for i := 0; i < 3; i++ {
		assert.NoError(t, q.Enqueue(testEvent(fmt.Sprintf("t%d", i))))
	}
	assert.NoError(t, q.Enqueue(testEvent("t0"))) // duplicate, ignored
	assert.Equal(t, 3, q.Size())

	var delivered []string
	report, err := q.Drain(context.Background(), func(_ context.Context, ev models.Event) error {
		delivered = append(delivered, ev.TicketID)
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1", "t2"}, delivered)
	assert.Equal(t, 0, report.Remaining)
}

func TestSQLiteStore_BumpTracksAttempts(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/cache.db")
	assert.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Append(models.CacheRecord{
		Version:    models.CacheRecordVersion,
		Event:      testEvent("t1"),
		EnqueuedAt: time.Now(),
	}))
	assert.NoError(t, store.Bump("t1"))
	assert.NoError(t, store.Bump("t1"))

	records, err := store.List()
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Attempts)
}

func TestOpen_SelectsBackend(t *testing.T) {
	mem, err := Open(Config{Backend: "memory"})
	assert.NoError(t, err)
	assert.NotNil(t, mem)

	def, err := Open(Config{})
	assert.NoError(t, err)
	assert.NotNil(t, def)

	_, err = Open(Config{Backend: "redis"})
	assert.Error(t, err)
}
