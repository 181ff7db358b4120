// Package cache is the store-and-forward buffer for events that have not
// yet been confirmed delivered to the system-of-record. Records are retained
// until a delivery succeeds; there is no eviction and no size bound, which
// means the cache grows without limit under a prolonged outage. That is a
// deliberate trade: eventual delivery over data loss.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/models"
)

// Store is the backing sequence for cache records, kept in enqueue order.
// Implementations do not need to be goroutine-safe; Queue serializes access.
type Store interface {
	Append(rec models.CacheRecord) error
	Remove(ticketID string) error
	Has(ticketID string) (bool, error)
	List() ([]models.CacheRecord, error)
	Bump(ticketID string) error
	Len() (int, error)
	Close() error
}

// DeliverFunc attempts redelivery of one cached event.
type DeliverFunc func(ctx context.Context, ev models.Event) error

// Report summarizes one drain pass.
type Report struct {
	Delivered int
	Remaining int
	Halted    bool
	HaltedOn  string
}

// Queue guards a Store with a single mutex so a concurrent enqueue from the
// ingestion loop cannot race an in-progress drain from the reconciliation
// loop.
type Queue struct {
	mu     sync.Mutex
	store  Store
	logger zerolog.Logger
}

// NewQueue wraps a store.
func NewQueue(store Store, logger zerolog.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// Enqueue appends the event unless a record with the same ticket id is
// already buffered.
func (q *Queue) Enqueue(ev models.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.store.Has(ev.TicketID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := q.store.Append(models.CacheRecord{
		Version:    models.CacheRecordVersion,
		Event:      ev,
		EnqueuedAt: time.Now(),
	}); err != nil {
		return err
	}

	n, _ := q.store.Len()
	q.logger.Info().Str("ticket_id", ev.TicketID).Int("cached", n).Msg("Event buffered in offline cache")
	return nil
}

// Size returns the number of buffered records.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, _ := q.store.Len()
	return n
}

// Drain walks records in enqueue order, removing each one that deliver
// confirms. The pass stops at the first failure: skipping ahead would break
// ordering and amplify load against a target that just failed again.
func (q *Queue) Drain(ctx context.Context, deliver DeliverFunc) (Report, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.store.List()
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, rec := range records {
		if ctx.Err() != nil {
			report.Halted = true
			report.HaltedOn = rec.Event.TicketID
			break
		}

		if err := deliver(ctx, rec.Event); err != nil {
			if bumpErr := q.store.Bump(rec.Event.TicketID); bumpErr != nil {
				q.logger.Error().Err(bumpErr).Str("ticket_id", rec.Event.TicketID).Msg("Failed to record drain attempt")
			}
			q.logger.Warn().Err(err).Str("ticket_id", rec.Event.TicketID).Msg("Drain halted on failed redelivery")
			report.Halted = true
			report.HaltedOn = rec.Event.TicketID
			break
		}

		if err := q.store.Remove(rec.Event.TicketID); err != nil {
			return report, err
		}
		report.Delivered++
	}

	report.Remaining, _ = q.store.Len()
	if report.Delivered > 0 {
		q.logger.Info().Int("delivered", report.Delivered).Int("remaining", report.Remaining).Msg("Cache drain pass finished")
	}
	return report, nil
}

// Close releases the backing store.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Close()
}
