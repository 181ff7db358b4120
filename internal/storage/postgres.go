// Package storage is the durable persistence layer: the Postgres
// database is the system of record for vehicle entries and manual
// gate operations.
package storage

import (
	"context"
	_ "embed"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parkops/gatebridge/internal/models"
)

// schemaSQL is embedded so the bridge can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore persists vehicle entries and manual operations.
type PostgresStore struct {
	pool *pgxpool.Pool

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewPostgresStore creates a connection pool. The pool connects lazily:
// a database that is down at startup is a transient condition handled by
// probing, not a constructor failure. Only an invalid connection string
// is an error.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times. When the
// database is down at startup this runs again on the first write after
// recovery, so recovering the database never requires a process restart.
func (p *PostgresStore) EnsureSchema() error {
	return p.ensureSchema(context.Background())
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()

	if p.schemaReady {
		return nil
	}
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return classify(err)
	}
	p.schemaReady = true
	return nil
}

// Ping validates database connectivity for target probing.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return classify(p.pool.Ping(ctx))
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// UpsertVehicleEntry records one vehicle entry. Duplicate detection is
// enforced by the unique ticket_id constraint, which makes redelivery
// from the offline cache safe; a duplicate is not an error.
func (p *PostgresStore) UpsertVehicleEntry(ctx context.Context, vehicleID, ticketID, snapshotRef string, enteredAt time.Time) error {
	if vehicleID == "" || ticketID == "" {
		return models.NewDeliveryError(models.FailureValidation, models.TargetDatabase,
			errors.New("vehicleID/ticketID required"))
	}

	if err := p.ensureSchema(ctx); err != nil {
		return err
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO vehicles(ticket_id, vehicle_id, snapshot_ref, entered_at)
		VALUES ($1,$2,NULLIF($3,''),$4)
		ON CONFLICT (ticket_id) DO NOTHING
	`, ticketID, vehicleID, snapshotRef, enteredAt)

	return classify(err)
}

// LogManualOperation records a manual gate action or emergency in the
// audit log.
func (p *PostgresStore) LogManualOperation(ctx context.Context, opType string, occurredAt time.Time, note string) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO manual_operations(op_type, occurred_at, note)
		VALUES ($1,$2,NULLIF($3,''))
	`, opType, occurredAt, note)

	return classify(err)
}

// classify maps database errors onto delivery failure classes. Invalid
// credentials are permanent; everything else is worth retrying.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			return models.NewDeliveryError(models.FailureAuthRejected, models.TargetDatabase, err)
		case "23514", "22P02": // check_violation, invalid_text_representation
			return models.NewDeliveryError(models.FailureValidation, models.TargetDatabase, err)
		}
	}
	return models.NewDeliveryError(models.FailureTransient, models.TargetDatabase, err)
}
