package postgres

import (
	"context"

	"github.com/uptrace/bun"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS availability_definitions (
		id uuid PRIMARY KEY,
		owner_id text NOT NULL,
		timezone text NOT NULL,
		location_types text[] NOT NULL DEFAULT '{}',
		min_advance_minutes integer NOT NULL DEFAULT 0,
		max_advance_days integer NOT NULL,
		cancellation_threshold_minutes integer NOT NULL DEFAULT 0,
		price_minor_units bigint,
		currency text NOT NULL DEFAULT '',
		effective_from timestamptz NOT NULL,
		effective_to timestamptz,
		week jsonb NOT NULL DEFAULT '{}',
		form jsonb,
		status text NOT NULL,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS availability_definitions_owner_idx
		ON availability_definitions (owner_id)`,

	`CREATE TABLE IF NOT EXISTS availability_exceptions (
		id uuid PRIMARY KEY,
		owner_id text NOT NULL,
		definition_id uuid NOT NULL,
		start_local timestamp NOT NULL,
		end_local timestamp NOT NULL,
		recurring boolean NOT NULL DEFAULT false,
		recurrence jsonb,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS availability_exceptions_definition_idx
		ON availability_exceptions (definition_id)`,

	`CREATE TABLE IF NOT EXISTS time_slots (
		id uuid PRIMARY KEY,
		owner_id text NOT NULL,
		definition_id uuid NOT NULL,
		slot_date date NOT NULL,
		start_at timestamptz NOT NULL,
		end_at timestamptz NOT NULL,
		location_types text[] NOT NULL DEFAULT '{}',
		status text NOT NULL,
		price_minor_units bigint,
		booking_id uuid,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS time_slots_owner_start_key
		ON time_slots (owner_id, start_at)`,
	`CREATE INDEX IF NOT EXISTS time_slots_definition_status_idx
		ON time_slots (definition_id, status, start_at)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id uuid PRIMARY KEY,
		client_id text NOT NULL,
		provider_id text NOT NULL,
		slot_id uuid NOT NULL,
		definition_id uuid NOT NULL,
		location_type text NOT NULL,
		reason text NOT NULL DEFAULT '',
		status text NOT NULL,
		scheduled_at timestamptz NOT NULL,
		duration_minutes integer NOT NULL,
		price_minor_units bigint,
		currency text NOT NULL DEFAULT '',
		form_responses jsonb,
		expires_at timestamptz,
		rejected_by text,
		cancelled_by text,
		cancellation_reason text,
		cancelled_at timestamptz,
		cancelled_within_threshold boolean,
		no_show_marked_by text,
		no_show_marked_at timestamptz,
		invoice_ref text,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS bookings_pending_expiry_idx
		ON bookings (expires_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS bookings_client_idx ON bookings (client_id)`,
	`CREATE INDEX IF NOT EXISTS bookings_provider_idx ON bookings (provider_id)`,
}

// ApplyMigrations creates the schema if it does not exist. Statements are
// idempotent; there is no version tracking.
func ApplyMigrations(ctx context.Context, db bun.IDB) error {
	for _, stmt := range migrations {
		if _, err := db.NewRaw(stmt).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
