package store

import (
	"context"
	"fmt"
)

// Reference data (zones, hospitals, doctors, vehicles) carries explicit ids
// from the seed set; emergencies and activities are numbered by Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS zones (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS hospitals (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	zone_id BIGINT NOT NULL REFERENCES zones(id),
	capacity_total INTEGER NOT NULL,
	occupancy_current INTEGER NOT NULL,
	has_antivenom BOOLEAN NOT NULL DEFAULT FALSE,
	has_trauma_unit BOOLEAN NOT NULL DEFAULT FALSE,
	has_cardiology BOOLEAN NOT NULL DEFAULT FALSE,
	has_pediatrics BOOLEAN NOT NULL DEFAULT FALSE,
	has_burn_unit BOOLEAN NOT NULL DEFAULT FALSE,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS doctors (
	id BIGINT PRIMARY KEY,
	hospital_id BIGINT NOT NULL REFERENCES hospitals(id),
	name TEXT NOT NULL,
	specialty TEXT NOT NULL,
	available BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS vehicles (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	zone_id BIGINT NOT NULL REFERENCES zones(id),
	state TEXT NOT NULL DEFAULT 'available',
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS emergencies (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	zone_id BIGINT NOT NULL REFERENCES zones(id),
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	status TEXT NOT NULL DEFAULT 'active',
	assigned_hospital_id BIGINT REFERENCES hospitals(id),
	assigned_vehicle_id BIGINT REFERENCES vehicles(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS emergencies_status_idx ON emergencies (status);

CREATE TABLE IF NOT EXISTS activities (
	id BIGSERIAL PRIMARY KEY,
	agent TEXT NOT NULL,
	kind TEXT NOT NULL,
	description TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS activities_created_at_idx ON activities (created_at DESC);
`

// Migrate creates the tables if they do not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
