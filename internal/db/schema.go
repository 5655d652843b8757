package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are ordered so foreign keys always reference existing tables.
// The UNIQUE constraint on appointments.slot_id makes "one appointment per
// slot" structural; the booking transaction enforces it procedurally as well.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS doctors (
		id               BIGSERIAL PRIMARY KEY,
		full_name        TEXT NOT NULL,
		max_patients     INT  NOT NULL,
		current_patients INT  NOT NULL DEFAULT 0,
		CHECK (current_patients >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id            BIGSERIAL PRIMARY KEY,
		full_name     TEXT NOT NULL,
		birth_date    DATE NOT NULL,
		phone         TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		gender        TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		doctor_id     BIGINT REFERENCES doctors(id) ON UPDATE CASCADE ON DELETE SET NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id            BIGSERIAL PRIMARY KEY,
		doctor_id     BIGINT NOT NULL REFERENCES doctors(id) ON UPDATE CASCADE ON DELETE CASCADE,
		schedule_date DATE NOT NULL,
		start_time    TEXT NOT NULL,
		end_time      TEXT NOT NULL,
		available     BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (doctor_id, schedule_date, start_time)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id         BIGSERIAL PRIMARY KEY,
		patient_id BIGINT NOT NULL REFERENCES patients(id) ON UPDATE CASCADE ON DELETE CASCADE,
		doctor_id  BIGINT NOT NULL REFERENCES doctors(id) ON UPDATE CASCADE ON DELETE CASCADE,
		slot_id    BIGINT NOT NULL UNIQUE REFERENCES slots(id) ON UPDATE CASCADE ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_doctor_open
		ON slots (doctor_id, schedule_date, start_time) WHERE available`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_patient
		ON appointments (patient_id)`,
}

// EnsureSchema creates the clinic tables if they do not exist yet.
// Called on service startup, mirroring how the backend has always
// bootstrapped its own schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
