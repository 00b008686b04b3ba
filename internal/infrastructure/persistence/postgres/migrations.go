// Package postgres implements the PostgreSQL persistence layer for Card Forge.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Students are reference data; identity is resolved upstream.
CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    number VARCHAR(50) NOT NULL DEFAULT '',
    name VARCHAR(100) NOT NULL,
    nickname VARCHAR(100) NOT NULL DEFAULT '',
    role VARCHAR(20) NOT NULL DEFAULT 'student',
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_role CHECK (role IN ('student', 'teacher', 'admin'))
);

CREATE INDEX IF NOT EXISTS idx_students_email ON students(email);
CREATE INDEX IF NOT EXISTS idx_students_enrolled_at ON students(enrolled_at);
`

const migration001Down = `
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: UNITS AND LEARNING RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Unit catalogue. Seeded from the built-in course layout; slots is the list
-- of card attribute slots the unit unlocks.
CREATE TABLE IF NOT EXISTS units (
    code VARCHAR(20) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    ordinal INTEGER NOT NULL,
    week_start INTEGER NOT NULL,
    week_end INTEGER NOT NULL,
    slots JSONB NOT NULL,
    sort_order INTEGER NOT NULL,

    CONSTRAINT valid_weeks CHECK (week_start >= 1 AND week_end >= week_start)
);

-- Learning records are append-only: re-grading inserts a newer row.
CREATE TABLE IF NOT EXISTS learning_records (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    unit_code VARCHAR(20) NOT NULL REFERENCES units(code),
    score DECIMAL(5,2) NOT NULL,
    homework DECIMAL(5,2) NOT NULL DEFAULT 0,
    completion DECIMAL(5,2) NOT NULL DEFAULT 0,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    imported_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100),
    CONSTRAINT valid_homework CHECK (homework >= 0 AND homework <= 100),
    CONSTRAINT valid_completion CHECK (completion >= 0 AND completion <= 100)
);

CREATE INDEX IF NOT EXISTS idx_learning_records_student ON learning_records(student_id);
CREATE INDEX IF NOT EXISTS idx_learning_records_latest
    ON learning_records(student_id, unit_code, recorded_at DESC, imported_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS learning_records;
DROP TABLE IF EXISTS units;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: SCORE TABLES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Score table versions are append-only config. The tier definitions live in
-- JSONB: they are read as a whole, validated in code, never queried by part.
CREATE TABLE IF NOT EXISTS score_tables (
    version VARCHAR(50) PRIMARY KEY,
    definition JSONB NOT NULL,
    active BOOLEAN NOT NULL DEFAULT FALSE,
    published_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- At most one active version at a time.
CREATE UNIQUE INDEX IF NOT EXISTS idx_score_tables_single_active
    ON score_tables(active) WHERE active;
`

const migration003Down = `
DROP TABLE IF EXISTS score_tables;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Cards snapshot the resolved selection and table version at request time.
CREATE TABLE IF NOT EXISTS cards (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    table_version VARCHAR(50) NOT NULL REFERENCES score_tables(version),
    selection JSONB NOT NULL,
    prompt TEXT NOT NULL,
    state VARCHAR(20) NOT NULL DEFAULT 'requested',
    failure_reason VARCHAR(30) NOT NULL DEFAULT '',
    reservation_id UUID,
    job_handle VARCHAR(100) NOT NULL DEFAULT '',
    artifact_url TEXT NOT NULL DEFAULT '',
    thumbnail_url TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL,
    border VARCHAR(10) NOT NULL,
    is_latest BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    submitted_at TIMESTAMP WITH TIME ZONE,
    finalized_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_state CHECK (state IN
        ('requested', 'reserved', 'submitted', 'awaiting_result', 'completed', 'failed')),
    CONSTRAINT valid_level CHECK (level >= 1 AND level <= 10),
    CONSTRAINT valid_border CHECK (border IN ('copper', 'silver', 'gold'))
);

-- One generation in flight per student: enforced here, not in code.
CREATE UNIQUE INDEX IF NOT EXISTS idx_cards_one_in_flight
    ON cards(student_id)
    WHERE state NOT IN ('completed', 'failed');

CREATE INDEX IF NOT EXISTS idx_cards_student ON cards(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cards_in_flight
    ON cards(updated_at) WHERE state NOT IN ('completed', 'failed');
CREATE UNIQUE INDEX IF NOT EXISTS idx_cards_latest
    ON cards(student_id) WHERE is_latest;
`

const migration004Down = `
DROP TABLE IF EXISTS cards;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: TOKEN LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
-- Reservations: a provisional debit pending exactly one terminal outcome.
CREATE TABLE IF NOT EXISTS reservations (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    cost INTEGER NOT NULL,
    state VARCHAR(20) NOT NULL DEFAULT 'open',
    card_id UUID NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    settled_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_reservation_state CHECK (state IN ('open', 'committed', 'released')),
    CONSTRAINT positive_cost CHECK (cost > 0)
);

CREATE INDEX IF NOT EXISTS idx_reservations_open
    ON reservations(created_at) WHERE state = 'open';
CREATE INDEX IF NOT EXISTS idx_reservations_student ON reservations(student_id);

-- Append-only transaction log. Balance is SUM(delta); rows are never updated
-- or deleted.
CREATE TABLE IF NOT EXISTS token_transactions (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    delta INTEGER NOT NULL,
    reason VARCHAR(20) NOT NULL,
    reservation_id UUID REFERENCES reservations(id),
    card_id UUID,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_reason CHECK (reason IN ('grant', 'reserve', 'commit', 'release'))
);

CREATE INDEX IF NOT EXISTS idx_token_transactions_student
    ON token_transactions(student_id, created_at);
CREATE INDEX IF NOT EXISTS idx_token_transactions_reservation
    ON token_transactions(reservation_id) WHERE reservation_id IS NOT NULL;
`

const migration005Down = `
DROP TABLE IF EXISTS token_transactions;
DROP TABLE IF EXISTS reservations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// GetMigrations returns all migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_units_and_records", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_score_tables", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_cards", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "create_token_ledger", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}

// Migrator applies migrations in order, tracking state in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if needed.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)
	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedMigrations returns the versions already applied.
func (m *Migrator) AppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)
	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insert, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}
