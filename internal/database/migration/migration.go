package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Dialect selects engine specific DDL where the engines disagree.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// CurrentVersion is the schema version the application expects.
const CurrentVersion = 2

// ErrSchemaDowngrade is returned when the stored schema is newer than the requested one.
var ErrSchemaDowngrade = errors.New("stored schema version is newer than requested")

type migrationStep struct {
	Name string
	SQL  string
	// Postgres replaces SQL on PostgreSQL when set.
	Postgres string
}

func (s migrationStep) statement(d Dialect) string {
	if d == DialectPostgres && s.Postgres != "" {
		return s.Postgres
	}
	return s.SQL
}

type schemaVersion struct {
	Number int
	Steps  []migrationStep
}

const documentsColumns = `
  id              TEXT NOT NULL UNIQUE,
  coachee_id      TEXT NOT NULL,
  name            TEXT NOT NULL,
  type            TEXT NOT NULL DEFAULT '',
  encoded_payload TEXT NOT NULL DEFAULT '',
  resource_url    TEXT NOT NULL DEFAULT '',
  upload_date     TEXT NOT NULL DEFAULT '',
  size            TEXT NOT NULL DEFAULT '',
  format          TEXT NOT NULL DEFAULT ''
);`

// versions only ever grows. Every statement must be safe to run against a
// schema that already has the object.
var versions = []schemaVersion{
	{
		Number: 1,
		Steps: []migrationStep{
			{
				Name:     "create_table_documents",
				SQL:      "CREATE TABLE IF NOT EXISTS documents (\n  seq             INTEGER PRIMARY KEY AUTOINCREMENT," + documentsColumns,
				Postgres: "CREATE TABLE IF NOT EXISTS documents (\n  seq             BIGSERIAL PRIMARY KEY," + documentsColumns,
			},
			{
				Name: "create_index_documents_coachee_id",
				SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_coachee_id ON documents (coachee_id);`,
			},
		},
	},
	{
		Number: 2,
		Steps: []migrationStep{
			{
				Name: "create_index_documents_type",
				SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_type ON documents (type);`,
			},
		},
	},
}

const (
	createMetaSQL = `CREATE TABLE IF NOT EXISTS schema_meta (
  id      INTEGER PRIMARY KEY CHECK (id = 1),
  version INTEGER NOT NULL
);`
	selectVersionSQL = `SELECT version FROM schema_meta WHERE id = 1`
	upsertVersionSQL = `INSERT INTO schema_meta (id, version) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET version = excluded.version`
)

// Result describes what Upgrade did.
type Result struct {
	From    int
	To      int
	Applied []string
}

// StoredVersion returns the recorded schema version, 0 when none is recorded yet.
func StoredVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, selectVersionSQL).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Upgrade brings the schema up to target. Missing tables and indices are created
// inside one transaction and the new version is recorded; existing rows are never
// touched. Running it again at the same target is a no-op.
func Upgrade(ctx context.Context, db *sql.DB, d Dialect, target int, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "database"), slog.String("dialect", string(d)))
	start := time.Now()

	log.Info("db_migration_check", "status", "starting", "target_version", target)

	fail := func(step string, err error) (Result, error) {
		log.Error("db_migration_failed",
			"status", "error",
			"migration_step", step,
			"error_message", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return Result{}, err
	}

	if _, err := db.ExecContext(ctx, createMetaSQL); err != nil {
		return fail("create_table_schema_meta", fmt.Errorf("failed to create schema_meta: %w", err))
	}

	stored, err := StoredVersion(ctx, db)
	if err != nil {
		return fail("read_version", fmt.Errorf("failed to read schema version: %w", err))
	}

	res := Result{From: stored, To: stored}
	if stored > target {
		return fail("read_version", fmt.Errorf("%w: stored %d, requested %d", ErrSchemaDowngrade, stored, target))
	}
	if stored == target {
		log.Info("db_migration_skip",
			"status", "success",
			"detail", "schema already at requested version, skipping migration",
			"version", stored,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return res, nil
	}

	log.Info("db_migration_start", "status", "in_progress", "from_version", stored)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", fmt.Errorf("failed to begin migration: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, v := range versions {
		if v.Number <= stored || v.Number > target {
			continue
		}
		for _, step := range v.Steps {
			stepStart := time.Now()
			if _, err := tx.ExecContext(ctx, step.statement(d)); err != nil {
				return fail(step.Name, fmt.Errorf("migration step %s failed: %w", step.Name, err))
			}
			res.Applied = append(res.Applied, step.Name)
			log.Info("db_migration_step",
				"status", "success",
				"migration_step", step.Name,
				"version", v.Number,
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
		}
		res.To = v.Number
	}

	if _, err := tx.ExecContext(ctx, upsertVersionSQL, res.To); err != nil {
		return fail("record_version", fmt.Errorf("failed to record schema version: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return fail("commit", fmt.Errorf("failed to commit migration: %w", err))
	}

	log.Info("db_migration_success",
		"status", "success",
		"from_version", res.From,
		"to_version", res.To,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
