package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"modernc.org/sqlite"               // driver: sqlite
	sqlite3 "modernc.org/sqlite/lib"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:examd.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/examd?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// single writer; avoids SQLITE_BUSY under concurrent upserts
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// IsUniqueViolation reports whether err is a unique/primary-key constraint
// failure from either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// Booleans are stored as 0/1 integers on both drivers so the same queries
// serve both. Timestamps are unix seconds.
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  subject TEXT NOT NULL,
  class_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  duration_minutes INTEGER NOT NULL,
  total_marks INTEGER NOT NULL DEFAULT 0,
  exam_type TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0,
  results_released INTEGER,
  semester_released INTEGER NOT NULL DEFAULT 0,
  starts_at INTEGER,
  ends_at INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS exams_class ON exams(class_id);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT NOT NULL,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  sequence_order INTEGER NOT NULL,
  text TEXT NOT NULL,
  question_type TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '[]',
  correct_answer TEXT NOT NULL DEFAULT '',
  marks INTEGER NOT NULL CHECK (marks > 0),
  PRIMARY KEY (exam_id, id)
);
CREATE INDEX IF NOT EXISTS questions_exam ON questions(exam_id, sequence_order);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  time_remaining_seconds INTEGER NOT NULL,
  total_marks INTEGER NOT NULL DEFAULT 0,
  score INTEGER NOT NULL DEFAULT 0,
  percentage REAL NOT NULL DEFAULT 0,
  cursor_index INTEGER NOT NULL DEFAULT 0,
  presented_order TEXT NOT NULL DEFAULT '[]',
  started_at INTEGER NOT NULL,
  checkpointed_at INTEGER NOT NULL,
  submitted_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
  ON attempts(student_id, exam_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS responses (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  question_id TEXT NOT NULL,
  answer TEXT NOT NULL DEFAULT '',
  sequence_order INTEGER NOT NULL,
  is_correct INTEGER,
  marks_awarded INTEGER,
  updated_at INTEGER NOT NULL,
  UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS grades (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  score INTEGER NOT NULL,
  percentage REAL NOT NULL,
  letter TEXT NOT NULL,
  scaling_percentage REAL NOT NULL,
  scaled_score REAL NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE (student_id, exam_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,                         -- warning|critical_warning|result_ready
  key TEXT NOT NULL,                         -- natural key: attemptID
  data TEXT NOT NULL,                        -- JSON payload
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  subject TEXT NOT NULL,
  class_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  duration_minutes INTEGER NOT NULL,
  total_marks INTEGER NOT NULL DEFAULT 0,
  exam_type TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0,
  results_released INTEGER,
  semester_released INTEGER NOT NULL DEFAULT 0,
  starts_at BIGINT,
  ends_at BIGINT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS exams_class ON exams(class_id);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT NOT NULL,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  sequence_order INTEGER NOT NULL,
  text TEXT NOT NULL,
  question_type TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '[]',
  correct_answer TEXT NOT NULL DEFAULT '',
  marks INTEGER NOT NULL CHECK (marks > 0),
  PRIMARY KEY (exam_id, id)
);
CREATE INDEX IF NOT EXISTS questions_exam ON questions(exam_id, sequence_order);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  time_remaining_seconds INTEGER NOT NULL,
  total_marks INTEGER NOT NULL DEFAULT 0,
  score INTEGER NOT NULL DEFAULT 0,
  percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  cursor_index INTEGER NOT NULL DEFAULT 0,
  presented_order TEXT NOT NULL DEFAULT '[]',
  started_at BIGINT NOT NULL,
  checkpointed_at BIGINT NOT NULL,
  submitted_at BIGINT
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
  ON attempts(student_id, exam_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS responses (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  question_id TEXT NOT NULL,
  answer TEXT NOT NULL DEFAULT '',
  sequence_order INTEGER NOT NULL,
  is_correct INTEGER,
  marks_awarded INTEGER,
  updated_at BIGINT NOT NULL,
  UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS grades (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  score INTEGER NOT NULL,
  percentage DOUBLE PRECISION NOT NULL,
  letter TEXT NOT NULL,
  scaling_percentage DOUBLE PRECISION NOT NULL,
  scaled_score DOUBLE PRECISION NOT NULL,
  updated_at BIGINT NOT NULL,
  UNIQUE (student_id, exam_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
