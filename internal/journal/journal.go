// Package journal persists one row per external call attempt (spawn,
// generate, search) so a long compilation run can be audited after the
// fact: which configs were tried for a record, what the runtime said,
// and how long each call took.
package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Attempt stages.
const (
	StageSpawn    = "spawn"
	StageGenerate = "generate"
	StageSearch   = "search"
)

// Attempt outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Attempt is one external call made while processing a record.
type Attempt struct {
	ID         string
	RunID      string
	RecordID   string
	Stage      string
	ConfigKind string
	Outcome    string
	ErrorCode  string
	ErrorMsg   string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Store wraps a SQLite database holding the attempt journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal database in dataDir and runs
// pending migrations. Pass ":memory:" as dataDir for an in-memory
// database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "journal.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.SplitN(filename, "_", 2)[0]
	v, err := strconv.Atoi(base)
	if err != nil {
		return 0, fmt.Errorf("migration %s: cannot parse version: %w", filename, err)
	}
	return v, nil
}

// RecordAttempt inserts one attempt row, assigning an id and timestamp
// when the caller left them empty.
func (s *Store) RecordAttempt(a Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`INSERT INTO attempts
		(id, run_id, record_id, stage, config_kind, outcome, error_code, error_msg, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.RecordID, a.Stage, a.ConfigKind, a.Outcome,
		a.ErrorCode, a.ErrorMsg, a.Duration.Milliseconds(), a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts recorded for a record, oldest first.
// A limit <= 0 means no limit.
func (s *Store) ListAttempts(recordID string, limit int) ([]Attempt, error) {
	query := `SELECT id, run_id, record_id, stage, config_kind, outcome, error_code, error_msg, duration_ms, created_at
		FROM attempts WHERE record_id = ? ORDER BY created_at ASC`
	args := []any{recordID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// RecentAttempts returns the most recent attempts across all records,
// newest first.
func (s *Store) RecentAttempts(limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, run_id, record_id, stage, config_kind, outcome, error_code, error_msg, duration_ms, created_at
		FROM attempts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// CountByOutcome returns attempt counts grouped by outcome for a run.
// An empty runID counts across all runs.
func (s *Store) CountByOutcome(runID string) (map[string]int, error) {
	query := "SELECT outcome, COUNT(*) FROM attempts"
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " GROUP BY outcome"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		var a Attempt
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RunID, &a.RecordID, &a.Stage, &a.ConfigKind,
			&a.Outcome, &a.ErrorCode, &a.ErrorMsg, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
