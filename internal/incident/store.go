package incident

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

//go:embed migrations/002_add_actions.sql
var migrationV2 string

// ErrNotFound is returned by Get for an unknown incident ID.
var ErrNotFound = errors.New("incident not found")

// Store is the SQLite incident ledger.
type Store struct {
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection
	mu     sync.RWMutex

	// Retry configuration
	maxRetries    int
	baseRetryWait time.Duration
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithRetry sets how often a busy write is retried.
func WithRetry(maxRetries int, baseWait time.Duration) StoreOption {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// NewStore opens (creating if needed) the ledger at dbPath.
func NewStore(dbPath string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, core.ErrIO("creating incident directory", err)
	}

	// Open write connection with WAL mode
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	// Run migrations before the read-only connection can see the file.
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(2)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS incident_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM incident_schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{migrationV1, migrationV2}
	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO incident_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script into statements, dropping comment
// lines.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		var sqlLines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				sqlLines = append(sqlLines, line)
			}
		}
		if len(sqlLines) > 0 {
			statements = append(statements, strings.Join(sqlLines, "\n"))
		}
	}
	return statements
}

// retryWrite executes a write, backing off while the database is busy.
func (s *Store) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		wait := s.baseRetryWait * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// Insert stores a finished incident.
func (s *Store) Insert(ctx context.Context, inc *Incident) error {
	actions, err := json.Marshal(inc.Actions)
	if err != nil {
		return fmt.Errorf("marshaling actions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryWrite(ctx, "Insert", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO incidents (id, started_at, finished_at, pid, flags, count, threshold, killed, failed, report_path, actions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inc.ID,
			inc.StartedAt.UTC().Format(time.RFC3339Nano),
			inc.FinishedAt.UTC().Format(time.RFC3339Nano),
			inc.PID,
			inc.Flags.String(),
			inc.Count,
			inc.Threshold,
			inc.Killed,
			inc.Failed,
			inc.ReportPath,
			string(actions),
		)
		return err
	})
}

const selectIncident = `
	SELECT id, started_at, finished_at, pid, flags, count, threshold, killed, failed, report_path, actions
	FROM incidents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var startedAt, finishedAt, flags, actions string
	var reportPath sql.NullString

	if err := row.Scan(&inc.ID, &startedAt, &finishedAt, &inc.PID, &flags,
		&inc.Count, &inc.Threshold, &inc.Killed, &inc.Failed, &reportPath, &actions); err != nil {
		return nil, err
	}

	inc.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	inc.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	inc.ReportPath = reportPath.String
	if err := inc.Flags.UnmarshalText([]byte(flags)); err != nil {
		return nil, fmt.Errorf("incident %s: %w", inc.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &inc.Actions); err != nil {
		return nil, fmt.Errorf("incident %s actions: %w", inc.ID, err)
	}
	return &inc, nil
}

// Get returns one incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, err := scanIncident(s.readDB.QueryRowContext(ctx, selectIncident+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning incident: %w", err)
	}
	return inc, nil
}

// List returns the most recent incidents first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectIncident + " ORDER BY started_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Close closes both connections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
