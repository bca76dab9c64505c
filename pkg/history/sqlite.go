package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/poltergeist/buildvision/pkg/types"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath and migrates it
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// One writer; the pool serializes access.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores a finished session with its project results
func (s *SQLiteStore) Append(ctx context.Context, snap types.SessionSnapshot) (*Record, error) {
	rec := FromSnapshot(snap)
	stamp := rec.FinishedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	rec.ID = newID(stamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, session_id, action, scope, solution, outcome, cancelled, errors, warnings, messages, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, string(rec.Action), string(rec.Scope), rec.Solution, rec.Outcome,
		boolToInt(rec.Cancelled), rec.Errors, rec.Warnings, rec.Messages,
		nullTime(rec.StartedAt), nullTime(rec.FinishedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	for i, p := range rec.Projects {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO project_results (record_id, position, unique_name, full_name, configuration, platform, state, errors, warnings, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, p.UniqueName, p.FullName, p.Configuration, p.Platform, string(p.State),
			p.Errors, p.Warnings, p.Duration.Milliseconds(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert project %s: %w", p.UniqueName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit history: %w", err)
	}
	return &rec, nil
}

// Recent returns up to limit sessions, newest first, without project rows
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, action, scope, solution, outcome, cancelled, errors, warnings, messages, started_at, finished_at
		FROM sessions ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns one session with its project rows
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, action, scope, solution, outcome, cancelled, errors, warnings, messages, started_at, finished_at
		FROM sessions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT unique_name, full_name, configuration, platform, state, errors, warnings, duration_ms
		FROM project_results WHERE record_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query project results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p ProjectRecord
		var state string
		var durationMs int64
		if err := rows.Scan(&p.UniqueName, &p.FullName, &p.Configuration, &p.Platform, &state, &p.Errors, &p.Warnings, &durationMs); err != nil {
			return nil, fmt.Errorf("scan project result: %w", err)
		}
		p.State = types.ProjectState(state)
		p.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Projects = append(rec.Projects, p)
	}
	return rec, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec               Record
		action, scope     string
		cancelled         int
		started, finished sql.NullTime
	)
	err := sc.Scan(&rec.ID, &rec.SessionID, &action, &scope, &rec.Solution, &rec.Outcome, &cancelled,
		&rec.Errors, &rec.Warnings, &rec.Messages, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	rec.Action = types.BuildAction(action)
	rec.Scope = types.BuildScope(scope)
	rec.Cancelled = cancelled != 0
	if started.Valid {
		rec.StartedAt = started.Time
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
