package runstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS chain_runs (
	name         TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	started_at   TEXT,
	current_step INTEGER,
	finished_at  TEXT,
	duration     REAL,
	results      TEXT,
	error        TEXT
);`

const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// SQLiteBackend stores the state in a single chain_runs table, one row per chain.
// The status column places each row in exactly one set.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run state database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run state schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Read loads every row into a State.
func (b *SQLiteBackend) Read(ctx context.Context) (*State, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT name, status, started_at, current_step, finished_at, duration, results, error FROM chain_runs`)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	defer rows.Close()

	state := NewState()
	for rows.Next() {
		var (
			name, status                   string
			startedAt, finishedAt, results sql.NullString
			errMsg                         sql.NullString
			currentStep                    sql.NullInt64
			duration                       sql.NullFloat64
		)
		if err := rows.Scan(&name, &status, &startedAt, &currentStep, &finishedAt, &duration, &results, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to read run state: %w", err)
		}

		switch status {
		case statusRunning:
			state.Running[name] = Running{
				StartedAt:   parseTime(startedAt),
				CurrentStep: int(currentStep.Int64),
			}
		case statusCompleted:
			rec := Completed{CompletedAt: parseTime(finishedAt), Duration: duration.Float64}
			if results.Valid && results.String != "" {
				if err := json.Unmarshal([]byte(results.String), &rec.Results); err != nil {
					return nil, fmt.Errorf("failed to parse results for %s: %w", name, err)
				}
			}
			state.Completed[name] = rec
		case statusFailed:
			state.Failed[name] = Failed{FailedAt: parseTime(finishedAt), Error: errMsg.String}
		default:
			return nil, fmt.Errorf("unknown run status %q for %s", status, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	return state, nil
}

// Write replaces the table contents with state in one transaction.
func (b *SQLiteBackend) Write(ctx context.Context, state *State) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chain_runs`); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}

	const insert = `INSERT INTO chain_runs (name, status, started_at, current_step, finished_at, duration, results, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for name, r := range state.Running {
		if _, err := tx.ExecContext(ctx, insert, name, statusRunning, formatTime(r.StartedAt), r.CurrentStep, nil, nil, nil, nil); err != nil {
			return fmt.Errorf("failed to write running record %s: %w", name, err)
		}
	}
	for name, c := range state.Completed {
		results, err := json.Marshal(c.Results)
		if err != nil {
			return fmt.Errorf("failed to marshal results for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, insert, name, statusCompleted, nil, nil, formatTime(c.CompletedAt), c.Duration, string(results), nil); err != nil {
			return fmt.Errorf("failed to write completed record %s: %w", name, err)
		}
	}
	for name, f := range state.Failed {
		if _, err := tx.ExecContext(ctx, insert, name, statusFailed, nil, nil, formatTime(f.FailedAt), nil, nil, f.Error); err != nil {
			return fmt.Errorf("failed to write failed record %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
