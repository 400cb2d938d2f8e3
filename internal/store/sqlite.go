package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/clinicsync/harvest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id               TEXT PRIMARY KEY,
	start_id         INTEGER NOT NULL,
	end_id           INTEGER NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	stop_reason      TEXT,
	patients         INTEGER NOT NULL DEFAULT 0,
	evolutions       INTEGER NOT NULL DEFAULT 0,
	checkpoint_label TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_harvest_runs_status ON harvest_runs(status);
CREATE INDEX IF NOT EXISTS idx_harvest_runs_created_at ON harvest_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, startID, endID int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO harvest_runs (id, start_id, end_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, startID, endID, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		StartID:   startID,
		EndID:     endID,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, update RunUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE harvest_runs
		 SET status = ?, stop_reason = ?, patients = ?, evolutions = ?, checkpoint_label = ?, finished_at = ?
		 WHERE id = ?`,
		string(update.Status), update.StopReason, update.Patients, update.Evolutions,
		update.CheckpointLabel, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_id, end_id, status, COALESCE(stop_reason, ''), patients, evolutions,
		        COALESCE(checkpoint_label, ''), created_at, finished_at
		 FROM harvest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartID, &r.EndID, &status, &r.StopReason,
			&r.Patients, &r.Evolutions, &r.CheckpointLabel, &r.CreatedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}
