package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/leeksaver/leeksaver/internal/database"
)

// TaskSnapshot is the per-task runtime record surfaced over the status API.
// Snapshots are msgpack-encoded at rest; the shape can grow fields without
// a schema migration.
type TaskSnapshot struct {
	TaskName    string `msgpack:"task_name"`
	State       string `msgpack:"state"` // idle | running | succeeded | failed | cancelled
	LastRunAt   int64  `msgpack:"last_run_at"` // unix seconds, 0 = never
	LastOKAt    int64  `msgpack:"last_ok_at"`
	DurationMS  int64  `msgpack:"duration_ms"`
	RowsWritten int    `msgpack:"rows_written"`
	LastError   string `msgpack:"last_error,omitempty"`
	DedupSkips  int    `msgpack:"dedup_skips"`
}

// StatusRepository persists task snapshots.
type StatusRepository struct {
	db *database.DB
}

func NewStatusRepository(db *database.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Save upserts one snapshot.
func (r *StatusRepository) Save(ctx context.Context, snap *TaskSnapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", snap.TaskName, err)
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO task_status (task_name, snapshot, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(task_name) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		snap.TaskName, blob)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.TaskName, err)
	}
	return nil
}

// Get returns the snapshot for one task, or nil when never recorded.
func (r *StatusRepository) Get(ctx context.Context, taskName string) (*TaskSnapshot, error) {
	var blob []byte
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT snapshot FROM task_status WHERE task_name = ?", taskName).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", taskName, err)
	}
	var snap TaskSnapshot
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", taskName, err)
	}
	return &snap, nil
}

// List returns all snapshots ordered by task name.
func (r *StatusRepository) List(ctx context.Context) ([]TaskSnapshot, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		"SELECT snapshot FROM task_status ORDER BY task_name")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []TaskSnapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var snap TaskSnapshot
		if err := msgpack.Unmarshal(blob, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
