// Package checkpoint persists resumable pipeline progress in SQLite.
// One record per operation id, written atomically each step, deleted on
// success, garbage-collected after a retention window.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRetention is how long abandoned checkpoints survive before GC.
const DefaultRetention = 24 * time.Hour

// Record is one durable progress snapshot.
type Record struct {
	OperationID    string                 `json:"operationId"`
	Step           int                    `json:"step"`
	TotalSteps     int                    `json:"totalSteps"`
	Timestamp      time.Time              `json:"timestamp"`
	CompletedFiles []string               `json:"completedFiles"`
	State          map[string]interface{} `json:"state"`
}

// Store is a process-wide checkpoint store. One execution owns one
// operation id, so records never contend across runs.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	operation_id    TEXT PRIMARY KEY,
	step            INTEGER NOT NULL,
	total_steps     INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	completed_files TEXT NOT NULL,
	state           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
`

// Open opens (creating if needed) the store at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	// The driver is file-backed; a single writer keeps WAL unnecessary,
	// but busy_timeout protects concurrent GC.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes or replaces the record for its operation id atomically.
func (s *Store) Save(rec Record) error {
	if rec.OperationID == "" {
		return fmt.Errorf("checkpoint: empty operation id")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	files, err := json.Marshal(rec.CompletedFiles)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", rec.OperationID, err)
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", rec.OperationID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO checkpoints (operation_id, step, total_steps, updated_at, completed_files, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id) DO UPDATE SET
			step = excluded.step,
			total_steps = excluded.total_steps,
			updated_at = excluded.updated_at,
			completed_files = excluded.completed_files,
			state = excluded.state`,
		rec.OperationID, rec.Step, rec.TotalSteps, rec.Timestamp.Unix(), string(files), string(state))
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", rec.OperationID, err)
	}
	return nil
}

// Load returns the record for an operation id; ok is false when absent.
func (s *Store) Load(operationID string) (*Record, bool, error) {
	row := s.db.QueryRow(`
		SELECT step, total_steps, updated_at, completed_files, state
		FROM checkpoints WHERE operation_id = ?`, operationID)

	var rec Record
	var updatedAt int64
	var files, state string
	err := row.Scan(&rec.Step, &rec.TotalSteps, &updatedAt, &files, &state)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint %s: %w", operationID, err)
	}
	rec.OperationID = operationID
	rec.Timestamp = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(files), &rec.CompletedFiles); err != nil {
		return nil, false, fmt.Errorf("checkpoint %s: %w", operationID, err)
	}
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return nil, false, fmt.Errorf("checkpoint %s: %w", operationID, err)
	}
	return &rec, true, nil
}

// Take loads and deletes the record in one step; resume reads a
// checkpoint exactly once.
func (s *Store) Take(operationID string) (*Record, bool, error) {
	rec, ok, err := s.Load(operationID)
	if err != nil || !ok {
		return nil, ok, err
	}
	if err := s.Delete(operationID); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Delete removes the record for an operation id.
func (s *Store) Delete(operationID string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE operation_id = ?`, operationID); err != nil {
		return fmt.Errorf("checkpoint %s: %w", operationID, err)
	}
	return nil
}

// GC removes records older than the retention window, returning the
// number deleted.
func (s *Store) GC(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("checkpoint gc: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
