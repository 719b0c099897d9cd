package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Enqueuer is the narrow interface handlers use to schedule follow-up work.
type Enqueuer interface {
	Enqueue(ctx context.Context, e NewEntry) (*Entry, error)
}

// Store is the durable task-queue table. The table, not in-memory state, is
// the coordination point for the worker pool.
type Store interface {
	Enqueuer
	Get(ctx context.Context, id int64) (*Entry, error)
	// PendingDue returns pending entries whose run_after has passed,
	// ordered by priority (highest first) then creation time.
	PendingDue(ctx context.Context, now time.Time, limit int) ([]*Entry, error)
	// Claim atomically transitions one entry pending -> processing.
	// It returns false when another worker already claimed the entry.
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)
	// Release returns a processing entry to pending (dispatch failed
	// before any work happened).
	Release(ctx context.Context, id int64) error
	MarkProcessed(ctx context.Context, id int64, now time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg, traceback string, now time.Time) error
	// WindowUsage sums number_of_remote_requests per integration across
	// entries claimed since the window start.
	WindowUsage(ctx context.Context, since time.Time) (map[string]int, error)
	// DeleteProcessedBefore removes processed entries older than the cutoff.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ValidateNewEntry applies the fail-fast checks shared by every store
// implementation. Violations surface synchronously as ConfigError.
func ValidateNewEntry(e NewEntry) error {
	if e.TaskName == "" {
		return NewConfigError("task name is required")
	}
	if e.IntegrationID == "" {
		return NewConfigError("integration id is required")
	}
	if e.RemoteRequests < 0 {
		return NewConfigError("number_of_remote_requests must not be negative")
	}
	return nil
}

func marshalArgs(e NewEntry) (args, kwargs []byte, err error) {
	if e.Args == nil {
		args = []byte("[]")
	} else if args, err = json.Marshal(e.Args); err != nil {
		return nil, nil, NewConfigError("args not serializable: %v", err)
	}
	if e.Kwargs == nil {
		kwargs = []byte("{}")
	} else if kwargs, err = json.Marshal(e.Kwargs); err != nil {
		return nil, nil, NewConfigError("kwargs not serializable: %v", err)
	}
	return args, kwargs, nil
}

// PGStore implements Store on Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const entryColumns = `id, integration_id, task_name, args, kwargs,
	number_of_remote_requests, priority, status, run_after,
	COALESCE(error_message, ''), COALESCE(error_traceback, ''),
	created_at, claimed_at, processed_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.IntegrationID, &e.TaskName, &e.Args, &e.Kwargs,
		&e.RemoteRequests, &e.Priority, &e.Status, &e.RunAfter,
		&e.ErrorMessage, &e.ErrorTraceback,
		&e.CreatedAt, &e.ClaimedAt, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGStore) Enqueue(ctx context.Context, e NewEntry) (*Entry, error) {
	if err := ValidateNewEntry(e); err != nil {
		return nil, err
	}
	args, kwargs, err := marshalArgs(e)
	if err != nil {
		return nil, err
	}

	runAfter := e.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO onesila.task_queue
			(integration_id, task_name, args, kwargs, number_of_remote_requests, priority, run_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+entryColumns,
		e.IntegrationID, string(e.TaskName), args, kwargs, e.RemoteRequests, e.Priority, runAfter,
	)
	return scanEntry(row)
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM onesila.task_queue
		WHERE id = $1`, id)
	return scanEntry(row)
}

func (s *PGStore) PendingDue(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM onesila.task_queue
		WHERE status = 'pending' AND run_after <= $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Claim is the sole pending -> processing transition. The conditional
// UPDATE guarantees two concurrent schedulers never claim the same entry.
func (s *PGStore) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE onesila.task_queue
		SET status = 'processing', claimed_at = $2
		WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PGStore) Release(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.task_queue
		SET status = 'pending', claimed_at = NULL
		WHERE id = $1 AND status = 'processing'`, id)
	return err
}

func (s *PGStore) MarkProcessed(ctx context.Context, id int64, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.task_queue
		SET status = 'processed', processed_at = $2
		WHERE id = $1 AND status = 'processing'`, id, now)
	return err
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, errMsg, traceback string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.task_queue
		SET status = 'failed', processed_at = $2, error_message = $3, error_traceback = $4
		WHERE id = $1 AND status = 'processing'`, id, now, errMsg, traceback)
	return err
}

func (s *PGStore) WindowUsage(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT integration_id, COALESCE(SUM(number_of_remote_requests), 0)
		FROM onesila.task_queue
		WHERE claimed_at >= $1
		GROUP BY integration_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var id string
		var sum int
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		usage[id] = sum
	}
	return usage, rows.Err()
}

func (s *PGStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM onesila.task_queue
		WHERE status = 'processed' AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// DepthByStatus counts entries per status, for the queue monitor gauges.
func (s *PGStore) DepthByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM onesila.task_queue
		GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		depths[status] = n
	}
	return depths, rows.Err()
}
