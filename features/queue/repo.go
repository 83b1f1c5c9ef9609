package queue

import (
	"context"
	"database/sql"
	"errors"
)

type Repository interface {
	Enqueue(ctx context.Context, entityID, payload string, priority Priority) (*Item, error)
	LeaseBatch(ctx context.Context, n int) ([]Item, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
	Release(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) (*Item, error)
	SweepStuck(ctx context.Context, graceMinutes int) (int, error)
	Depth(ctx context.Context) ([]DepthStat, error)
	Get(ctx context.Context, id string) (*Item, error)
}

type PostgresRepo struct {
	db           *sql.DB
	agingMinutes int
}

// NewPostgresRepo builds a queue repo. agingMinutes controls how long a
// pending item waits before it is promoted one priority tier in the lease
// ordering, so sustained high-priority traffic cannot starve the low tier
// forever.
func NewPostgresRepo(db *sql.DB, agingMinutes int) *PostgresRepo {
	return &PostgresRepo{db: db, agingMinutes: agingMinutes}
}

// Enqueue inserts a pending item. If the entity already has a pending or
// processing item the call is a no-op and returns (nil, nil); re-embedding
// an entity that is already in flight would only double the provider bill.
func (r *PostgresRepo) Enqueue(ctx context.Context, entityID, payload string, priority Priority) (*Item, error) {
	query := `
		INSERT INTO embedding_queue (entity_id, payload, priority)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM embedding_queue
			WHERE entity_id = $1 AND status IN ('pending', 'processing')
		)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at`

	item := &Item{EntityID: entityID, Payload: payload, Priority: priority, Status: StatusPending}
	err := r.db.QueryRowContext(ctx, query, entityID, payload, priority).Scan(&item.ID, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Deduplicated against a live item.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// LeaseBatch claims up to n pending items for the caller and marks them
// processing. Ordering is priority (high > normal > low, with aged items
// promoted one tier) then FIFO within a tier. SKIP LOCKED lets concurrent
// workers partition the backlog without blocking or double-claiming.
func (r *PostgresRepo) LeaseBatch(ctx context.Context, n int) ([]Item, error) {
	query := `
		UPDATE embedding_queue q
		SET status = 'processing', started_at = NOW()
		FROM (
			SELECT id FROM embedding_queue
			WHERE status = 'pending'
			ORDER BY
				GREATEST(
					CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END
					- CASE WHEN created_at < NOW() - ($2 * INTERVAL '1 minute') THEN 1 ELSE 0 END,
					0),
				created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) picked
		WHERE q.id = picked.id
		RETURNING q.id, q.entity_id, q.payload, q.priority, q.status, q.attempt_count, q.error_message, q.created_at`

	rows, err := r.db.QueryContext(ctx, query, n, r.agingMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.EntityID, &it.Payload, &it.Priority, &it.Status, &it.AttemptCount, &it.ErrorMessage, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Complete marks a processing item completed. Calling it again, or on an
// item that already reached a terminal status, is a no-op.
func (r *PostgresRepo) Complete(ctx context.Context, id string) error {
	query := `UPDATE embedding_queue SET status = 'completed', finished_at = NOW() WHERE id = $1 AND status = 'processing'`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Fail marks a processing item failed, bumps attempt_count and records the
// reason. Failed items are never requeued automatically; replay against a
// paid API is an explicit operator action (Requeue).
func (r *PostgresRepo) Fail(ctx context.Context, id, reason string) error {
	query := `
		UPDATE embedding_queue
		SET status = 'failed', attempt_count = attempt_count + 1, error_message = $2, finished_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	return err
}

// Release returns a leased item to pending without recording an attempt.
// Used when a worker cannot process a claim it already holds, e.g. the
// daily budget ran out mid-batch.
func (r *PostgresRepo) Release(ctx context.Context, id string) error {
	query := `UPDATE embedding_queue SET status = 'pending', started_at = NULL WHERE id = $1 AND status = 'processing'`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Requeue creates a fresh pending item from a failed one. The failed row is
// left untouched for audit. Returns (nil, nil) when the source item is not
// failed or the entity already has a live item.
func (r *PostgresRepo) Requeue(ctx context.Context, id string) (*Item, error) {
	query := `
		INSERT INTO embedding_queue (entity_id, payload, priority)
		SELECT f.entity_id, f.payload, f.priority
		FROM embedding_queue f
		WHERE f.id = $1 AND f.status = 'failed'
		  AND NOT EXISTS (
			SELECT 1 FROM embedding_queue
			WHERE entity_id = f.entity_id AND status IN ('pending', 'processing')
		  )
		ON CONFLICT DO NOTHING
		RETURNING id, entity_id, payload, priority, created_at`

	item := &Item{Status: StatusPending}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&item.ID, &item.EntityID, &item.Payload, &item.Priority, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SweepStuck returns processing items older than the grace period to
// pending so a crashed worker cannot strand its lease forever.
func (r *PostgresRepo) SweepStuck(ctx context.Context, graceMinutes int) (int, error) {
	query := `
		UPDATE embedding_queue
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < NOW() - ($1 * INTERVAL '1 minute')`
	res, err := r.db.ExecContext(ctx, query, graceMinutes)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) Depth(ctx context.Context) ([]DepthStat, error) {
	query := `SELECT status, priority, COUNT(*) FROM embedding_queue GROUP BY status, priority ORDER BY status, priority`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DepthStat
	for rows.Next() {
		var s DepthStat
		if err := rows.Scan(&s.Status, &s.Priority, &s.Count); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Item, error) {
	it := &Item{}
	query := `
		SELECT id, entity_id, payload, priority, status, attempt_count, error_message, created_at, started_at, finished_at
		FROM embedding_queue WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&it.ID, &it.EntityID, &it.Payload, &it.Priority, &it.Status,
		&it.AttemptCount, &it.ErrorMessage, &it.CreatedAt, &it.StartedAt, &it.FinishedAt)
	if err != nil {
		return nil, err
	}
	return it, nil
}
