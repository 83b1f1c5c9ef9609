package embedding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type Repository interface {
	EnsureModel(ctx context.Context, provider, model string, dimensions int, costPer1K float64) (*Model, error)
	InsertCurrent(ctx context.Context, e *Embedding) error
	GetCurrent(ctx context.Context, entityID string) (*Embedding, error)
	ListCurrent(ctx context.Context) ([]Embedding, error)
	CountCurrent(ctx context.Context) (int, error)
	SpendSince(ctx context.Context, since time.Time) (float64, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// EnsureModel registers the model row if absent and returns the stored
// row. On conflict the returned dimensions and pricing are the existing
// row's, not the caller's, so budget pricing always matches what
// SpendSince computes from the table.
func (r *PostgresRepo) EnsureModel(ctx context.Context, provider, model string, dimensions int, costPer1K float64) (*Model, error) {
	m := &Model{Provider: provider, Model: model}
	query := `
		INSERT INTO embedding_models (provider, model, dimensions, cost_per_1k_tokens)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, model, dimensions) DO UPDATE SET provider = EXCLUDED.provider
		RETURNING id, dimensions, cost_per_1k_tokens, created_at`
	err := r.db.QueryRowContext(ctx, query, provider, model, dimensions, costPer1K).
		Scan(&m.ID, &m.Dimensions, &m.CostPer1KTokens, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// InsertCurrent writes a new current embedding for e.EntityID, demoting the
// previous current row and bumping the per-entity version in the same
// transaction. Only the worker calls this.
func (r *PostgresRepo) InsertCurrent(ctx context.Context, e *Embedding) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	demote := `UPDATE embeddings SET is_current = FALSE WHERE entity_id = $1 AND is_current`
	if _, err := tx.ExecContext(ctx, demote, e.EntityID); err != nil {
		return fmt.Errorf("demote current embedding: %w", err)
	}

	insert := `
		INSERT INTO embeddings (entity_id, model_id, vector, source_text, version, is_current, tokens_used)
		VALUES ($1, $2, $3, $4,
			COALESCE((SELECT MAX(version) FROM embeddings WHERE entity_id = $1), 0) + 1,
			TRUE, $5)
		RETURNING id, version, created_at`
	err = tx.QueryRowContext(ctx, insert, e.EntityID, e.ModelID, pq.Array(e.Vector), e.SourceText, e.TokensUsed).
		Scan(&e.ID, &e.Version, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	e.IsCurrent = true

	return tx.Commit()
}

// GetCurrent returns the current embedding for an entity, or nil when the
// entity has none.
func (r *PostgresRepo) GetCurrent(ctx context.Context, entityID string) (*Embedding, error) {
	e := &Embedding{}
	query := `
		SELECT id, entity_id, model_id, vector, source_text, version, is_current, tokens_used, created_at
		FROM embeddings WHERE entity_id = $1 AND is_current`
	err := r.db.QueryRowContext(ctx, query, entityID).Scan(
		&e.ID, &e.EntityID, &e.ModelID, pq.Array(&e.Vector), &e.SourceText,
		&e.Version, &e.IsCurrent, &e.TokensUsed, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListCurrent returns the snapshot the relationship builder runs over,
// ordered by entity id so builder runs are deterministic.
func (r *PostgresRepo) ListCurrent(ctx context.Context) ([]Embedding, error) {
	query := `
		SELECT id, entity_id, model_id, vector, source_text, version, is_current, tokens_used, created_at
		FROM embeddings WHERE is_current ORDER BY entity_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		if err := rows.Scan(&e.ID, &e.EntityID, &e.ModelID, pq.Array(&e.Vector), &e.SourceText,
			&e.Version, &e.IsCurrent, &e.TokensUsed, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountCurrent(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM embeddings WHERE is_current`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// SpendSince derives cumulative provider spend from the rows themselves.
// The budget counter is never stored; recomputing it each cycle means it
// cannot drift from ground truth.
func (r *PostgresRepo) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	var spend float64
	query := `
		SELECT COALESCE(SUM(e.tokens_used * m.cost_per_1k_tokens / 1000.0), 0)
		FROM embeddings e
		JOIN embedding_models m ON m.id = e.model_id
		WHERE e.created_at >= $1`
	err := r.db.QueryRowContext(ctx, query, since).Scan(&spend)
	return spend, err
}
