package entity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Entity, error) {
	e := &Entity{}
	query := `
		SELECT id, kind, name, description, classification, verified, created_at, updated_at
		FROM entities WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Kind, &e.Name, &e.Description, &e.Classification, &e.Verified, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepo) GetMany(ctx context.Context, ids []string) (map[string]Entity, error) {
	query := `
		SELECT id, kind, name, description, classification, verified, created_at, updated_at
		FROM entities WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Entity, len(ids))
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &e.Description, &e.Classification, &e.Verified, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}

// QualityScore returns the externally computed quality score for an entity,
// or 0 when none has been computed yet. Staleness is acceptable; scores are
// refreshed by their owner, not by this core.
func (r *PostgresRepo) QualityScore(ctx context.Context, entityID string) (float64, error) {
	var score float64
	query := `SELECT score FROM quality_scores WHERE entity_id = $1`
	err := r.db.QueryRowContext(ctx, query, entityID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return score, err
}

// QualityScores returns scores for a set of entities; missing entities are
// simply absent from the map.
func (r *PostgresRepo) QualityScores(ctx context.Context, ids []string) (map[string]float64, error) {
	query := `SELECT entity_id, score FROM quality_scores WHERE entity_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64, len(ids))
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		out[id] = score
	}
	return out, rows.Err()
}

// LexicalSearch ranks entities by full-text match against name+description.
func (r *PostgresRepo) LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalMatch, error) {
	q := `
		SELECT id, name, kind, ts_rank(search_tsv, plainto_tsquery('english', $1)) AS rank
		FROM entities
		WHERE search_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC, id
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LexicalMatch
	for rows.Next() {
		var m LexicalMatch
		if err := rows.Scan(&m.EntityID, &m.Name, &m.Kind, &m.Rank); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
