package relationship

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	Now(ctx context.Context) (time.Time, error)
	UpsertPair(ctx context.Context, p Pair, provenance string) error
	PruneStale(ctx context.Context, provenance string, before time.Time) (int, error)
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]Relationship, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Now reads the database clock. Upserted edges carry a DB-side updated_at,
// so prune cutoffs must come from the same clock, not the app's.
func (r *PostgresRepo) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := r.db.QueryRowContext(ctx, `SELECT NOW()`).Scan(&now)
	return now, err
}

// UpsertPair writes both directions of a similarity pair with equal
// confidence. (subject, predicate, object) is the natural key; re-running
// the builder overwrites confidence and provenance instead of duplicating.
func (r *PostgresRepo) UpsertPair(ctx context.Context, p Pair, provenance string) error {
	query := `
		INSERT INTO relationships (subject_id, predicate, object_id, confidence, provenance)
		VALUES ($1, $4, $2, $3, $5), ($2, $4, $1, $3, $5)
		ON CONFLICT (subject_id, predicate, object_id)
		DO UPDATE SET confidence = EXCLUDED.confidence, provenance = EXCLUDED.provenance, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, p.A, p.B, p.Similarity, PredicateSimilarTo, provenance)
	return err
}

// PruneStale removes builder-owned edges not touched since the start of the
// current run, so a rebuild converges to exactly the new pair set.
func (r *PostgresRepo) PruneStale(ctx context.Context, provenance string, before time.Time) (int, error) {
	query := `DELETE FROM relationships WHERE predicate = $1 AND provenance = $2 AND updated_at < $3`
	res, err := r.db.ExecContext(ctx, query, PredicateSimilarTo, provenance, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) ListBySubject(ctx context.Context, subjectID string, limit int) ([]Relationship, error) {
	query := `
		SELECT id, subject_id, predicate, object_id, confidence, provenance, created_at, updated_at
		FROM relationships
		WHERE subject_id = $1 AND predicate = $2
		ORDER BY confidence DESC, object_id
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, subjectID, PredicateSimilarTo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.SubjectID, &rel.Predicate, &rel.ObjectID,
			&rel.Confidence, &rel.Provenance, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&count)
	return count, err
}
