package relationship

import "time"

// PredicateSimilarTo is the only predicate this core writes. Edges are
// stored in reciprocal pairs so traversal works from either endpoint.
const PredicateSimilarTo = "similar_to"

// ProvenanceBuilder marks edges materialized by the batch builder, which
// lets the builder prune its own stale edges without touching edges owned
// by other producers.
const ProvenanceBuilder = "embedding_builder"

type Relationship struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"`
	Predicate  string    `json:"predicate"`
	ObjectID   string    `json:"object_id"`
	Confidence float64   `json:"confidence"`
	Provenance string    `json:"provenance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Pair is an undirected similarity pair retained by the builder. A < B by
// entity identifier; storage writes both directions.
type Pair struct {
	A          string
	B          string
	Similarity float64
}
