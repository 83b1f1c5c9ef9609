package embedding

import "time"

// Model identifies a provider + model + dimensionality + pricing. Rows are
// immutable once created; several models may coexist so embeddings are
// versioned by the model that produced them.
type Model struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	Dimensions      int       `json:"dimensions"`
	CostPer1KTokens float64   `json:"cost_per_1k_tokens"`
	CreatedAt       time.Time `json:"created_at"`
}

// Embedding is one versioned vector for one entity. At most one row per
// entity carries IsCurrent; writing a new current row demotes the previous
// one in the same transaction.
type Embedding struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	ModelID    string    `json:"model_id"`
	Vector     []float64 `json:"vector"`
	SourceText string    `json:"source_text"`
	Version    int       `json:"version"`
	IsCurrent  bool      `json:"is_current"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}
