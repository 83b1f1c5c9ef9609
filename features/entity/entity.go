package entity

import "time"

// Entity is a CAD/survey object (layer, block or detail) owned by the
// import pipeline. This core only reads entities; it never writes them.
type Entity struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Classification string    `json:"classification"`
	Verified       bool      `json:"verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LexicalMatch is one full-text match with its ts_rank score.
type LexicalMatch struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Rank     float64 `json:"rank"`
}
