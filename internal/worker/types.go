package worker

import (
	"context"
	"time"

	"stratum/backend/features/embedding"
	"stratum/backend/features/queue"
)

// Embedder is the external compute step. Embed returns the vector and the
// number of tokens the call consumed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, int, error)
}

// Queue is the slice of the queue contract the worker drives. Everything
// after a successful lease belongs exclusively to this worker until the
// item reaches a terminal status.
type Queue interface {
	LeaseBatch(ctx context.Context, n int) ([]queue.Item, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
	Release(ctx context.Context, id string) error
	Enqueue(ctx context.Context, entityID, payload string, priority queue.Priority) (*queue.Item, error)
}

// EmbeddingStore is the slice of the embedding contract the worker writes.
type EmbeddingStore interface {
	InsertCurrent(ctx context.Context, e *embedding.Embedding) error
	SpendSince(ctx context.Context, since time.Time) (float64, error)
}
