package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"stratum/backend/features/queue"
	"stratum/backend/internal/middleware"
)

// EntityChangedPayload is published by the import pipeline whenever an
// entity's descriptive attributes are created or materially changed.
type EntityChangedPayload struct {
	EntityID    string `json:"entity_id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// EntityConsumer bridges entity-change events into the durable queue. The
// queue's idempotent enqueue absorbs redelivery and duplicate events.
type EntityConsumer struct {
	queue Queue
}

func NewEntityConsumer(q Queue) *EntityConsumer {
	return &EntityConsumer{queue: q}
}

func (h *EntityConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload EntityChangedPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.EntityID == "" {
		slog.Error("poison pill: missing entity_id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	// Contextual string handed to the embedding provider.
	// Format:
	// Name: <Entity Name>
	// Kind: <layer|block|detail>
	// ---
	// <Descriptive Text>
	text := fmt.Sprintf("Name: %s\nKind: %s\n---\n%s", payload.Name, payload.Kind, payload.Description)

	priority := queue.Priority(payload.Priority)
	if !priority.Valid() {
		priority = queue.PriorityNormal
	}

	item, err := h.queue.Enqueue(ctx, payload.EntityID, text, priority)
	if err != nil {
		slog.ErrorContext(ctx, "enqueue from event failed", "error", err, "entity_id", payload.EntityID)
		return err // Retry
	}

	if item == nil {
		slog.InfoContext(ctx, "entity already queued", "entity_id", payload.EntityID)
		return nil
	}

	slog.InfoContext(ctx, "entity queued for embedding", "entity_id", payload.EntityID, "item_id", item.ID, "priority", item.Priority)
	return nil
}
