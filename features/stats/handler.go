package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"stratum/backend/features/queue"
	"stratum/backend/internal/middleware"
)

type QueueRepo interface {
	Depth(ctx context.Context) ([]queue.DepthStat, error)
}

type EmbeddingRepo interface {
	SpendSince(ctx context.Context, since time.Time) (float64, error)
	CountCurrent(ctx context.Context) (int, error)
}

type RelationshipRepo interface {
	Count(ctx context.Context) (int, error)
}

// Handler serves the operational surface used by health checks and
// dashboards. It is never used for control flow.
type Handler struct {
	queueRepo     QueueRepo
	embeddingRepo EmbeddingRepo
	relRepo       RelationshipRepo
	budgetCap     float64
}

func NewHandler(q QueueRepo, e EmbeddingRepo, r RelationshipRepo, budgetCap float64) *Handler {
	return &Handler{queueRepo: q, embeddingRepo: e, relRepo: r, budgetCap: budgetCap}
}

type StatsResponse struct {
	QueueDepth        []queue.DepthStat `json:"queue_depth"`
	SpendToday        float64           `json:"spend_today"`
	BudgetCap         float64           `json:"budget_cap"`
	CurrentEmbeddings int               `json:"current_embeddings"`
	Relationships     int               `json:"relationships"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	depth, err := h.queueRepo.Depth(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read queue depth", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read queue depth", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	spend, err := h.embeddingRepo.SpendSince(ctx, midnight)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute spend", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to compute spend", http.StatusInternalServerError)
		return
	}

	embCount, err := h.embeddingRepo.CountCurrent(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count embeddings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count embeddings", http.StatusInternalServerError)
		return
	}

	relCount, err := h.relRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count relationships", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count relationships", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		QueueDepth:        depth,
		SpendToday:        spend,
		BudgetCap:         h.budgetCap,
		CurrentEmbeddings: embCount,
		Relationships:     relCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
