package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"stratum/backend/features/embedding"
	"stratum/backend/features/relationship"
	"stratum/backend/internal/middleware"
	"stratum/backend/internal/retrieval"
)

type apiHandler struct {
	embeddings *embedding.PostgresRepo
	retrieval  *retrieval.Service
	builder    *relationship.Builder
}

// GetEmbedding serves the get_current_embedding consumer contract: the
// current vector for an entity, or null when it has none.
func (h *apiHandler) GetEmbedding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	emb, err := h.embeddings.GetCurrent(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load embedding", "error", err, "entity_id", id)
		writeError(ctx, w, "INTERNAL_ERROR", "failed to load embedding", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": emb})
}

func (h *apiHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(ctx, w, "MISSING_QUERY", "q parameter is required", http.StatusBadRequest)
		return
	}
	topN := 10
	if v := r.URL.Query().Get("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(ctx, w, "INVALID_TOP_N", "top_n must be an integer in [1, 100]", http.StatusBadRequest)
			return
		}
		topN = n
	}

	results, err := h.retrieval.Search(ctx, query, topN)
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err, "query", query)
		writeError(ctx, w, "INTERNAL_ERROR", "search failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": results})
}

func (h *apiHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	suggestions, err := h.retrieval.Suggest(ctx, id, 5)
	if err != nil {
		slog.ErrorContext(ctx, "suggest failed", "error", err, "entity_id", id)
		writeError(ctx, w, "INTERNAL_ERROR", "suggest failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": suggestions})
}

func (h *apiHandler) RebuildGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.builder.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "relationship build failed", "error", err)
		writeError(ctx, w, "INTERNAL_ERROR", "relationship build failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": stats})
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
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
