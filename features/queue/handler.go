package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"stratum/backend/internal/middleware"
)

type Handler struct {
	service      *Service
	graceMinutes int
}

func NewHandler(service *Service, graceMinutes int) *Handler {
	return &Handler{service: service, graceMinutes: graceMinutes}
}

type enqueueRequest struct {
	EntityID string   `json:"entity_id"`
	Payload  string   `json:"payload"`
	Priority Priority `json:"priority"`
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityID == "" {
		h.writeError(ctx, w, "MISSING_ENTITY_ID", "entity_id is required", http.StatusBadRequest)
		return
	}

	item, err := h.service.Enqueue(ctx, req.EntityID, req.Payload, req.Priority)
	if err != nil {
		if errors.Is(err, ErrInvalidPriority) || errors.Is(err, ErrEmptyPayload) {
			h.writeError(ctx, w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "enqueue failed", "error", err, "entity_id", req.EntityID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to enqueue", http.StatusInternalServerError)
		return
	}

	if item == nil {
		// Already queued; idempotent success.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": nil, "deduplicated": true})
		return
	}

	slog.InfoContext(ctx, "item enqueued", "item_id", item.ID, "entity_id", item.EntityID, "priority", item.Priority)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": item})
}

func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	item, err := h.service.Requeue(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "requeue failed", "error", err, "item_id", id)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to requeue", http.StatusInternalServerError)
		return
	}
	if item == nil {
		h.writeError(ctx, w, "NOT_REQUEUEABLE", "item is not failed or entity already queued", http.StatusConflict)
		return
	}

	slog.InfoContext(ctx, "item requeued", "old_item_id", id, "new_item_id", item.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": item})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, err := h.service.SweepStuck(ctx, h.graceMinutes)
	if err != nil {
		slog.ErrorContext(ctx, "sweep failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to sweep stuck items", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "stuck items swept", "count", n)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]int{"released": n}})
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
