package queue

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidPriority = errors.New("invalid priority")
	ErrEmptyPayload    = errors.New("payload must not be empty")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enqueue is the sole write entry point into the queue for producers.
// Returns the created item, or nil when deduplicated against a live item.
func (s *Service) Enqueue(ctx context.Context, entityID, payload string, priority Priority) (*Item, error) {
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	return s.repo.Enqueue(ctx, entityID, payload, priority)
}

// Requeue replays a failed item as a new pending item (operator action).
func (s *Service) Requeue(ctx context.Context, id string) (*Item, error) {
	return s.repo.Requeue(ctx, id)
}

// SweepStuck force-releases items that have been processing longer than
// the grace period.
func (s *Service) SweepStuck(ctx context.Context, graceMinutes int) (int, error) {
	return s.repo.SweepStuck(ctx, graceMinutes)
}

func (s *Service) Depth(ctx context.Context) ([]DepthStat, error) {
	return s.repo.Depth(ctx)
}
