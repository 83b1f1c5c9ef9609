package worker_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"stratum/backend/features/embedding"
	"stratum/backend/features/queue"
)

// Mocks

type MockEmbedder struct {
	mock.Mock
	mu    sync.Mutex
	Calls int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float64, int, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]float64), args.Int(1), args.Error(2)
}

type MockQueue struct {
	mock.Mock
	mu       sync.Mutex
	Released []string
}

func (m *MockQueue) LeaseBatch(ctx context.Context, n int) ([]queue.Item, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Item), args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQueue) Fail(ctx context.Context, id, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockQueue) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	m.Released = append(m.Released, id)
	m.mu.Unlock()
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQueue) Enqueue(ctx context.Context, entityID, payload string, priority queue.Priority) (*queue.Item, error) {
	args := m.Called(ctx, entityID, payload, priority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Item), args.Error(1)
}

type MockStore struct {
	mock.Mock
	mu     sync.Mutex
	Stored []*embedding.Embedding
}

func (m *MockStore) InsertCurrent(ctx context.Context, e *embedding.Embedding) error {
	m.mu.Lock()
	m.Stored = append(m.Stored, e)
	m.mu.Unlock()
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockStore) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(float64), args.Error(1)
}
