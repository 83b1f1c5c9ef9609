package relationship_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stratum/backend/features/embedding"
	"stratum/backend/features/relationship"
)

type MockEmbeddingSource struct{ mock.Mock }

func (m *MockEmbeddingSource) ListCurrent(ctx context.Context) ([]embedding.Embedding, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]embedding.Embedding), args.Error(1)
}

type MockRelRepo struct {
	mock.Mock
	Pairs []relationship.Pair
}

func (m *MockRelRepo) Now(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockRelRepo) UpsertPair(ctx context.Context, p relationship.Pair, provenance string) error {
	m.Pairs = append(m.Pairs, p)
	args := m.Called(ctx, p, provenance)
	return args.Error(0)
}

func (m *MockRelRepo) PruneStale(ctx context.Context, provenance string, before time.Time) (int, error) {
	args := m.Called(ctx, provenance, before)
	return args.Int(0), args.Error(1)
}

func (m *MockRelRepo) ListBySubject(ctx context.Context, subjectID string, limit int) ([]relationship.Relationship, error) {
	return nil, nil
}

func (m *MockRelRepo) Count(ctx context.Context) (int, error) { return 0, nil }

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, relationship.CosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, relationship.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, relationship.CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Degenerate inputs
	assert.Zero(t, relationship.CosineSimilarity(nil, nil))
	assert.Zero(t, relationship.CosineSimilarity([]float64{1, 2}, []float64{1}))
	assert.Zero(t, relationship.CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func emb(entityID string, vec ...float64) embedding.Embedding {
	return embedding.Embedding{EntityID: entityID, Vector: vec, IsCurrent: true}
}

// vecAt builds a 2d unit vector at the given angle so tests can dial in
// exact cosine similarities.
func vecAt(rad float64) []float64 {
	return []float64{math.Cos(rad), math.Sin(rad)}
}

func TestSelectPairs_Threshold(t *testing.T) {
	snapshot := []embedding.Embedding{
		emb("a", vecAt(0)...),
		emb("b", vecAt(0.1)...),          // cos ~0.995
		emb("c", vecAt(math.Pi / 2)...),  // cos 0 with a
	}

	pairs := relationship.SelectPairs(snapshot, 0.75, 5)
	require.Len(t, pairs, 1)
	assert.Equal(t, "a", pairs[0].A)
	assert.Equal(t, "b", pairs[0].B)
	assert.InDelta(t, math.Cos(0.1), pairs[0].Similarity, 1e-9)
}

func TestSelectPairs_TopKEitherEndpoint(t *testing.T) {
	// hub is similar to everything; spokes are only similar to each other
	// through the hub-adjacent angles. With topK=1 the hub keeps its single
	// best pair, but each spoke still keeps its own best pair with the hub.
	snapshot := []embedding.Embedding{
		emb("hub", vecAt(0)...),
		emb("s1", vecAt(0.05)...),
		emb("s2", vecAt(-0.05)...),
		emb("s3", vecAt(0.10)...),
	}

	pairs := relationship.SelectPairs(snapshot, 0.9, 1)

	// Pair (hub, s1) and (hub, s2) tie at cos(0.05); tie-break by id keeps
	// s1 for the hub. s2 and s3 each retain their own best partner, so the
	// pair set is the union of every endpoint's top-1.
	keys := make(map[[2]string]bool)
	for _, p := range pairs {
		keys[[2]string{p.A, p.B}] = true
	}
	assert.True(t, keys[[2]string{"hub", "s1"}])
	assert.True(t, keys[[2]string{"hub", "s2"}])  // s2's top-1
	assert.True(t, keys[[2]string{"s1", "s3"}])   // s3's top-1: cos(0.05)
}

func TestSelectPairs_Deterministic(t *testing.T) {
	snapshot := []embedding.Embedding{
		emb("d", vecAt(0.02)...),
		emb("a", vecAt(0)...),
		emb("c", vecAt(0.04)...),
		emb("b", vecAt(0.03)...),
	}

	first := relationship.SelectPairs(snapshot, 0.75, 2)
	for i := 0; i < 10; i++ {
		again := relationship.SelectPairs(snapshot, 0.75, 2)
		assert.Equal(t, first, again)
	}

	// Output ordering is by (A, B) ascending.
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		assert.True(t, prev.A < cur.A || (prev.A == cur.A && prev.B < cur.B))
	}
	// Pairs are normalized A < B.
	for _, p := range first {
		assert.Less(t, p.A, p.B)
	}
}

func TestBuilder_Run_UpsertsAndPrunes(t *testing.T) {
	src := new(MockEmbeddingSource)
	repo := new(MockRelRepo)
	pub := new(MockPublisher)

	// a and b at cosine ~0.82 (angle acos(0.82)), both in each other's top-5.
	angle := math.Acos(0.82)
	src.On("ListCurrent", mock.Anything).Return([]embedding.Embedding{
		emb("a", vecAt(0)...),
		emb("b", vecAt(angle)...),
	}, nil)
	repo.On("Now", mock.Anything).Return(time.Now(), nil)
	repo.On("UpsertPair", mock.Anything, mock.Anything, relationship.ProvenanceBuilder).Return(nil)
	repo.On("PruneStale", mock.Anything, relationship.ProvenanceBuilder, mock.Anything).Return(0, nil)
	pub.On("Publish", "graph.rebuilt", mock.Anything).Return(nil)

	b := relationship.NewBuilder(src, repo, pub, "graph.rebuilt", 0.75, 5)
	stats, err := b.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 1, stats.Pairs)
	require.Len(t, repo.Pairs, 1)
	assert.Equal(t, "a", repo.Pairs[0].A)
	assert.Equal(t, "b", repo.Pairs[0].B)
	assert.InDelta(t, 0.82, repo.Pairs[0].Similarity, 1e-9)

	src.AssertExpectations(t)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestBuilder_Run_IdempotentPairSet(t *testing.T) {
	src := new(MockEmbeddingSource)
	snapshot := []embedding.Embedding{
		emb("a", vecAt(0)...),
		emb("b", vecAt(0.1)...),
		emb("c", vecAt(0.2)...),
	}
	src.On("ListCurrent", mock.Anything).Return(snapshot, nil)

	runPairs := func() []relationship.Pair {
		repo := new(MockRelRepo)
		repo.On("Now", mock.Anything).Return(time.Now(), nil)
		repo.On("UpsertPair", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		repo.On("PruneStale", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
		b := relationship.NewBuilder(src, repo, nil, "graph.rebuilt", 0.75, 5)
		_, err := b.Run(context.Background())
		require.NoError(t, err)
		return repo.Pairs
	}

	first := runPairs()
	second := runPairs()
	assert.Equal(t, first, second)
}

func TestBuilder_Run_PublishFailureIsNonFatal(t *testing.T) {
	src := new(MockEmbeddingSource)
	repo := new(MockRelRepo)
	pub := new(MockPublisher)

	src.On("ListCurrent", mock.Anything).Return([]embedding.Embedding{}, nil)
	repo.On("Now", mock.Anything).Return(time.Now(), nil)
	repo.On("PruneStale", mock.Anything, mock.Anything, mock.Anything).Return(3, nil)
	pub.On("Publish", mock.Anything, mock.Anything).Return(assert.AnError)

	b := relationship.NewBuilder(src, repo, pub, "graph.rebuilt", 0.75, 5)
	stats, err := b.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.EdgesPruned)
}

func TestBuilder_Run_PruneCutoffFromDatabaseClock(t *testing.T) {
	src := new(MockEmbeddingSource)
	repo := new(MockRelRepo)

	// Database clock lagging the app clock by 5 minutes: the cutoff must be
	// the DB's notion of now, or this run's own edges would be pruned.
	dbNow := time.Now().Add(-5 * time.Minute)
	src.On("ListCurrent", mock.Anything).Return([]embedding.Embedding{
		emb("a", vecAt(0)...),
		emb("b", vecAt(0.1)...),
	}, nil)
	repo.On("Now", mock.Anything).Return(dbNow, nil)
	repo.On("UpsertPair", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("PruneStale", mock.Anything, relationship.ProvenanceBuilder, dbNow).Return(0, nil)

	b := relationship.NewBuilder(src, repo, nil, "graph.rebuilt", 0.75, 5)
	_, err := b.Run(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestBuilder_Run_ClockReadFailureAborts(t *testing.T) {
	src := new(MockEmbeddingSource)
	repo := new(MockRelRepo)

	repo.On("Now", mock.Anything).Return(time.Time{}, assert.AnError)

	b := relationship.NewBuilder(src, repo, nil, "graph.rebuilt", 0.75, 5)
	_, err := b.Run(context.Background())

	require.Error(t, err)
	src.AssertNotCalled(t, "ListCurrent", mock.Anything)
	repo.AssertNotCalled(t, "PruneStale", mock.Anything, mock.Anything, mock.Anything)
}
