package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stratum/backend/features/embedding"
	"stratum/backend/features/entity"
	"stratum/backend/features/relationship"
	"stratum/backend/internal/retrieval"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float64, int, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]float64), args.Int(1), args.Error(2)
}

type MockLexical struct {
	mock.Mock
}

func (m *MockLexical) LexicalSearch(ctx context.Context, query string, limit int) ([]entity.LexicalMatch, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.LexicalMatch), args.Error(1)
}

type MockEntities struct {
	mock.Mock
}

func (m *MockEntities) GetMany(ctx context.Context, ids []string) (map[string]entity.Entity, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]entity.Entity), args.Error(1)
}

func (m *MockEntities) QualityScores(ctx context.Context, ids []string) (map[string]float64, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListCurrent(ctx context.Context) ([]embedding.Embedding, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]embedding.Embedding), args.Error(1)
}

type MockEdges struct {
	mock.Mock
}

func (m *MockEdges) ListBySubject(ctx context.Context, subjectID string, limit int) ([]relationship.Relationship, error) {
	args := m.Called(ctx, subjectID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]relationship.Relationship), args.Error(1)
}

func TestSearch_CompositeScore(t *testing.T) {
	embedder := new(MockEmbedder)
	lexical := new(MockLexical)
	entities := new(MockEntities)
	store := new(MockStore)

	lexical.On("LexicalSearch", mock.Anything, "concrete wall", 50).
		Return([]entity.LexicalMatch{
			{EntityID: "a", Name: "Concrete Wall", Kind: "layer", Rank: 0.8},
			{EntityID: "b", Name: "Wall Detail", Kind: "detail", Rank: 0.4},
		}, nil)

	// Query vector aligned exactly with a's embedding, orthogonal to b's.
	embedder.On("Embed", mock.Anything, "concrete wall").
		Return([]float64{1, 0}, 3, nil)
	store.On("ListCurrent", mock.Anything).
		Return([]embedding.Embedding{
			{EntityID: "a", Vector: []float64{1, 0}},
			{EntityID: "b", Vector: []float64{0, 1}},
		}, nil)

	entities.On("QualityScores", mock.Anything, mock.Anything).
		Return(map[string]float64{"a": 0.9, "b": 0.5}, nil)
	entities.On("GetMany", mock.Anything, mock.Anything).
		Return(map[string]entity.Entity{
			"a": {ID: "a", Name: "Concrete Wall", Kind: "layer"},
			"b": {ID: "b", Name: "Wall Detail", Kind: "detail"},
		}, nil)

	svc := retrieval.NewService(embedder, lexical, entities, store, new(MockEdges), nil)
	results, err := svc.Search(context.Background(), "concrete wall", 10)

	require.NoError(t, err)
	require.Len(t, results, 2)

	// a: lexical 0.8/0.8=1.0, vector 1.0, quality 0.9
	assert.Equal(t, "a", results[0].EntityID)
	assert.InDelta(t, 0.30*1.0+0.50*1.0+0.20*0.9, results[0].Score, 1e-9)
	assert.InDelta(t, 1.0, results[0].Components.Lexical, 1e-9)
	assert.InDelta(t, 1.0, results[0].Components.Vector, 1e-9)
	assert.InDelta(t, 0.9, results[0].Components.Quality, 1e-9)

	// b: lexical 0.4/0.8=0.5, vector 0, quality 0.5
	assert.Equal(t, "b", results[1].EntityID)
	assert.InDelta(t, 0.30*0.5+0.20*0.5, results[1].Score, 1e-9)
	assert.InDelta(t, 0.0, results[1].Components.Vector, 1e-9)
}

func TestSearch_EmbedFailureFallsBackToLexical(t *testing.T) {
	embedder := new(MockEmbedder)
	lexical := new(MockLexical)
	entities := new(MockEntities)
	store := new(MockStore)

	lexical.On("LexicalSearch", mock.Anything, "wall", 50).
		Return([]entity.LexicalMatch{
			{EntityID: "a", Name: "Wall", Kind: "layer", Rank: 0.6},
		}, nil)
	embedder.On("Embed", mock.Anything, "wall").
		Return(nil, 0, assert.AnError)
	entities.On("QualityScores", mock.Anything, []string{"a"}).
		Return(map[string]float64{"a": 0.7}, nil)
	entities.On("GetMany", mock.Anything, []string{"a"}).
		Return(map[string]entity.Entity{"a": {ID: "a", Name: "Wall", Kind: "layer"}}, nil)

	svc := retrieval.NewService(embedder, lexical, entities, store, new(MockEdges), nil)
	results, err := svc.Search(context.Background(), "wall", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.30*1.0+0.20*0.7, results[0].Score, 1e-9)
	store.AssertNotCalled(t, "ListCurrent")
}

func TestSearch_NilEmbedderSkipsVector(t *testing.T) {
	lexical := new(MockLexical)
	entities := new(MockEntities)

	lexical.On("LexicalSearch", mock.Anything, "wall", 50).
		Return([]entity.LexicalMatch{{EntityID: "a", Rank: 0.6}}, nil)
	entities.On("QualityScores", mock.Anything, []string{"a"}).
		Return(map[string]float64{}, nil)
	entities.On("GetMany", mock.Anything, []string{"a"}).
		Return(map[string]entity.Entity{}, nil)

	svc := retrieval.NewService(nil, lexical, entities, new(MockStore), new(MockEdges), nil)
	results, err := svc.Search(context.Background(), "wall", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, results[0].Components.Vector, 1e-9)
}

func TestSearch_VectorOnlyCandidates(t *testing.T) {
	embedder := new(MockEmbedder)
	lexical := new(MockLexical)
	entities := new(MockEntities)
	store := new(MockStore)

	// No lexical matches at all; results come purely from the vector side.
	lexical.On("LexicalSearch", mock.Anything, "sketch", 50).
		Return([]entity.LexicalMatch{}, nil)
	embedder.On("Embed", mock.Anything, "sketch").
		Return([]float64{1, 0}, 2, nil)
	store.On("ListCurrent", mock.Anything).
		Return([]embedding.Embedding{{EntityID: "c", Vector: []float64{1, 0}}}, nil)
	entities.On("QualityScores", mock.Anything, []string{"c"}).
		Return(map[string]float64{"c": 0.4}, nil)
	entities.On("GetMany", mock.Anything, []string{"c"}).
		Return(map[string]entity.Entity{"c": {ID: "c", Name: "Sketch Detail", Kind: "detail"}}, nil)

	svc := retrieval.NewService(embedder, lexical, entities, store, new(MockEdges), nil)
	results, err := svc.Search(context.Background(), "sketch", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].EntityID)
	assert.InDelta(t, 0.50*1.0+0.20*0.4, results[0].Score, 1e-9)
}

func TestSearch_TopNTruncatesDeterministically(t *testing.T) {
	lexical := new(MockLexical)
	entities := new(MockEntities)

	lexical.On("LexicalSearch", mock.Anything, "wall", 50).
		Return([]entity.LexicalMatch{
			{EntityID: "b", Rank: 0.5},
			{EntityID: "a", Rank: 0.5},
			{EntityID: "c", Rank: 0.5},
		}, nil)
	entities.On("QualityScores", mock.Anything, mock.Anything).
		Return(map[string]float64{}, nil)
	entities.On("GetMany", mock.Anything, mock.Anything).
		Return(map[string]entity.Entity{}, nil)

	svc := retrieval.NewService(nil, lexical, entities, new(MockStore), new(MockEdges), nil)
	results, err := svc.Search(context.Background(), "wall", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	// Equal scores break ties by entity id.
	assert.Equal(t, "a", results[0].EntityID)
	assert.Equal(t, "b", results[1].EntityID)
}

func TestSuggest_GroupsByClassification(t *testing.T) {
	entities := new(MockEntities)
	edges := new(MockEdges)

	edges.On("ListBySubject", mock.Anything, "subject", 50).
		Return([]relationship.Relationship{
			{SubjectID: "subject", ObjectID: "n1", Confidence: 0.9},
			{SubjectID: "subject", ObjectID: "n2", Confidence: 0.8},
			{SubjectID: "subject", ObjectID: "n3", Confidence: 0.7},
		}, nil)
	entities.On("GetMany", mock.Anything, []string{"n1", "n2", "n3"}).
		Return(map[string]entity.Entity{
			"n1": {ID: "n1", Classification: "structural", Verified: true},
			"n2": {ID: "n2", Classification: "structural", Verified: false},
			"n3": {ID: "n3", Classification: "electrical", Verified: true},
		}, nil)
	entities.On("QualityScores", mock.Anything, []string{"n1", "n2", "n3"}).
		Return(map[string]float64{"n1": 0.8, "n2": 0.6, "n3": 0.4}, nil)

	svc := retrieval.NewService(nil, new(MockLexical), entities, new(MockStore), edges, nil)
	suggestions, err := svc.Suggest(context.Background(), "subject", 5)

	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	top := suggestions[0]
	assert.Equal(t, "structural", top.Classification)
	assert.Equal(t, 2, top.SupportCount)
	assert.InDelta(t, 0.9, top.Components.Similarity, 1e-9)
	assert.InDelta(t, 0.7, top.Components.Confidence, 1e-9)
	assert.InDelta(t, 2.0/5.0, top.Components.Support, 1e-9)
	assert.InDelta(t, 0.5, top.Components.Verification, 1e-9)
	expected := 0.50*0.9 + 0.25*0.7 + 0.15*(2.0/5.0) + 0.10*0.5
	assert.InDelta(t, expected, top.Score, 1e-9)

	assert.Equal(t, "electrical", suggestions[1].Classification)
	assert.Equal(t, 1, suggestions[1].SupportCount)
}

func TestSuggest_SkipsUnclassifiedNeighbors(t *testing.T) {
	entities := new(MockEntities)
	edges := new(MockEdges)

	edges.On("ListBySubject", mock.Anything, "subject", 50).
		Return([]relationship.Relationship{
			{SubjectID: "subject", ObjectID: "n1", Confidence: 0.9},
		}, nil)
	entities.On("GetMany", mock.Anything, []string{"n1"}).
		Return(map[string]entity.Entity{"n1": {ID: "n1", Classification: ""}}, nil)
	entities.On("QualityScores", mock.Anything, []string{"n1"}).
		Return(map[string]float64{}, nil)

	svc := retrieval.NewService(nil, new(MockLexical), entities, new(MockStore), edges, nil)
	suggestions, err := svc.Suggest(context.Background(), "subject", 5)

	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestSuggest_NoEdgesIsEmpty(t *testing.T) {
	edges := new(MockEdges)
	edges.On("ListBySubject", mock.Anything, "lonely", 50).
		Return([]relationship.Relationship{}, nil)

	svc := retrieval.NewService(nil, new(MockLexical), new(MockEntities), new(MockStore), edges, nil)
	suggestions, err := svc.Suggest(context.Background(), "lonely", 5)

	require.NoError(t, err)
	assert.Nil(t, suggestions)
}
