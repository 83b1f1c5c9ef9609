package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"stratum/backend/features/embedding"
	"stratum/backend/features/entity"
	"stratum/backend/features/relationship"
)

// Hybrid search weights. Fixed and documented so every score is
// explainable from its breakdown; see ScoreComponents.
const (
	WeightLexical = 0.30
	WeightVector  = 0.50
	WeightQuality = 0.20
)

// Classification-suggestion weights: similarity of the supporting
// neighbors, their quality-score confidence, normalized capped support
// count, and the fraction of supporters that are verified.
const (
	SuggestWeightSimilarity   = 0.50
	SuggestWeightConfidence   = 0.25
	SuggestWeightSupport      = 0.15
	SuggestWeightVerification = 0.10

	// Support counts are capped here before normalizing, so one hugely
	// popular classification cannot drown the other components.
	suggestSupportCap = 5
)

type ScoreComponents struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
	Quality float64 `json:"quality"`
}

type SearchResult struct {
	EntityID   string          `json:"entity_id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Score      float64         `json:"score"`
	Components ScoreComponents `json:"components"`
}

type SuggestionComponents struct {
	Similarity   float64 `json:"similarity"`
	Confidence   float64 `json:"confidence"`
	Support      float64 `json:"support"`
	Verification float64 `json:"verification"`
}

type Suggestion struct {
	Classification string               `json:"classification"`
	Score          float64              `json:"score"`
	SupportCount   int                  `json:"support_count"`
	Components     SuggestionComponents `json:"components"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, int, error)
}

type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, query string, limit int) ([]entity.LexicalMatch, error)
}

type EntityReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]entity.Entity, error)
	QualityScores(ctx context.Context, ids []string) (map[string]float64, error)
}

type EmbeddingStore interface {
	ListCurrent(ctx context.Context) ([]embedding.Embedding, error)
}

type EdgeReader interface {
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]relationship.Relationship, error)
}

// Service is the read-only query path. It never writes.
type Service struct {
	embedder Embedder
	lexical  LexicalSearcher
	entities EntityReader
	store    EmbeddingStore
	edges    EdgeReader
	logger   *QueryLogger
}

func NewService(e Embedder, lex LexicalSearcher, ents EntityReader, store EmbeddingStore, edges EdgeReader, l *QueryLogger) *Service {
	return &Service{embedder: e, lexical: lex, entities: ents, store: store, edges: edges, logger: l}
}

// Search ranks candidate entities by the weighted composite of lexical
// rank, vector similarity to the embedded query, and precomputed quality.
// If the query cannot be embedded the vector component is zero for every
// candidate and ranking proceeds on the remaining signals.
func (s *Service) Search(ctx context.Context, query string, topN int) ([]SearchResult, error) {
	start := time.Now()
	if topN <= 0 {
		topN = 10
	}
	candidateLimit := topN * 5
	if candidateLimit < 50 {
		candidateLimit = 50
	}

	matches, err := s.lexical.LexicalSearch(ctx, query, candidateLimit)
	if err != nil {
		return nil, err
	}

	// Normalize ts_rank against the best match so the lexical component
	// lands in [0, 1].
	lexByID := make(map[string]float64, len(matches))
	var maxRank float64
	for _, m := range matches {
		if m.Rank > maxRank {
			maxRank = m.Rank
		}
	}
	for _, m := range matches {
		if maxRank > 0 {
			lexByID[m.EntityID] = m.Rank / maxRank
		}
	}

	vecByID := make(map[string]float64)
	if s.embedder != nil {
		queryVec, _, err := s.embedder.Embed(ctx, query)
		if err != nil {
			slog.WarnContext(ctx, "query embedding failed, ranking without vector component", "error", err)
		} else if len(queryVec) > 0 {
			snapshot, err := s.store.ListCurrent(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range snapshot {
				sim := relationship.CosineSimilarity(queryVec, e.Vector)
				if sim > 0 {
					vecByID[e.EntityID] = sim
				}
			}
		}
	}

	ids := make([]string, 0, len(lexByID)+len(vecByID))
	seen := make(map[string]bool)
	for id := range lexByID {
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range vecByID {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	quality, err := s.entities.QualityScores(ctx, ids)
	if err != nil {
		return nil, err
	}
	ents, err := s.entities.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		comp := ScoreComponents{
			Lexical: lexByID[id],
			Vector:  vecByID[id],
			Quality: quality[id],
		}
		r := SearchResult{
			EntityID:   id,
			Score:      WeightLexical*comp.Lexical + WeightVector*comp.Vector + WeightQuality*comp.Quality,
			Components: comp,
		}
		if e, ok := ents[id]; ok {
			r.Name = e.Name
			r.Kind = e.Kind
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EntityID < results[j].EntityID
	})
	if len(results) > topN {
		results = results[:topN]
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:      query,
			NumResults: len(results),
			Duration:   time.Since(start),
		})
	}
	return results, nil
}

// Suggest ranks candidate classifications for an entity from its similar_to
// neighborhood.
func (s *Service) Suggest(ctx context.Context, entityID string, topN int) ([]Suggestion, error) {
	if topN <= 0 {
		topN = 5
	}

	edges, err := s.edges.ListBySubject(ctx, entityID, 50)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	neighborIDs := make([]string, 0, len(edges))
	simByID := make(map[string]float64, len(edges))
	for _, e := range edges {
		neighborIDs = append(neighborIDs, e.ObjectID)
		simByID[e.ObjectID] = e.Confidence
	}

	neighbors, err := s.entities.GetMany(ctx, neighborIDs)
	if err != nil {
		return nil, err
	}
	quality, err := s.entities.QualityScores(ctx, neighborIDs)
	if err != nil {
		return nil, err
	}

	type group struct {
		bestSim    float64
		qualitySum float64
		verified   int
		count      int
	}
	groups := make(map[string]*group)
	for id, n := range neighbors {
		if n.Classification == "" {
			continue
		}
		g := groups[n.Classification]
		if g == nil {
			g = &group{}
			groups[n.Classification] = g
		}
		if simByID[id] > g.bestSim {
			g.bestSim = simByID[id]
		}
		g.qualitySum += quality[id]
		if n.Verified {
			g.verified++
		}
		g.count++
	}

	suggestions := make([]Suggestion, 0, len(groups))
	for classification, g := range groups {
		support := float64(g.count)
		if support > suggestSupportCap {
			support = suggestSupportCap
		}
		comp := SuggestionComponents{
			Similarity:   g.bestSim,
			Confidence:   g.qualitySum / float64(g.count),
			Support:      support / suggestSupportCap,
			Verification: float64(g.verified) / float64(g.count),
		}
		suggestions = append(suggestions, Suggestion{
			Classification: classification,
			SupportCount:   g.count,
			Score: SuggestWeightSimilarity*comp.Similarity +
				SuggestWeightConfidence*comp.Confidence +
				SuggestWeightSupport*comp.Support +
				SuggestWeightVerification*comp.Verification,
			Components: comp,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].Classification < suggestions[j].Classification
	})
	if len(suggestions) > topN {
		suggestions = suggestions[:topN]
	}
	return suggestions, nil
}
