package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"stratum/backend/features/embedding"
)

type EmbeddingSource interface {
	ListCurrent(ctx context.Context) ([]embedding.Embedding, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Builder materializes similar_to edges from the current embedding
// snapshot. It is a batch process: safe to re-run at any time, and two runs
// over the same snapshot reach the same edge set.
type Builder struct {
	embeddings EmbeddingSource
	repo       Repository
	pub        EventPublisher
	topic      string
	threshold  float64
	topK       int
}

func NewBuilder(src EmbeddingSource, repo Repository, pub EventPublisher, topic string, threshold float64, topK int) *Builder {
	return &Builder{embeddings: src, repo: repo, pub: pub, topic: topic, threshold: threshold, topK: topK}
}

type RunStats struct {
	Entities    int           `json:"entities"`
	Pairs       int           `json:"pairs"`
	EdgesPruned int           `json:"edges_pruned"`
	Duration    time.Duration `json:"duration_ns"`
}

func (b *Builder) Run(ctx context.Context) (*RunStats, error) {
	start := time.Now()

	// Upserts below stamp updated_at with the database clock; taking the
	// cutoff from the same clock keeps this run's edges out of the prune
	// even when the two clocks disagree.
	cutoff, err := b.repo.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("read database clock: %w", err)
	}

	snapshot, err := b.embeddings.ListCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("list current embeddings: %w", err)
	}

	pairs := SelectPairs(snapshot, b.threshold, b.topK)
	for _, p := range pairs {
		if err := b.repo.UpsertPair(ctx, p, ProvenanceBuilder); err != nil {
			return nil, fmt.Errorf("upsert pair (%s, %s): %w", p.A, p.B, err)
		}
	}

	pruned, err := b.repo.PruneStale(ctx, ProvenanceBuilder, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune stale edges: %w", err)
	}

	stats := &RunStats{
		Entities:    len(snapshot),
		Pairs:       len(pairs),
		EdgesPruned: pruned,
		Duration:    time.Since(start),
	}

	slog.InfoContext(ctx, "relationship build completed",
		"entities", stats.Entities, "pairs", stats.Pairs, "pruned", stats.EdgesPruned, "duration", stats.Duration)

	if b.pub != nil {
		body, _ := json.Marshal(stats)
		if err := b.pub.Publish(b.topic, body); err != nil {
			// Notification is best effort; the edges are already durable.
			slog.WarnContext(ctx, "failed to publish rebuild notification", "error", err)
		}
	}

	return stats, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is empty, zero-length, or the dimensions differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type candidate struct {
	partner string
	sim     float64
}

// SelectPairs computes pairwise cosine similarity over the snapshot,
// keeps pairs at or above threshold, and retains a pair when it ranks in
// the top-K partners of either endpoint. Storage stays symmetric even when
// relevance is one-sided. Ranking is by similarity descending with ties
// broken by partner id ascending, so the result is deterministic for a
// given snapshot.
func SelectPairs(snapshot []embedding.Embedding, threshold float64, topK int) []Pair {
	byEntity := make(map[string][]candidate)
	sims := make(map[[2]string]float64)

	ordered := make([]embedding.Embedding, len(snapshot))
	copy(ordered, snapshot)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EntityID < ordered[j].EntityID })

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, bb := ordered[i], ordered[j]
			if a.EntityID == bb.EntityID {
				continue
			}
			sim := CosineSimilarity(a.Vector, bb.Vector)
			if sim < threshold {
				continue
			}
			sims[[2]string{a.EntityID, bb.EntityID}] = sim
			byEntity[a.EntityID] = append(byEntity[a.EntityID], candidate{partner: bb.EntityID, sim: sim})
			byEntity[bb.EntityID] = append(byEntity[bb.EntityID], candidate{partner: a.EntityID, sim: sim})
		}
	}

	retained := make(map[[2]string]bool)
	for id, cands := range byEntity {
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].sim != cands[j].sim {
				return cands[i].sim > cands[j].sim
			}
			return cands[i].partner < cands[j].partner
		})
		k := topK
		if k > len(cands) {
			k = len(cands)
		}
		for _, c := range cands[:k] {
			key := pairKey(id, c.partner)
			retained[key] = true
		}
	}

	pairs := make([]Pair, 0, len(retained))
	for key := range retained {
		pairs = append(pairs, Pair{A: key[0], B: key[1], Similarity: sims[key]})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
