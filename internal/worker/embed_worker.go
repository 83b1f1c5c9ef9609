package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"stratum/backend/features/embedding"
	"stratum/backend/features/queue"
)

type EmbedWorkerConfig struct {
	ModelID         string
	CostPer1KTokens float64
	DailyBudgetCap  float64
	BatchSize       int
	PollInterval    time.Duration
	EmbedTimeout    time.Duration
	Concurrency     int
}

// EmbedWorker drains the embedding queue under a daily cost budget. Several
// instances may run the same loop against the shared queue; LeaseBatch
// partitions the backlog between them.
type EmbedWorker struct {
	queue    Queue
	store    EmbeddingStore
	embedder Embedder
	cfg      EmbedWorkerConfig
	pool     *ants.Pool

	// now is swappable in tests; spend windows start at local midnight.
	now func() time.Time
}

func NewEmbedWorker(q Queue, store EmbeddingStore, e Embedder, cfg EmbedWorkerConfig) (*EmbedWorker, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &EmbedWorker{queue: q, store: store, embedder: e, cfg: cfg, pool: pool, now: time.Now}, nil
}

// Run polls until ctx is cancelled. A cycle in flight when cancellation
// arrives finishes its items before Run returns; nothing is abandoned in
// processing without a liveness signal.
func (w *EmbedWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	defer w.pool.Release()

	slog.Info("embed worker started",
		"batch_size", w.cfg.BatchSize, "poll_interval", w.cfg.PollInterval, "budget_cap", w.cfg.DailyBudgetCap)

	for {
		if _, err := w.RunCycle(ctx); err != nil {
			// Persistence errors abort the cycle; nothing partial was
			// committed, so simply retry on the next poll.
			slog.Error("worker cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("embed worker stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

type CycleStats struct {
	BudgetSkipped bool
	Spend         float64
	Leased        int
	Completed     int
	Failed        int
	Released      int
}

// RunCycle performs one poll: budget gate, lease, process. Item failures
// are isolated; only lease-level persistence errors surface as an error.
func (w *EmbedWorker) RunCycle(ctx context.Context) (*CycleStats, error) {
	spend, err := w.store.SpendSince(ctx, startOfDay(w.now()))
	if err != nil {
		return nil, fmt.Errorf("compute daily spend: %w", err)
	}

	stats := &CycleStats{Spend: spend}
	if spend >= w.cfg.DailyBudgetCap {
		// Throttling condition, not an error: skip leasing entirely.
		slog.InfoContext(ctx, "daily budget reached, skipping cycle",
			"spend", spend, "cap", w.cfg.DailyBudgetCap)
		stats.BudgetSkipped = true
		return stats, nil
	}

	items, err := w.queue.LeaseBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("lease batch: %w", err)
	}
	stats.Leased = len(items)
	if len(items) == 0 {
		return stats, nil
	}

	budget := newBudgetTracker(w.cfg.DailyBudgetCap, spend)

	// Item work runs on a detached context: a shutdown signal stops the
	// outer loop but never interrupts an item between provider call and
	// terminal status.
	itemCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, it := range items {
		it := it
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcome := w.processItem(itemCtx, it, budget)
			mu.Lock()
			switch outcome {
			case outcomeCompleted:
				stats.Completed++
			case outcomeFailed:
				stats.Failed++
			case outcomeReleased:
				stats.Released++
			}
			mu.Unlock()
		}
		if err := w.pool.Submit(task); err != nil {
			// Pool released during shutdown; run inline so the lease
			// still reaches a terminal status.
			task()
		}
	}
	wg.Wait()

	return stats, nil
}

type itemOutcome int

const (
	outcomeCompleted itemOutcome = iota
	outcomeFailed
	outcomeReleased
)

func (w *EmbedWorker) processItem(ctx context.Context, it queue.Item, budget *budgetTracker) itemOutcome {
	settle, ok := budget.Reserve(w.estimateCost(it.Payload))
	if !ok {
		// Budget exhausted mid-batch: hand the lease back untouched.
		if err := w.queue.Release(ctx, it.ID); err != nil {
			slog.ErrorContext(ctx, "failed to release lease", "error", err, "item_id", it.ID)
		}
		return outcomeReleased
	}

	embedCtx, cancel := context.WithTimeout(ctx, w.cfg.EmbedTimeout)
	defer cancel()

	vec, tokens, err := w.embedder.Embed(embedCtx, it.Payload)
	if err != nil {
		settle(0)
		// Transient provider errors (timeouts, rate limits) are recorded
		// for operator-driven replay; silent retry against a paid API
		// risks uncontrolled spend.
		slog.ErrorContext(ctx, "embedding failed", "error", err, "item_id", it.ID, "entity_id", it.EntityID)
		if ferr := w.queue.Fail(ctx, it.ID, err.Error()); ferr != nil {
			slog.ErrorContext(ctx, "failed to mark item failed", "error", ferr, "item_id", it.ID)
		}
		return outcomeFailed
	}
	settle(float64(tokens) * w.cfg.CostPer1KTokens / 1000.0)

	if len(vec) == 0 {
		slog.ErrorContext(ctx, "provider returned empty embedding", "item_id", it.ID, "entity_id", it.EntityID)
		if ferr := w.queue.Fail(ctx, it.ID, "provider returned empty embedding"); ferr != nil {
			slog.ErrorContext(ctx, "failed to mark item failed", "error", ferr, "item_id", it.ID)
		}
		return outcomeFailed
	}

	emb := &embedding.Embedding{
		EntityID:   it.EntityID,
		ModelID:    w.cfg.ModelID,
		Vector:     vec,
		SourceText: it.Payload,
		TokensUsed: tokens,
	}
	if err := w.store.InsertCurrent(ctx, emb); err != nil {
		slog.ErrorContext(ctx, "failed to store embedding", "error", err, "item_id", it.ID, "entity_id", it.EntityID)
		if ferr := w.queue.Fail(ctx, it.ID, err.Error()); ferr != nil {
			slog.ErrorContext(ctx, "failed to mark item failed", "error", ferr, "item_id", it.ID)
		}
		return outcomeFailed
	}

	if err := w.queue.Complete(ctx, it.ID); err != nil {
		slog.ErrorContext(ctx, "failed to mark item completed", "error", err, "item_id", it.ID)
	}

	slog.InfoContext(ctx, "embedding stored",
		"item_id", it.ID, "entity_id", it.EntityID, "version", emb.Version, "tokens", tokens)
	return outcomeCompleted
}

// estimateCost prices an item before its provider call, using the same
// 4-chars-per-token approximation the provider adapter falls back to when
// CountTokens fails.
func (w *EmbedWorker) estimateCost(payload string) float64 {
	tokens := (len(payload) + 3) / 4
	return float64(tokens) * w.cfg.CostPer1KTokens / 1000.0
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// budgetTracker bounds in-cycle spend. Each call must reserve before it
// runs and settle after; the reservation is the larger of the caller's
// payload-based estimate and the most recent settled cost, so concurrent
// calls cannot all be admitted blind before the first one settles.
type budgetTracker struct {
	mu       sync.Mutex
	cap      float64
	spent    float64
	pending  float64
	lastCost float64
}

func newBudgetTracker(cap, alreadySpent float64) *budgetTracker {
	return &budgetTracker{cap: cap, spent: alreadySpent}
}

// Reserve returns a settle func and true when the call may proceed. Settle
// must be called exactly once with the actual cost (0 for a failed call).
func (b *budgetTracker) Reserve(estimate float64) (func(actual float64), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastCost > estimate {
		estimate = b.lastCost
	}
	if b.spent+b.pending+estimate > b.cap {
		return nil, false
	}
	b.pending += estimate

	var once sync.Once
	return func(actual float64) {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.pending -= estimate
			b.spent += actual
			if actual > 0 {
				b.lastCost = actual
			}
		})
	}, true
}
