package app

import (
	"database/sql"
	"net/http"

	"stratum/backend/features/embedding"
	"stratum/backend/features/entity"
	"stratum/backend/features/queue"
	"stratum/backend/features/relationship"
	"stratum/backend/features/stats"
	"stratum/backend/internal/config"
	"stratum/backend/internal/middleware"
	"stratum/backend/internal/retrieval"
)

type App struct {
	Handler http.Handler

	QueueRepo     *queue.PostgresRepo
	EmbeddingRepo *embedding.PostgresRepo
	Builder       *relationship.Builder
	Retrieval     *retrieval.Service
}

func New(
	cfg *config.Config,
	db *sql.DB,
	embedder retrieval.Embedder,
	pub relationship.EventPublisher,
	queryLogger *retrieval.QueryLogger,
) *App {
	entityRepo := entity.NewPostgresRepo(db)
	embeddingRepo := embedding.NewPostgresRepo(db)
	queueRepo := queue.NewPostgresRepo(db, cfg.QueueAgingMinutes)
	relRepo := relationship.NewPostgresRepo(db)

	queueService := queue.NewService(queueRepo)
	queueHandler := queue.NewHandler(queueService, cfg.ProcessingGraceMinutes)

	builder := relationship.NewBuilder(embeddingRepo, relRepo, pub, config.TopicGraphRebuilt,
		cfg.SimilarityThreshold, cfg.TopKPerEntity)

	retrievalService := retrieval.NewService(embedder, entityRepo, entityRepo, embeddingRepo, relRepo, queryLogger)

	statsHandler := stats.NewHandler(queueRepo, embeddingRepo, relRepo, cfg.DailyBudgetCap)

	api := &apiHandler{
		embeddings: embeddingRepo,
		retrieval:  retrievalService,
		builder:    builder,
	}

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /queue/enqueue", middleware.CorrelationID(enableCORS(queueHandler.Enqueue)))
	mux.Handle("POST /queue/{id}/requeue", middleware.CorrelationID(enableCORS(queueHandler.Requeue)))
	mux.Handle("POST /queue/sweep", middleware.CorrelationID(enableCORS(queueHandler.Sweep)))

	mux.Handle("GET /entities/{id}/embedding", middleware.CorrelationID(enableCORS(api.GetEmbedding)))
	mux.Handle("GET /entities/{id}/suggestions", middleware.CorrelationID(enableCORS(api.Suggest)))
	mux.Handle("GET /search", middleware.CorrelationID(enableCORS(api.Search)))
	mux.Handle("POST /graph/rebuild", middleware.CorrelationID(enableCORS(api.RebuildGraph)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	return &App{
		Handler:       mux,
		QueueRepo:     queueRepo,
		EmbeddingRepo: embeddingRepo,
		Builder:       builder,
		Retrieval:     retrievalService,
	}
}
