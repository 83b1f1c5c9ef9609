package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"

	"stratum/backend/internal/adapter/gemini"
	"stratum/backend/internal/app"
	"stratum/backend/internal/config"
	"stratum/backend/internal/logger"
	"stratum/backend/internal/retrieval"
	"stratum/backend/internal/worker"
)

func main() {
	// Structured logger with correlation-ID enrichment
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	slog.Info("migrations applied successfully")

	var embedder retrieval.Embedder
	var geminiEmbedder *gemini.Embedder
	if cfg.GeminiAPIKey != "" {
		geminiEmbedder, err = gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
		if err != nil {
			slog.Error("failed to create embedder", "error", err)
			os.Exit(1)
		}
		defer geminiEmbedder.Close()
		embedder = geminiEmbedder
	} else {
		slog.Warn("GEMINI_API_KEY not set; search runs without the vector component")
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Error("failed to create query logger", "error", err)
		os.Exit(1)
	}

	application := app.New(cfg, deps.DB, embedder, deps.NSQProducer, queryLogger)

	model, err := application.EmbeddingRepo.EnsureModel(ctx,
		gemini.Provider, gemini.ModelName, gemini.Dimensions, gemini.CostPer1KTokens)
	if err != nil {
		slog.Error("failed to register embedding model", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	var consumer *nsq.Consumer

	if cfg.EnableEmbedWorker {
		if geminiEmbedder == nil {
			slog.Error("ENABLE_EMBED_WORKER requires GEMINI_API_KEY")
			os.Exit(1)
		}

		embedWorker, err := worker.NewEmbedWorker(application.QueueRepo, application.EmbeddingRepo, geminiEmbedder,
			worker.EmbedWorkerConfig{
				ModelID:         model.ID,
				CostPer1KTokens: model.CostPer1KTokens,
				DailyBudgetCap:  cfg.DailyBudgetCap,
				BatchSize:       cfg.BatchSize,
				PollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
				EmbedTimeout:    time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
				Concurrency:     cfg.EmbedConcurrency,
			})
		if err != nil {
			slog.Error("failed to create embed worker", "error", err)
			os.Exit(1)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			embedWorker.Run(ctx)
		}()

		nsqCfg := nsq.NewConfig()
		consumer, err = nsq.NewConsumer(config.TopicEntityChanged, "stratum-backend", nsqCfg)
		if err != nil {
			slog.Error("failed to create NSQ consumer", "error", err)
			os.Exit(1)
		}
		consumer.AddHandler(worker.NewEntityConsumer(application.QueueRepo))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to nsqlookupd", "error", err)
			os.Exit(1)
		}
	}

	if cfg.EnableAPI {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
			Handler:           application.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("server listening", "port", cfg.ServerPort)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "error", err)
				stop()
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	wg.Wait()
	slog.Info("shutdown complete")
}
