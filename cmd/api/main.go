package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/api/handlers"
	"github.com/docuquery/backend/internal/cache"
	"github.com/docuquery/backend/internal/classifier"
	"github.com/docuquery/backend/internal/embedding"
	"github.com/docuquery/backend/internal/ingestion"
	"github.com/docuquery/backend/internal/llm"
	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/internal/middleware/ratelimit"
	"github.com/docuquery/backend/internal/middleware/security"
	"github.com/docuquery/backend/internal/orchestrator"
	"github.com/docuquery/backend/internal/retrieval"
	"github.com/docuquery/backend/internal/storage/sqlite"
	"github.com/docuquery/backend/internal/tasks"
	"github.com/docuquery/backend/internal/tracking"
	"github.com/docuquery/backend/internal/vector/milvus"
	"github.com/docuquery/backend/pkg/circuitbreaker"
	"github.com/docuquery/backend/pkg/config"
	appLogger "github.com/docuquery/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	log := appLogger.GetLogger()

	appLogger.Info("Starting DocuQuery API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path, log)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Breaker.SuccessThreshold),
		Timeout:          time.Duration(cfg.Breaker.TimeoutSec) * time.Second,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	}, log)
	for _, dep := range []string{"embedding", "vector_store", "generation", "task_queue"} {
		breakers.Get(dep)
		metrics.BreakerState.WithLabelValues(dep).Set(float64(circuitbreaker.StateClosed))
	}

	cacheStore, err := cache.NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		appLogger.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
		cacheStore = cache.NewMemoryStore(cfg.Cache.MemoryMaxEntries)
	}

	embeddingCache := cache.NewEmbeddingCache(cacheStore,
		time.Duration(cfg.Cache.EmbeddingTTLSec)*time.Second, log)
	semanticCache := cache.NewSemanticCache(cacheStore,
		time.Duration(cfg.Cache.SemanticTTLSec)*time.Second,
		cfg.Cache.SemanticThreshold,
		cfg.Cache.SemanticMaxPerScope,
		log)

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
		cfg.Milvus.TimeoutSec,
		breakers,
		log,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	provider := embedding.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
	embedService := embedding.NewService(provider, embeddingCache, breakers, embedding.ServiceConfig{
		Concurrency: cfg.Ingestion.EmbedConcurrency,
		BatchSize:   cfg.Ingestion.EmbedBatchSize,
		TimeoutSec:  cfg.LLM.TimeoutSec,
	}, log)

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float64(cfg.LLM.Temperature),
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	}, breakers, log)

	tracker := tracking.NewTracker(sqliteClient, log)
	chunker := ingestion.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap, log)
	processor := ingestion.NewProcessor(tracker, chunker, embedService, milvusClient, log)

	queue := tasks.NewQueue(processor, breakers, cfg.Ingestion.QueueWorkers, cfg.Ingestion.QueueDepth, log)
	defer queue.Close()

	retriever := retrieval.NewManager(embedService, milvusClient, semanticCache, retrieval.Config{
		TopK:             cfg.Retrieval.TopK,
		ScoreThreshold:   cfg.Retrieval.ScoreThreshold,
		RerankMultiplier: cfg.Retrieval.RerankMultiplier,
		MaxQueryVariants: cfg.Retrieval.MaxQueryVariants,
		MaxConcurrent:    cfg.Retrieval.MaxConcurrentQueries,
		ExpansionTerms:   cfg.Retrieval.ExpansionTerms,
	}, log)

	orch := orchestrator.New(
		classifier.New(),
		retriever,
		llmClient,
		processor,
		queue,
		sqliteClient,
		breakers,
		cacheStore,
		orchestrator.Config{
			InlineSizeLimit: int64(cfg.Ingestion.InlineSizeLimitMB) << 20,
		},
		log,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Scope-Token",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:            log,
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	queryHandler := handlers.NewQueryHandler(orch)
	documentHandler := handlers.NewDocumentHandler(orch, tracker, milvusClient, cacheStore, queue)
	healthHandler := handlers.NewHealthHandler(orch)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Delete("/documents/:content_hash", documentHandler.DeleteDocument)
	api.Get("/tasks/:task_id", documentHandler.GetTaskStatus)

	api.Get("/health", healthHandler.HandleHealth)
	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
