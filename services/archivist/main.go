// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRecall/services/archivist/chatengine"
	"github.com/AleutianAI/AleutianRecall/services/archivist/config"
	"github.com/AleutianAI/AleutianRecall/services/archivist/conversation"
	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/middleware"
	"github.com/AleutianAI/AleutianRecall/services/archivist/observability"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins/callrec"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins/gmail"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins/paperless"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins/whatsapp"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
	"github.com/AleutianAI/AleutianRecall/services/archivist/routes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/scheduler"
	"github.com/AleutianAI/AleutianRecall/services/archivist/vectorstore"
	"github.com/AleutianAI/AleutianRecall/services/llm"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()
	if endpoint == "" {
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("archivist-service")))
	if err != nil {
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: configuration: %v", err)
	}

	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Vector store ---
	store, err := vectorstore.New(vectorstore.Config{
		Host:        cfg.QdrantHost,
		Port:        cfg.QdrantPort,
		APIKey:      cfg.QdrantAPIKey,
		Collection:  cfg.QdrantCollection,
		VectorSize:  cfg.VectorSize,
		ReadTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("FATAL: vector store: %v", err)
	}
	defer store.Close()
	if err := store.EnsureCollection(context.Background()); err != nil {
		log.Fatalf("FATAL: vector collection: %v", err)
	}

	// --- Redis (label caches, chunk buffer, rate limiting) ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Warn("Redis unreachable; caches degrade to rebuild-on-read", "addr", cfg.RedisAddr, "error", err)
	}

	// --- Embeddings (eager) and chat LLM (lazy) ---
	openaiClient, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		log.Fatalf("FATAL: embedding provider: %v", err)
	}

	var embedder llm.Embedder = openaiClient
	embedCache, err := retrieval.OpenEmbedCache(cfg.Path("embed_cache"))
	if err != nil {
		slog.Warn("Embedding cache unavailable", "error", err)
	} else {
		defer embedCache.Close()
		embedder = retrieval.NewCachedEmbedder(openaiClient, embedCache)
	}

	chatLLM := llm.NewLazyClient(func() (llm.LLMClient, error) {
		return openaiClient, nil
	})

	// --- Identity store ---
	identityStore, err := identity.Open(cfg.Path("identity.db"))
	if err != nil {
		log.Fatalf("FATAL: identity store: %v", err)
	}
	defer identityStore.Close()

	// --- Retrieval engine + ingestor ---
	labels := retrieval.NewLabelCache(rdb, store.FieldValues)
	engineCfg := retrieval.DefaultEngineConfig()
	engineCfg.Location = cfg.Location()
	engine := retrieval.NewEngine(store, embedder, labels, engineCfg)

	linker := func(ctx context.Context, doc *datatypes.Document, chunkIDs []string) {
		// Chunk points hang off their parent asset for graph traversal.
		for i, chunkID := range chunkIDs {
			if i == 0 {
				continue
			}
			identityStore.LinkAssets(chunkID, doc.Common.SourceID, identity.RelChunkOf, 1.0, string(doc.Common.Source))
		}
	}
	ingestor := retrieval.NewIngestor(store, embedder, labels, linker)

	buffer := retrieval.NewConversationBuffer(rdb, cfg.Location(),
		func(ctx context.Context, doc *datatypes.Document) error {
			_, err := ingestor.AddDocument(ctx, doc)
			return err
		})

	// --- Conversations + chat engine ---
	conversations, err := conversation.Open(cfg.Path("conversations.db"), cfg.SessionTTL())
	if err != nil {
		log.Fatalf("FATAL: conversation store: %v", err)
	}
	defer conversations.Close()
	conversations.StartSweeper(time.Hour)

	chatCfg := chatengine.DefaultConfig()
	chatCfg.Location = cfg.Location()
	chat := chatengine.NewEngine(chatLLM, engine, conversations, cfg.ChatModel, chatCfg)

	// --- Scheduler ---
	tasks, err := scheduler.Open(cfg.Path("scheduled_tasks.db"))
	if err != nil {
		log.Fatalf("FATAL: task store: %v", err)
	}
	defer tasks.Close()

	metrics := observability.NewMetrics()
	executor := scheduler.ExecutorFunc(func(ctx context.Context, task *scheduler.Task) (*scheduler.Outcome, error) {
		answer, sources, cost, noResults, err := chat.OneShot(ctx, task.Prompt, 10, task.Filters)
		if err != nil {
			metrics.ScheduledRunsTotal.WithLabelValues(scheduler.StatusError).Inc()
			return nil, err
		}
		status := scheduler.StatusSuccess
		if noResults {
			status = scheduler.StatusNoResults
		}
		metrics.ScheduledRunsTotal.WithLabelValues(status).Inc()
		metrics.LLMCostUSDTotal.Add(cost)
		return &scheduler.Outcome{
			Answer:    answer,
			Sources:   sources,
			CostUSD:   cost,
			NoResults: noResults,
		}, nil
	})
	dispatcher := scheduler.NewDispatcher(tasks, executor,
		time.Duration(cfg.SchedulerTickSeconds)*time.Second)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// --- Settings + plugin registry ---
	settings, err := plugins.OpenSettings(cfg.Path("settings.db"))
	if err != nil {
		log.Fatalf("FATAL: settings store: %v", err)
	}
	defer settings.Close()

	app := &plugins.App{
		Settings: settings,
		Ingestor: ingestor,
		Engine:   engine,
		Identity: identityStore,
		Buffer:   buffer,
		Redis:    rdb,
	}
	registry := plugins.NewRegistry(app,
		whatsapp.New,
		gmail.New(nil),     // OAuth client factory injected in deployments
		paperless.New(nil), // REST client factory injected in deployments
		callrec.New(nil, cfg.Path("call_recordings.db")),
	)
	registry.Discover()
	defer registry.Shutdown()

	// --- HTTP ---
	router := gin.Default()
	router.Use(otelgin.Middleware("archivist-service"))

	pluginGroup := routes.Setup(router, routes.Deps{
		Engine:        engine,
		Chat:          chat,
		Labels:        labels,
		Identity:      identityStore,
		Conversations: conversations,
		Tasks:         tasks,
		Dispatcher:    dispatcher,
		Settings:      settings,
		Registry:      registry,
		Redis:         rdb,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             5,
		},
		Metrics: metrics,
	})
	registry.LoadEnabled(pluginGroup)

	slog.Info("Starting the archivist server", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
