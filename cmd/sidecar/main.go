package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/analytics"
	"github.com/aletheia-memory-sidecar/internal/audit"
	"github.com/aletheia-memory-sidecar/internal/embedding"
	"github.com/aletheia-memory-sidecar/internal/entity"
	"github.com/aletheia-memory-sidecar/internal/foresight"
	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/memory"
	"github.com/aletheia-memory-sidecar/internal/server"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/store/vector"
	"github.com/aletheia-memory-sidecar/internal/temporal"
	"github.com/aletheia-memory-sidecar/internal/workers"
)

const nightlyInterval = 24 * time.Hour

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aletheiaHome := envStr("ALETHEIA_HOME", defaultHome())

	// Embedding first: the vector collection dimension follows the
	// active embedder.
	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	}
	embedCfg := embedding.DefaultConfig()
	embedCfg.VoyageAPIKey = os.Getenv("VOYAGE_API_KEY")
	embedCfg.OllamaURL = envStr("OLLAMA_URL", embedCfg.OllamaURL)
	embedSvc, err := embedding.NewService(ctx, embedCfg, redisClient, logger)
	if err != nil {
		logger.Fatal("Embedding service init failed", zap.Error(err))
	}
	defer embedSvc.Close()

	vecCfg := vector.DefaultConfig()
	vecCfg.Host = envStr("QDRANT_HOST", vecCfg.Host)
	vecCfg.Port = envInt("QDRANT_PORT", vecCfg.Port)
	vecCfg.Dimension = embedSvc.Dimension()
	vectors, err := vector.New(vecCfg, logger)
	if err != nil {
		logger.Fatal("Vector gateway init failed", zap.Error(err))
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx); err != nil {
		logger.Warn("Vector collection bootstrap failed", zap.Error(err))
	}

	graphCfg := graph.DefaultConfig()
	graphCfg.URL = envStr("NEO4J_URL", graphCfg.URL)
	graphCfg.User = envStr("NEO4J_USER", graphCfg.User)
	graphCfg.Password = envStr("NEO4J_PASSWORD", graphCfg.Password)
	graphGW, err := graph.New(graphCfg, logger)
	if err != nil {
		logger.Fatal("Graph gateway init failed", zap.Error(err))
	}
	defer graphGW.Close(context.Background())
	if err := graphGW.EnsureSchema(ctx); err != nil {
		logger.Warn("Graph schema bootstrap failed", zap.Error(err))
	}

	llmCfg := llm.DefaultConfig()
	llmCfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	llmCfg.OllamaURL = envStr("OLLAMA_URL", llmCfg.OllamaURL)
	detector := llm.NewDetector(llmCfg, logger)
	backend := detector.Detect(ctx)
	logger.Info("LLM backend detected",
		zap.Int("tier", int(backend.Tier)),
		zap.String("provider", backend.Provider),
		zap.String("model", backend.Model))
	go detector.Watch(ctx)

	pool, err := workers.NewPool(8, time.Minute, logger)
	if err != nil {
		logger.Fatal("Worker pool init failed", zap.Error(err))
	}
	defer pool.Release()

	temporalEngine := temporal.NewEngine(graphGW, logger)
	foresightStore := foresight.NewStore(graphGW, logger)
	analyticsSvc := analytics.NewService(graphGW, detector.Client, logger)
	auditLog := audit.NewLog(filepath.Join(aletheiaHome, "logs", "retractions.jsonl"), logger)
	defer auditLog.Close()

	memCfg := memory.DefaultConfig()
	memCfg.LinkGeneration = envBool("LINK_GENERATION_ENABLED", memCfg.LinkGeneration)
	svc := memory.NewService(memCfg, vectors, graphGW, embedSvc, detector, pool,
		temporalEngine, auditLog, logger)

	shortlist, err := entity.NewIndex(entity.DefaultIndexConfig(), logger)
	if err != nil {
		logger.Warn("Entity shortlist index init failed", zap.Error(err))
	} else {
		defer shortlist.Close()
		svc.SetShortlist(shortlist)
	}

	cycle := analytics.NewCycle(analyticsSvc, analytics.CycleDeps{
		ForesightDecay: func(ctx context.Context) error {
			_, _, err := foresightStore.Decay(ctx)
			return err
		},
		NormalizeRelationships: func(ctx context.Context) error {
			_, _, err := graphGW.NormalizeRelationships(ctx)
			return err
		},
		ConsolidateMemories: func(ctx context.Context) error {
			_, err := svc.Consolidate(ctx, "", memory.ConsolidateDefaultThreshold, false)
			return err
		},
	}, logger)
	go cycle.RunNightly(ctx, nightlyInterval)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = envStr("MEMORY_SIDECAR_ADDR", srvCfg.Addr)
	srvCfg.Token = os.Getenv("ALETHEIA_MEMORY_TOKEN")
	srv := server.New(srvCfg, server.Deps{
		Memory:    svc,
		Temporal:  temporalEngine,
		Foresight: foresightStore,
		Analytics: analyticsSvc,
		Graph:     graphGW,
		Vectors:   vectors,
		Embedder:  embedSvc,
		LLM:       detector,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("Memory sidecar listening", zap.String("addr", srvCfg.Addr))

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	logger.Info("Memory sidecar stopped")
}

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aletheia"
	}
	return filepath.Join(home, ".aletheia")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
