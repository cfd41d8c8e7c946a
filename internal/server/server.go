// Package server is the sidecar's HTTP surface: one mux router, bearer
// auth on everything but /health, and thin handlers that translate
// between JSON bodies and the engines.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/analytics"
	"github.com/aletheia-memory-sidecar/internal/foresight"
	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/memory"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/temporal"
)

// Version is reported by /health.
const Version = "2.1.0"

// MemoryEngine is the slice of the memory service the handlers call.
type MemoryEngine interface {
	Add(ctx context.Context, req memory.AddRequest) (*memory.AddResult, error)
	AddDirect(ctx context.Context, req memory.AddRequest) (*memory.AddResult, error)
	AddBatch(ctx context.Context, texts []string, req memory.AddRequest) (*memory.BatchResult, error)
	Import(ctx context.Context, facts []memory.ImportFact, userID string) (*memory.ImportResult, error)
	ImportFile(ctx context.Context, path, userID string) (*memory.ImportResult, error)
	Search(ctx context.Context, req memory.SearchRequest) ([]memory.Result, error)
	SearchEnhanced(ctx context.Context, req memory.SearchRequest) ([]memory.Result, error)
	GraphEnhancedSearch(ctx context.Context, req memory.SearchRequest, depth int) ([]memory.Result, error)
	GraphSearch(ctx context.Context, req memory.SearchRequest) ([]memory.Result, error)
	List(ctx context.Context, userID, agentID string, limit int) ([]memory.Result, error)
	DeleteMemory(ctx context.Context, id string) error
	CheckEvolution(ctx context.Context, text, userID string) (*memory.EvolutionResult, error)
	Reinforce(ctx context.Context, memoryID string) error
	Decay(ctx context.Context, userID string, dryRun bool) (*memory.DecayResult, error)
	Consolidate(ctx context.Context, userID string, threshold float64, dryRun bool) (*memory.ConsolidateResult, error)
	Merge(ctx context.Context, idA, idB, userID string) (*memory.EvolutionResult, error)
	Retract(ctx context.Context, query, userID, reason string, cascade, dryRun bool) (*memory.RetractResult, error)
	Stats(ctx context.Context) (*memory.EvolutionStats, error)
	FactStatsFor(ctx context.Context, userID string) (*memory.FactStats, error)
}

// TemporalEngine is the bi-temporal fact surface.
type TemporalEngine interface {
	CreateEpisode(ctx context.Context, req temporal.EpisodeRequest) (*temporal.Episode, error)
	Episodes(ctx context.Context, agentID string, limit int) ([]temporal.Episode, error)
	CreateFact(ctx context.Context, req temporal.FactRequest) (*temporal.Fact, error)
	Invalidate(ctx context.Context, subject, predicate, object, reason string) (int64, error)
	Since(ctx context.Context, since, entityName, agentID string) (*temporal.ChangeSet, error)
	WhatChanged(ctx context.Context, entityName, since, until string) (*temporal.EntityHistory, error)
	AtTime(ctx context.Context, timestamp, entityName string) ([]temporal.Fact, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// ForesightStore is the prospective-signal surface.
type ForesightStore interface {
	Add(ctx context.Context, sig foresight.Signal) (*foresight.Signal, error)
	Active(ctx context.Context) ([]foresight.Signal, error)
	Decay(ctx context.Context) (int64, int64, error)
}

// AnalyticsEngine is the discovery surface.
type AnalyticsEngine interface {
	Analyze(ctx context.Context, storeScores bool) (*analytics.AnalyzeResult, error)
	Discover(ctx context.Context, topic string, noveltyWeight float64, maxResults int) ([]analytics.Discovery, error)
	ExplorePaths(ctx context.Context, source, target string, maxDepth, maxPaths int) ([]analytics.Path, error)
	GenerateCandidates(ctx context.Context) ([]analytics.Candidate, error)
	Candidates(ctx context.Context, limit int) ([]analytics.Candidate, error)
	DiscoveryStats(ctx context.Context) (map[string]any, error)
	GraphExport(ctx context.Context, mode string, limit, community int) (*analytics.Export, error)
}

// GraphAdmin is the maintenance slice of the graph gateway.
type GraphAdmin interface {
	Available(ctx context.Context) bool
	NormalizeRelationships(ctx context.Context) (int64, []graph.TypeRewrite, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// Availability is any dependency that can answer a liveness probe.
type Availability interface {
	Available(ctx context.Context) bool
}

// BackendInfo reports the detected LLM backend for /health.
type BackendInfo interface {
	Backend() llm.Backend
	ExtractionEnabled() bool
}

// EmbedderProbe is the embedder slice health checks use.
type EmbedderProbe interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Deps wires the engines into the server.
type Deps struct {
	Memory    MemoryEngine
	Temporal  TemporalEngine
	Foresight ForesightStore
	Analytics AnalyticsEngine
	Graph     GraphAdmin
	Vectors   Availability
	Embedder  EmbedderProbe
	LLM       BackendInfo
}

// Config tunes the HTTP listener.
type Config struct {
	Addr string
	// Token is the static bearer token; empty disables auth (dev only).
	Token           string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane listener timeouts. The write timeout is
// generous: import and analyze calls do real work.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8077",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP surface.
type Server struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	http   *http.Server
}

// New builds the server and its router.
func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger.Named("http")}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler assembles the routed, authenticated handler chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Ingestion.
	r.HandleFunc("/add", s.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/add_direct", s.handleAddDirect).Methods(http.MethodPost)
	r.HandleFunc("/add_batch", s.handleAddBatch).Methods(http.MethodPost)
	r.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	r.HandleFunc("/import_file", s.handleImportFile).Methods(http.MethodPost)

	// Retrieval.
	r.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	r.HandleFunc("/search_enhanced", s.handleSearchEnhanced).Methods(http.MethodPost)
	r.HandleFunc("/graph_search", s.handleGraphSearch).Methods(http.MethodPost)
	r.HandleFunc("/graph_enhanced_search", s.handleGraphEnhancedSearch).Methods(http.MethodPost)
	r.HandleFunc("/memories", s.handleListMemories).Methods(http.MethodGet)
	r.HandleFunc("/memories/{id}", s.handleDeleteMemory).Methods(http.MethodDelete)

	// Lifecycle.
	r.HandleFunc("/retract", s.handleRetract).Methods(http.MethodPost)
	r.HandleFunc("/consolidate", s.handleConsolidate).Methods(http.MethodPost)
	r.HandleFunc("/merge", s.handleMerge).Methods(http.MethodPost)
	r.HandleFunc("/fact_stats", s.handleFactStats).Methods(http.MethodGet)

	// Temporal.
	r.HandleFunc("/temporal/episodes", s.handleCreateEpisode).Methods(http.MethodPost)
	r.HandleFunc("/temporal/episodes", s.handleListEpisodes).Methods(http.MethodGet)
	r.HandleFunc("/temporal/facts", s.handleCreateFact).Methods(http.MethodPost)
	r.HandleFunc("/temporal/facts/invalidate", s.handleInvalidateFact).Methods(http.MethodPost)
	r.HandleFunc("/temporal/since", s.handleSince).Methods(http.MethodPost)
	r.HandleFunc("/temporal/what_changed", s.handleWhatChanged).Methods(http.MethodPost)
	r.HandleFunc("/temporal/at_time", s.handleAtTime).Methods(http.MethodPost)
	r.HandleFunc("/temporal/stats", s.handleTemporalStats).Methods(http.MethodGet)

	// Evolution.
	r.HandleFunc("/evolution/check", s.handleEvolutionCheck).Methods(http.MethodPost)
	r.HandleFunc("/evolution/reinforce", s.handleReinforce).Methods(http.MethodPost)
	r.HandleFunc("/evolution/decay", s.handleDecay).Methods(http.MethodPost)
	r.HandleFunc("/evolution/stats", s.handleEvolutionStats).Methods(http.MethodGet)

	// Discovery.
	r.HandleFunc("/discovery/discover", s.handleDiscover).Methods(http.MethodPost)
	r.HandleFunc("/discovery/explore_paths", s.handleExplorePaths).Methods(http.MethodPost)
	r.HandleFunc("/discovery/generate_candidates", s.handleGenerateCandidates).Methods(http.MethodPost)
	r.HandleFunc("/discovery/candidates", s.handleCandidates).Methods(http.MethodGet)
	r.HandleFunc("/discovery/stats", s.handleDiscoveryStats).Methods(http.MethodGet)

	// Foresight.
	r.HandleFunc("/foresight/add", s.handleForesightAdd).Methods(http.MethodPost)
	r.HandleFunc("/foresight/active", s.handleForesightActive).Methods(http.MethodGet)
	r.HandleFunc("/foresight/decay", s.handleForesightDecay).Methods(http.MethodPost)

	// Graph.
	r.HandleFunc("/graph_stats", s.handleGraphStats).Methods(http.MethodGet)
	r.HandleFunc("/graph/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/graph/export", s.handleGraphExport).Methods(http.MethodGet)
	r.HandleFunc("/normalize_relationships", s.handleNormalizeRelationships).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.bearerAuth(h)
	h = s.requestLogger(h)
	h = s.recoverer(h)
	h = handlers.ProxyHeaders(h)
	return h
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("Listening", zap.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
