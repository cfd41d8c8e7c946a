package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aletheia-memory-sidecar/internal/foresight"
	"github.com/aletheia-memory-sidecar/internal/temporal"
)

func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content    string `json:"content"`
		AgentID    string `json:"agent_id"`
		SessionID  string `json:"session_id"`
		Source     string `json:"source"`
		OccurredAt string `json:"occurred_at"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	ep, err := s.deps.Temporal.CreateEpisode(r.Context(), temporal.EpisodeRequest{
		Content:    body.Content,
		AgentID:    body.AgentID,
		SessionID:  body.SessionID,
		Source:     body.Source,
		OccurredAt: body.OccurredAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "episode": ep})
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	episodes, err := s.deps.Temporal.Episodes(r.Context(), q.Get("agent_id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if episodes == nil {
		episodes = []temporal.Episode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "episodes": episodes})
}

func (s *Server) handleCreateFact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject         string  `json:"subject"`
		Predicate       string  `json:"predicate"`
		Object          string  `json:"object"`
		OccurredAt      string  `json:"occurred_at"`
		Confidence      float64 `json:"confidence"`
		SourceEpisodeID string  `json:"source_episode_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	fact, err := s.deps.Temporal.CreateFact(r.Context(), temporal.FactRequest{
		Subject:         body.Subject,
		Predicate:       body.Predicate,
		Object:          body.Object,
		OccurredAt:      body.OccurredAt,
		Confidence:      body.Confidence,
		SourceEpisodeID: body.SourceEpisodeID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fact": fact})
}

func (s *Server) handleInvalidateFact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject   string `json:"subject"`
		Predicate string `json:"predicate"`
		Object    string `json:"object"`
		Reason    string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	closed, err := s.deps.Temporal.Invalidate(r.Context(), body.Subject, body.Predicate, body.Object, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "invalidated": closed})
}

func (s *Server) handleSince(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Since   string `json:"since"`
		Entity  string `json:"entity"`
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	changes, err := s.deps.Temporal.Since(r.Context(), body.Since, body.Entity, body.AgentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "changes": changes})
}

func (s *Server) handleWhatChanged(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entity string `json:"entity"`
		Since  string `json:"since"`
		Until  string `json:"until"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	history, err := s.deps.Temporal.WhatChanged(r.Context(), body.Entity, body.Since, body.Until)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "history": history})
}

func (s *Server) handleAtTime(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timestamp string `json:"timestamp"`
		Until     string `json:"until"`
		Since     string `json:"since"`
		Entity    string `json:"entity"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	ts := body.Timestamp
	if ts == "" {
		ts = body.Until
	}
	if ts == "" {
		ts = body.Since
	}
	facts, err := s.deps.Temporal.AtTime(r.Context(), ts, body.Entity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if facts == nil {
		facts = []temporal.Fact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "facts": facts})
}

func (s *Server) handleTemporalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Temporal.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

func (s *Server) handleEvolutionCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text   string `json:"text"`
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.CheckEvolution(r.Context(), body.Text, body.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MemoryID string `json:"memory_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	if err := s.deps.Memory.Reinforce(r.Context(), body.MemoryID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "reinforced": body.MemoryID})
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	// days_inactive and decay_amount are accepted for interface
	// compatibility; the sweep marks never-accessed memories and
	// always increments decay_count by one.
	var body struct {
		UserID       string  `json:"user_id"`
		DaysInactive int     `json:"days_inactive"`
		DecayAmount  float64 `json:"decay_amount"`
		DryRun       bool    `json:"dry_run"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.Decay(r.Context(), body.UserID, body.DryRun)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleEvolutionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Memory.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Topic         string  `json:"topic"`
		NoveltyWeight float64 `json:"novelty_weight"`
		MaxResults    int     `json:"max_results"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	discoveries, err := s.deps.Analytics.Discover(r.Context(), body.Topic, body.NoveltyWeight, body.MaxResults)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "discoveries": discoveries})
}

func (s *Server) handleExplorePaths(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source   string `json:"source"`
		Target   string `json:"target"`
		MaxDepth int    `json:"max_depth"`
		MaxPaths int    `json:"max_paths"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	paths, err := s.deps.Analytics.ExplorePaths(r.Context(), body.Source, body.Target, body.MaxDepth, body.MaxPaths)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paths": paths})
}

func (s *Server) handleGenerateCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.deps.Analytics.GenerateCandidates(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "candidates": candidates})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	candidates, err := s.deps.Analytics.Candidates(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "candidates": candidates})
}

func (s *Server) handleDiscoveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Analytics.DiscoveryStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

func (s *Server) handleForesightAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entity     string  `json:"entity"`
		Signal     string  `json:"signal"`
		Activation string  `json:"activation"`
		Expiry     string  `json:"expiry"`
		Weight     float64 `json:"weight"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	sig, err := s.deps.Foresight.Add(r.Context(), foresight.Signal{
		Entity:     body.Entity,
		Signal:     body.Signal,
		Activation: body.Activation,
		Expiry:     body.Expiry,
		Weight:     body.Weight,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "signal": sig})
}

func (s *Server) handleForesightActive(w http.ResponseWriter, r *http.Request) {
	signals, err := s.deps.Foresight.Active(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if signals == nil {
		signals = []foresight.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "signals": signals})
}

func (s *Server) handleForesightDecay(w http.ResponseWriter, r *http.Request) {
	decayed, removed, err := s.deps.Foresight.Decay(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "decayed": decayed, "removed": removed})
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Graph.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StoreScores bool `json:"store_scores"`
	}
	// An empty body means analyze without write-back.
	_ = decodeJSON(r, &body)
	res, err := s.deps.Analytics.Analyze(r.Context(), body.StoreScores)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleGraphExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = "top"
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	community, err := strconv.Atoi(q.Get("community"))
	if err != nil {
		community = -1
	}
	export, err := s.deps.Analytics.GraphExport(r.Context(), mode, limit, community)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "graph": export})
}

func (s *Server) handleNormalizeRelationships(w http.ResponseWriter, r *http.Request) {
	normalized, rewrites, err := s.deps.Graph.NormalizeRelationships(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "normalized": normalized, "rewrites": rewrites})
}

// handleHealth aggregates dependency liveness. It is the one
// unauthenticated route.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]any{
		"qdrant": s.deps.Vectors != nil && s.deps.Vectors.Available(ctx),
		"neo4j":  s.deps.Graph != nil && s.deps.Graph.Available(ctx),
	}
	embedderOK := false
	if s.deps.Embedder != nil {
		if _, err := s.deps.Embedder.Embed(ctx, "health"); err == nil {
			embedderOK = true
		}
		checks["embedder"] = map[string]any{"ok": embedderOK, "name": s.deps.Embedder.Name()}
	} else {
		checks["embedder"] = map[string]any{"ok": false}
	}

	var llmInfo map[string]any
	if s.deps.LLM != nil {
		backend := s.deps.LLM.Backend()
		llmInfo = map[string]any{
			"tier":               int(backend.Tier),
			"provider":           backend.Provider,
			"model":              backend.Model,
			"extraction_enabled": s.deps.LLM.ExtractionEnabled(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": Version,
		"llm":     llmInfo,
		"checks":  checks,
	})
}
