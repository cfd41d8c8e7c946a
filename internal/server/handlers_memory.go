package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/aletheia-memory-sidecar/internal/memory"
)

// addBody is the shared shape of the ingestion endpoints.
type addBody struct {
	Text       string         `json:"text"`
	Texts      []string       `json:"texts"`
	UserID     string         `json:"user_id"`
	AgentID    string         `json:"agent_id"`
	Source     string         `json:"source"`
	SessionID  string         `json:"session_id"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
}

func (b addBody) toRequest() memory.AddRequest {
	return memory.AddRequest{
		Text:       b.Text,
		UserID:     b.UserID,
		AgentID:    b.AgentID,
		Source:     b.Source,
		SessionID:  b.SessionID,
		Confidence: b.Confidence,
		Metadata:   b.Metadata,
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var body addBody
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.Add(r.Context(), body.toRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleAddDirect(w http.ResponseWriter, r *http.Request) {
	var body addBody
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.AddDirect(r.Context(), body.toRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var body addBody
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.AddBatch(r.Context(), body.Texts, body.toRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "added": res.Added, "skipped": res.Skipped,
		"errors": res.Errors, "ids": res.IDs,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Facts  []memory.ImportFact `json:"facts"`
		UserID string              `json:"user_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.Import(r.Context(), body.Facts, body.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "imported": res.Imported, "skipped": res.Skipped, "errors": res.Errors,
	})
}

func (s *Server) handleImportFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path   string `json:"path"`
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "path required"})
		return
	}
	res, err := s.deps.Memory.ImportFile(r.Context(), body.Path, body.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "imported": res.Imported, "skipped": res.Skipped, "errors": res.Errors,
	})
}

// searchBody is the shared shape of the retrieval endpoints.
type searchBody struct {
	Query   string   `json:"query"`
	UserID  string   `json:"user_id"`
	AgentID string   `json:"agent_id"`
	Limit   int      `json:"limit"`
	Domains []string `json:"domains"`
	Depth   int      `json:"depth"`
}

func (b searchBody) toRequest() memory.SearchRequest {
	return memory.SearchRequest{
		Query:   b.Query,
		UserID:  b.UserID,
		AgentID: b.AgentID,
		Limit:   b.Limit,
		Domains: b.Domains,
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, func(req memory.SearchRequest, body searchBody) ([]memory.Result, error) {
		return s.deps.Memory.Search(r.Context(), req)
	})
}

func (s *Server) handleSearchEnhanced(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, func(req memory.SearchRequest, body searchBody) ([]memory.Result, error) {
		return s.deps.Memory.SearchEnhanced(r.Context(), req)
	})
}

func (s *Server) handleGraphSearch(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, func(req memory.SearchRequest, body searchBody) ([]memory.Result, error) {
		return s.deps.Memory.GraphSearch(r.Context(), req)
	})
}

func (s *Server) handleGraphEnhancedSearch(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, func(req memory.SearchRequest, body searchBody) ([]memory.Result, error) {
		depth := body.Depth
		if depth == 0 {
			depth = 2
		}
		return s.deps.Memory.GraphEnhancedSearch(r.Context(), req, depth)
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, run func(memory.SearchRequest, searchBody) ([]memory.Result, error)) {
	var body searchBody
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	results, err := run(body.toRequest(), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []memory.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": results})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	results, err := s.deps.Memory.List(r.Context(), q.Get("user_id"), q.Get("agent_id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []memory.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "memories": results})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Memory.DeleteMemory(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": id})
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query   string `json:"query"`
		UserID  string `json:"user_id"`
		Reason  string `json:"reason"`
		Cascade bool   `json:"cascade"`
		DryRun  bool   `json:"dry_run"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.Retract(r.Context(), body.Query, body.UserID, body.Reason, body.Cascade, body.DryRun)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "retracted": res.Retracted, "ids": res.IDs,
		"neo4j_cascade": res.Neo4jCascade, "dry_run": res.DryRun,
	})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string  `json:"user_id"`
		Threshold float64 `json:"threshold"`
		DryRun    bool    `json:"dry_run"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.Consolidate(r.Context(), body.UserID, body.Threshold, body.DryRun)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDA    string `json:"id_a"`
		IDB    string `json:"id_b"`
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	res, err := s.deps.Memory.Merge(r.Context(), body.IDA, body.IDB, body.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleFactStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Memory.FactStatsFor(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}
