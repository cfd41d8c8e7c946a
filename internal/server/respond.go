package server

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/aletheia-memory-sidecar/internal/analytics"
	"github.com/aletheia-memory-sidecar/internal/foresight"
	"github.com/aletheia-memory-sidecar/internal/jsonx"
	"github.com/aletheia-memory-sidecar/internal/memory"
	"github.com/aletheia-memory-sidecar/internal/temporal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return jsonx.NewDecoder(r.Body).Decode(v)
}

// writeError maps engine errors onto the API contract: bad input is a
// 400, a downed graph degrades to {ok:false, available:false} with a
// 200, everything else is a sanitized 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrEmptyText),
		errors.Is(err, temporal.ErrBadRequest),
		errors.Is(err, foresight.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
	case errors.Is(err, temporal.ErrUnavailable),
		errors.Is(err, foresight.ErrUnavailable),
		errors.Is(err, analytics.ErrUnavailable):
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "available": false})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": sanitizeError(err),
		})
	}
}

// Error bodies must not leak credentials, addresses or filesystem
// layout back to callers.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|token|secret|api[_-]?key|credential)\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d+)?\b`),
	regexp.MustCompile(`[/\\][a-zA-Z0-9_\-./\\]{2,}`),
}

var multiSpace = regexp.MustCompile(`\s+`)

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, pattern := range sensitivePatterns {
		msg = pattern.ReplaceAllString(msg, "[redacted]")
	}
	return strings.TrimSpace(multiSpace.ReplaceAllString(msg, " "))
}
