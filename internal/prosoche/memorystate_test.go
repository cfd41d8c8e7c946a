package prosoche

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sidecarStub(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			if healthy {
				w.Write([]byte(`{"ok":true}`))
			} else {
				w.Write([]byte(`{"ok":false}`))
			}
		case "/foresight/active":
			w.Write([]byte(`{"signals":[{"entity":"alice","signal":"contract renewal due","weight":2.0},{"entity":"bob","signal":"big launch","weight":9.0}]}`))
		case "/discovery/candidates":
			w.Write([]byte(`{"candidates":[{"type":"cross_community_bridge","entity_a":"Rust","entity_b":"Neuroscience","bridge_score":0.82},{"type":"high_betweenness_hub","entity_a":"Go"}]}`))
		case "/evolution/stats":
			w.Write([]byte(`{"stats":{"evolutions":3}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newMemoryStateCollector(url string, t *testing.T) *MemoryStateCollector {
	c := NewMemoryStateCollector(MemoryStateConfig{
		SidecarURL:   url,
		SidecarToken: "test-token",
	}, zaptest.NewLogger(t))
	c.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestMemoryStateCollectorHealthy(t *testing.T) {
	srv := sidecarStub(t, true)
	defer srv.Close()

	c := newMemoryStateCollector(srv.URL, t)
	signals, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 3)

	// Foresight weight 2.0: 0.3 + 0.1*2 = 0.5; weight 9.0 clamps at 0.9.
	assert.Contains(t, signals[0].Summary, "contract renewal due")
	assert.InDelta(t, 0.5, signals[0].Urgency, 1e-9)
	assert.Contains(t, signals[1].Summary, "big launch")
	assert.InDelta(t, 0.9, signals[1].Urgency, 1e-9)

	// The bridge stages a context block with a 12 h expiry; the hub
	// candidate does not.
	bridge := signals[2]
	assert.Contains(t, bridge.Summary, "Rust <-> Neuroscience")
	require.Len(t, bridge.Context, 1)
	assert.Equal(t, c.now().Add(12*time.Hour), bridge.Context[0].ExpiresAt)
	assert.Equal(t, "discovery", bridge.Context[0].Source)
}

func TestMemoryStateCollectorUnhealthy(t *testing.T) {
	srv := sidecarStub(t, false)
	defer srv.Close()

	signals, err := newMemoryStateCollector(srv.URL, t).Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, signals)
	assert.Equal(t, "Memory sidecar reports unhealthy", signals[0].Summary)
	assert.InDelta(t, sidecarUnhealthyUrgency, signals[0].Urgency, 1e-9)
}

func TestHexCollectorFailedAndStaleRuns(t *testing.T) {
	now := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer hex-token", r.Header.Get("Authorization"))
		switch {
		case strings.Contains(r.URL.Path, "/projects/p-failed/"):
			w.Write([]byte(`{"runs":[{"status":"ERRORED","endTime":"2026-08-26T08:00:00Z"}]}`))
		case strings.Contains(r.URL.Path, "/projects/p-stale/"):
			w.Write([]byte(`{"runs":[{"status":"COMPLETED","endTime":"2026-08-24T09:00:00Z"}]}`))
		default:
			w.Write([]byte(`{"runs":[{"status":"COMPLETED","endTime":"2026-08-26T08:00:00Z"}]}`))
		}
	}))
	defer srv.Close()

	c := NewHexCollector(HexConfig{
		APIURL:     srv.URL,
		APIToken:   "hex-token",
		ProjectIDs: []string{"p-failed", "p-stale", "p-fresh"},
		Agent:      "arbor",
	}, zaptest.NewLogger(t))
	c.now = func() time.Time { return now }

	signals, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, "Hex project p-failed latest run ERRORED", signals[0].Summary)
	assert.InDelta(t, hexFailedUrgency, signals[0].Urgency, 1e-9)
	assert.Equal(t, []string{"arbor"}, signals[0].RelevantNous)

	assert.Contains(t, signals[1].Summary, "p-stale has not run in 48h")
	assert.InDelta(t, hexStaleUrgency, signals[1].Urgency, 1e-9)
}

func TestMemoryStateCollectorUnreachable(t *testing.T) {
	signals, err := newMemoryStateCollector("http://127.0.0.1:1", t).Collect(context.Background())
	require.NoError(t, err, "unreachable sidecar is a signal, not an error")
	require.Len(t, signals, 1)
	assert.Equal(t, "Memory sidecar unreachable", signals[0].Summary)
	assert.InDelta(t, sidecarUnreachableUrgency, signals[0].Urgency, 1e-9)
}
