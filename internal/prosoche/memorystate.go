package prosoche

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

const (
	sidecarUnhealthyUrgency   = 0.6
	sidecarUnreachableUrgency = 0.5
	// bridgeContextTTL expires staged discovery blocks.
	bridgeContextTTL = 12 * time.Hour
)

// MemoryStateCollector polls the sidecar: health, active foresight
// signals, discovery candidates and evolution stats.
type MemoryStateCollector struct {
	cfg    MemoryStateConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryStateCollector wires the sidecar HTTP client.
func NewMemoryStateCollector(cfg MemoryStateConfig, logger *zap.Logger) *MemoryStateCollector {
	return &MemoryStateCollector{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("memory-state"),
		now:    time.Now,
	}
}

func (c *MemoryStateCollector) Name() string { return "memory_state" }

// Collect turns sidecar state into signals. An unreachable sidecar is
// itself a signal, not an error.
func (c *MemoryStateCollector) Collect(ctx context.Context) ([]Signal, error) {
	now := c.now()
	var signals []Signal

	var health struct {
		OK     bool           `json:"ok"`
		Checks map[string]any `json:"checks"`
	}
	if err := c.get(ctx, "/health", &health); err != nil {
		return []Signal{{
			Source: "memory_state", Urgency: sidecarUnreachableUrgency, Timestamp: now,
			Summary: "Memory sidecar unreachable",
		}}, nil
	}
	if !health.OK {
		signals = append(signals, Signal{
			Source: "memory_state", Urgency: sidecarUnhealthyUrgency, Timestamp: now,
			Summary: "Memory sidecar reports unhealthy",
		})
	}

	var foresight struct {
		Signals []struct {
			Entity string  `json:"entity"`
			Signal string  `json:"signal"`
			Weight float64 `json:"weight"`
		} `json:"signals"`
	}
	if err := c.get(ctx, "/foresight/active", &foresight); err != nil {
		c.logger.Warn("Foresight poll failed", zap.Error(err))
	} else {
		for _, f := range foresight.Signals {
			urgency := 0.3 + 0.1*f.Weight
			if urgency > 0.9 {
				urgency = 0.9
			}
			signals = append(signals, Signal{
				Source: "memory_state", Urgency: urgency, Timestamp: now,
				Summary: fmt.Sprintf("Foresight: %s (%s)", f.Signal, f.Entity),
			})
		}
	}

	var candidates struct {
		Candidates []struct {
			Type        string  `json:"type"`
			EntityA     string  `json:"entity_a"`
			EntityB     string  `json:"entity_b"`
			BridgeScore float64 `json:"bridge_score"`
		} `json:"candidates"`
	}
	if err := c.get(ctx, "/discovery/candidates", &candidates); err != nil {
		c.logger.Warn("Candidates poll failed", zap.Error(err))
	} else {
		for _, cand := range candidates.Candidates {
			if cand.Type != "cross_community_bridge" {
				continue
			}
			signals = append(signals, Signal{
				Source: "memory_state", Urgency: 0.2, Timestamp: now,
				Summary: fmt.Sprintf("Bridge discovered: %s <-> %s", cand.EntityA, cand.EntityB),
				Context: []ContextBlock{{
					Title:     "Cross-community bridge",
					Content:   fmt.Sprintf("%s connects to %s (score %.2f). Worth exploring the link.", cand.EntityA, cand.EntityB, cand.BridgeScore),
					Source:    "discovery",
					ExpiresAt: now.Add(bridgeContextTTL),
				}},
			})
		}
	}

	var evolution struct {
		Stats map[string]any `json:"stats"`
	}
	if err := c.get(ctx, "/evolution/stats", &evolution); err != nil {
		c.logger.Warn("Evolution stats poll failed", zap.Error(err))
	}

	return signals, nil
}

func (c *MemoryStateCollector) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SidecarURL+path, nil)
	if err != nil {
		return err
	}
	if c.cfg.SidecarToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.SidecarToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(body, v)
}
