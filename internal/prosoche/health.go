package prosoche

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	serviceFailedUrgency = 0.95
	serviceDownUrgency   = 0.7
	containerDownUrgency = 0.85
	diskCriticalUrgency  = 1.0
	diskWarnUrgency      = 0.5

	diskCriticalPct = 95
	diskWarnPct     = 85
)

// HealthCollector watches systemd services, container liveness and
// disk usage on the host.
type HealthCollector struct {
	cfg    HealthConfig
	run    runner
	logger *zap.Logger
}

// NewHealthCollector wires the host tools.
func NewHealthCollector(cfg HealthConfig, logger *zap.Logger) *HealthCollector {
	return &HealthCollector{cfg: cfg, run: runCommand, logger: logger.Named("health")}
}

func (c *HealthCollector) Name() string { return "health" }

// Collect probes every configured service, container and mount.
func (c *HealthCollector) Collect(ctx context.Context) ([]Signal, error) {
	now := time.Now()
	var signals []Signal

	for _, service := range c.cfg.Services {
		state, err := c.run(ctx, "systemctl", "is-active", service)
		if err != nil && state == "" {
			// is-active exits non-zero for inactive units and prints
			// the state anyway; a truly failed exec has no output.
			state = "unknown"
		}
		switch state {
		case "active":
		case "failed":
			signals = append(signals, Signal{
				Source: "health", Urgency: serviceFailedUrgency, Timestamp: now,
				Summary: "Service " + service + " has FAILED",
			})
		default:
			signals = append(signals, Signal{
				Source: "health", Urgency: serviceDownUrgency, Timestamp: now,
				Summary: "Service " + service + " is " + state,
			})
		}
	}

	for _, container := range c.cfg.Containers {
		out, err := c.run(ctx, "docker", "inspect", "-f", "{{.State.Running}}", container)
		if err != nil || strings.TrimSpace(out) != "true" {
			signals = append(signals, Signal{
				Source: "health", Urgency: containerDownUrgency, Timestamp: now,
				Summary: "Container " + container + " is not running",
			})
		}
	}

	for _, mount := range c.cfg.DiskMounts {
		out, err := c.run(ctx, "df", "--output=pcent", mount)
		if err != nil {
			c.logger.Warn("df failed", zap.String("mount", mount), zap.Error(err))
			continue
		}
		pct, ok := parseDiskPercent(out)
		if !ok {
			continue
		}
		switch {
		case pct >= diskCriticalPct:
			signals = append(signals, Signal{
				Source: "health", Urgency: diskCriticalUrgency, Timestamp: now,
				Summary: "Disk " + mount + " at " + strconv.Itoa(pct) + "% (critical)",
			})
		case pct >= diskWarnPct:
			signals = append(signals, Signal{
				Source: "health", Urgency: diskWarnUrgency, Timestamp: now,
				Summary: "Disk " + mount + " at " + strconv.Itoa(pct) + "%",
			})
		}
	}

	return signals, nil
}

// parseDiskPercent pulls the percentage out of `df --output=pcent`.
func parseDiskPercent(out string) (int, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	last = strings.TrimSuffix(last, "%")
	pct, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return 0, false
	}
	return pct, true
}
