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
	hexFailedUrgency = 0.9
	hexStaleUrgency  = 0.6
	// hexStaleAfter flags a daily project that has not run in over a day.
	hexStaleAfter = 26 * time.Hour

	redshiftFailedUrgency = 0.9
	redshiftSlowUrgency   = 0.7
	redshiftSlowAfter     = 300 * time.Second
)

// HexCollector polls the Hex project-runs API for failed or stale
// scheduled runs.
type HexCollector struct {
	cfg    HexConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewHexCollector wires the Hex API client.
func NewHexCollector(cfg HexConfig, logger *zap.Logger) *HexCollector {
	return &HexCollector{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.Named("hex"),
		now:    time.Now,
	}
}

func (c *HexCollector) Name() string { return "hex" }

type hexRun struct {
	Status    string `json:"status"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Collect checks the latest run of every configured project.
func (c *HexCollector) Collect(ctx context.Context) ([]Signal, error) {
	now := c.now()
	var signals []Signal

	for _, projectID := range c.cfg.ProjectIDs {
		run, err := c.latestRun(ctx, projectID)
		if err != nil {
			c.logger.Warn("Hex poll failed", zap.String("project", projectID), zap.Error(err))
			continue
		}
		if run == nil {
			continue
		}

		switch run.Status {
		case "ERRORED", "KILLED", "UNABLE_TO_ALLOCATE_KERNEL":
			signals = append(signals, Signal{
				Source:       "hex",
				Summary:      fmt.Sprintf("Hex project %s latest run %s", projectID, run.Status),
				Urgency:      hexFailedUrgency,
				RelevantNous: relevantAgent(c.cfg.Agent),
				Timestamp:    now,
			})
		default:
			ended, err := time.Parse(time.RFC3339, run.EndTime)
			if err == nil && now.Sub(ended) > hexStaleAfter {
				signals = append(signals, Signal{
					Source:       "hex",
					Summary:      fmt.Sprintf("Hex project %s has not run in %.0fh", projectID, now.Sub(ended).Hours()),
					Urgency:      hexStaleUrgency,
					RelevantNous: relevantAgent(c.cfg.Agent),
					Timestamp:    now,
				})
			}
		}
	}
	return signals, nil
}

func (c *HexCollector) latestRun(ctx context.Context, projectID string) (*hexRun, error) {
	url := fmt.Sprintf("%s/api/v1/projects/%s/runs?limit=1", c.cfg.APIURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hex runs: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Runs []hexRun `json:"runs"`
	}
	if err := jsonx.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if len(payload.Runs) == 0 {
		return nil, nil
	}
	return &payload.Runs[0], nil
}

// RedshiftCollector shells out to the AWS CLI and flags failed or
// long-running Redshift Data API statements.
type RedshiftCollector struct {
	cfg    RedshiftConfig
	run    runner
	logger *zap.Logger
	now    func() time.Time
}

// NewRedshiftCollector wires the aws tool.
func NewRedshiftCollector(cfg RedshiftConfig, logger *zap.Logger) *RedshiftCollector {
	return &RedshiftCollector{cfg: cfg, run: runCommand, logger: logger.Named("redshift"), now: time.Now}
}

func (c *RedshiftCollector) Name() string { return "redshift" }

type redshiftStatement struct {
	ID        string `json:"Id"`
	Status    string `json:"Status"`
	CreatedAt string `json:"CreatedAt"`
}

// Collect lists recent statements and reports failures and stalls.
func (c *RedshiftCollector) Collect(ctx context.Context) ([]Signal, error) {
	now := c.now()
	out, err := c.run(ctx, "aws", "redshift-data", "list-statements", "--max-items", "20", "--output", "json")
	if err != nil {
		c.logger.Warn("redshift-data invocation failed", zap.Error(err))
		return nil, nil
	}

	var payload struct {
		Statements []redshiftStatement `json:"Statements"`
	}
	if err := jsonx.UnmarshalFromString(out, &payload); err != nil {
		c.logger.Warn("redshift-data output unparseable", zap.Error(err))
		return nil, nil
	}

	var signals []Signal
	for _, stmt := range payload.Statements {
		switch stmt.Status {
		case "FAILED":
			signals = append(signals, Signal{
				Source:       "redshift",
				Summary:      "Redshift statement " + stmt.ID + " FAILED",
				Urgency:      redshiftFailedUrgency,
				RelevantNous: relevantAgent(c.cfg.Agent),
				Timestamp:    now,
			})
		case "STARTED":
			created, err := time.Parse(time.RFC3339, stmt.CreatedAt)
			if err == nil && now.Sub(created) > redshiftSlowAfter {
				signals = append(signals, Signal{
					Source:       "redshift",
					Summary:      fmt.Sprintf("Redshift statement %s running for %.0fs", stmt.ID, now.Sub(created).Seconds()),
					Urgency:      redshiftSlowUrgency,
					RelevantNous: relevantAgent(c.cfg.Agent),
					Timestamp:    now,
				})
			}
		}
	}
	return signals, nil
}

// relevantAgent routes a signal to one agent, or everyone when unset.
func relevantAgent(agent string) []string {
	if agent == "" {
		return nil
	}
	return []string{agent}
}
