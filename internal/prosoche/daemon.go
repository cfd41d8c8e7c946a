package prosoche

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

const (
	tickInterval = 60 * time.Second
	// quietSleep is how long a quiet-hours tick pauses before
	// rechecking.
	quietSleep = 900 * time.Second
	// sleepQuantum keeps every sleep interruptible so shutdown lands
	// within a few seconds.
	sleepQuantum = 5 * time.Second
)

// legacyAgentIDs maps retired agent ids to their successors for
// gateway delivery.
var legacyAgentIDs = map[string]string{
	"syn": "main",
}

type collectorState struct {
	collector Collector
	interval  time.Duration
	lastRun   time.Time
	// signals is this collector's latest batch, replaced on each run.
	signals []Signal
}

// Daemon is the attention loop: collect, score, write, maybe wake.
type Daemon struct {
	cfg        *Config
	collectors []*collectorState
	scorer     *Scorer
	budget     *Budget
	writer     *Writer
	activity   *ActivityModel
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewDaemon assembles the loop from configured collectors.
func NewDaemon(cfg *Config, logger *zap.Logger) (*Daemon, error) {
	activity, err := NewActivityModel(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		scorer:   NewScorer(cfg),
		budget:   NewBudget(cfg.Budget),
		writer:   NewWriter(),
		activity: activity,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.Named("prosoche"),
		now:      time.Now,
	}

	signals := cfg.Signals
	if signals.Calendar.Enabled {
		d.register(NewCalendarCollector(signals.Calendar, logger), signals.Calendar.Interval())
	}
	if signals.Tasks.Enabled {
		d.register(NewTasksCollector(signals.Tasks, logger), signals.Tasks.Interval())
	}
	if signals.Health.Enabled {
		d.register(NewHealthCollector(signals.Health, logger), signals.Health.Interval())
	}
	if signals.MemoryState.Enabled {
		d.register(NewMemoryStateCollector(signals.MemoryState, logger), signals.MemoryState.Interval())
	}
	if signals.Hex.Enabled {
		d.register(NewHexCollector(signals.Hex, logger), signals.Hex.Interval())
	}
	if signals.Redshift.Enabled {
		d.register(NewRedshiftCollector(signals.Redshift, logger), signals.Redshift.Interval())
	}
	return d, nil
}

func (d *Daemon) register(c Collector, interval time.Duration) {
	d.collectors = append(d.collectors, &collectorState{collector: c, interval: interval})
}

// Run ticks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Attention daemon started",
		zap.Int("collectors", len(d.collectors)),
		zap.Strings("agents", d.cfg.AgentIDs()))

	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("Attention daemon stopped")
			return nil
		}

		if d.inQuietHours(d.now()) {
			d.logger.Debug("Quiet hours, pausing")
			if !sleepInterruptible(ctx, quietSleep) {
				return nil
			}
			continue
		}

		d.tick(ctx)

		if !sleepInterruptible(ctx, tickInterval) {
			return nil
		}
	}
}

// tick runs due collectors, then scores and acts per agent.
func (d *Daemon) tick(ctx context.Context) {
	now := d.now()

	for _, cs := range d.collectors {
		if !cs.lastRun.IsZero() && now.Sub(cs.lastRun) < cs.interval {
			continue
		}
		cs.lastRun = now
		signals, err := cs.collector.Collect(ctx)
		if err != nil {
			d.logger.Warn("Collector failed",
				zap.String("collector", cs.collector.Name()), zap.Error(err))
			continue
		}
		cs.signals = signals
	}

	bundle := d.bundle(now)
	for _, agentID := range d.cfg.AgentIDs() {
		score := d.scorer.ScoreAgent(agentID, bundle)
		if len(score.Top) > 0 || len(score.Context) > 0 {
			path := filepath.Join(d.cfg.NousRoot, agentID, "PROSOCHE.md")
			if err := d.writer.Write(path, score); err != nil {
				d.logger.Warn("Attention file write failed",
					zap.String("agent", agentID), zap.Error(err))
			}
		}
		if score.ShouldWake {
			d.maybeWake(ctx, score)
		}
	}
}

// bundle joins the latest collector batches with the always-fresh
// rhythm and prediction signals.
func (d *Daemon) bundle(now time.Time) []Signal {
	var bundle []Signal
	for _, cs := range d.collectors {
		bundle = append(bundle, cs.signals...)
	}
	bundle = append(bundle, rhythmSignals(d.cfg.Rhythm, now)...)
	bundle = append(bundle, d.activity.ReadinessSignals(now)...)
	return bundle
}

// maybeWake delivers a wake if the budget allows and the signal set is
// new.
func (d *Daemon) maybeWake(ctx context.Context, score Score) {
	agentID := score.AgentID
	topSignals := make([]Signal, 0, len(score.Top))
	for _, sc := range score.Top {
		topSignals = append(topSignals, sc.Signal)
	}

	if !d.budget.CanWake(agentID) {
		d.logger.Debug("Wake suppressed by budget", zap.String("agent", agentID))
		return
	}
	if d.budget.IsDuplicate(agentID, topSignals) {
		d.logger.Debug("Wake suppressed as duplicate", zap.String("agent", agentID))
		return
	}

	if err := d.sendWake(ctx, agentID, wakeMessage(score)); err != nil {
		d.logger.Warn("Wake delivery failed", zap.String("agent", agentID), zap.Error(err))
		return
	}

	d.budget.RecordWake(agentID, topSignals)
	if err := d.activity.Observe(agentID, d.now()); err != nil {
		d.logger.Warn("Activity model update failed", zap.Error(err))
	}
	d.logger.Info("Agent woken",
		zap.String("agent", agentID),
		zap.Float64("composite", score.Composite))
}

// sendWake POSTs the wake to the gateway, mapping legacy agent ids.
func (d *Daemon) sendWake(ctx context.Context, agentID, message string) error {
	if mapped, ok := legacyAgentIDs[agentID]; ok {
		agentID = mapped
	}

	body, err := jsonx.Marshal(map[string]string{
		"agentId":    agentID,
		"message":    message,
		"sessionKey": "prosoche",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.cfg.Gateway.URL+"/api/sessions/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.Gateway.Token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: status %d", resp.StatusCode)
	}
	return nil
}

// wakeMessage summarizes the most urgent signals for the gateway.
func wakeMessage(score Score) string {
	var lines []string
	lines = append(lines, "Attention needed:")
	for _, sc := range score.Top {
		if sc.Signal.Urgency < wakeUrgency {
			continue
		}
		lines = append(lines, "- "+sc.Signal.Summary)
	}
	lines = append(lines, "Details in PROSOCHE.md.")
	return strings.Join(lines, "\n")
}

// inQuietHours is timezone-aware and handles windows that wrap
// midnight (start > end).
func (d *Daemon) inQuietHours(now time.Time) bool {
	q := d.cfg.QuietHours
	if q.Start == "" || q.End == "" {
		return false
	}
	loc := now.Location()
	if q.Timezone != "" {
		if tz, err := time.LoadLocation(q.Timezone); err == nil {
			loc = tz
		}
	}
	local := now.In(loc)

	start, okS := minutesOfDay(q.Start)
	end, okE := minutesOfDay(q.End)
	if !okS || !okE {
		return false
	}
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// minutesOfDay parses "HH:MM" into minutes since midnight.
func minutesOfDay(hhmm string) (int, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// sleepInterruptible sleeps in short quanta and reports false when ctx
// is cancelled mid-sleep.
func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		quantum := sleepQuantum
		if remaining < quantum {
			quantum = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(quantum):
		}
	}
}
