package prosoche

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

const (
	// minObservedDays is how many distinct days of activity an agent
	// needs before predictions are trusted.
	minObservedDays = 21
	// peakFraction marks an hour as a peak when its count reaches this
	// fraction of the agent's busiest hour.
	peakFraction = 0.7
	// readinessWindow is how close to a predicted peak the readiness
	// signal fires.
	readinessWindow  = 15 * time.Minute
	readinessUrgency = 0.3
)

// ActivityModel learns when each agent tends to be active, keyed by
// (day-of-week, hour), and emits readiness signals near predicted
// peaks. Persisted as JSON under the daemon data dir.
type ActivityModel struct {
	mu   sync.Mutex
	path string
	now  func() time.Time

	// Observations maps agent -> "dow:hour" -> count.
	Observations map[string]map[string]int `json:"observations"`
	// TotalDays maps agent -> distinct days with any observation.
	TotalDays map[string]int `json:"total_days"`
	UpdatedAt string         `json:"updated_at"`

	// lastDay tracks the last observed day per agent so TotalDays only
	// counts distinct days. Rebuilt lazily, not persisted.
	lastDay map[string]string
}

// NewActivityModel loads the model from dataDir, starting empty when
// no file exists yet.
func NewActivityModel(dataDir string) (*ActivityModel, error) {
	m := &ActivityModel{
		path:         filepath.Join(dataDir, "activity_model.json"),
		now:          time.Now,
		Observations: map[string]map[string]int{},
		TotalDays:    map[string]int{},
		lastDay:      map[string]string{},
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read activity model: %w", err)
	}
	if err := jsonx.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse activity model: %w", err)
	}
	if m.Observations == nil {
		m.Observations = map[string]map[string]int{}
	}
	if m.TotalDays == nil {
		m.TotalDays = map[string]int{}
	}
	return m, nil
}

// Observe records agent activity at t and persists the model.
func (m *ActivityModel) Observe(agentID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := slotKey(t)
	if m.Observations[agentID] == nil {
		m.Observations[agentID] = map[string]int{}
	}
	m.Observations[agentID][slot]++

	day := t.Format("2006-01-02")
	if m.lastDay[agentID] != day {
		m.lastDay[agentID] = day
		m.TotalDays[agentID]++
	}
	m.UpdatedAt = m.now().UTC().Format(time.RFC3339)
	return m.save()
}

// ReadinessSignals emits an urgency-0.3 signal for each agent within
// 15 minutes of one of its predicted peak hours. Agents with fewer
// than 21 observed days stay silent.
func (m *ActivityModel) ReadinessSignals(now time.Time) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var signals []Signal
	for agentID, counts := range m.Observations {
		if m.TotalDays[agentID] < minObservedDays {
			continue
		}
		peak, ok := m.nearPeak(counts, now)
		if !ok {
			continue
		}
		signals = append(signals, Signal{
			Source:       "prediction",
			Summary:      fmt.Sprintf("Usually active around %02d:00; good moment to surface pending work", peak),
			Urgency:      readinessUrgency,
			RelevantNous: []string{agentID},
			Timestamp:    now,
		})
	}
	return signals
}

// nearPeak reports whether now is within the readiness window of a
// peak hour for today's day of week, and which hour that is.
func (m *ActivityModel) nearPeak(counts map[string]int, now time.Time) (int, bool) {
	dow := int(now.Weekday())
	max := 0
	for hour := 0; hour < 24; hour++ {
		if n := counts[fmt.Sprintf("%d:%d", dow, hour)]; n > max {
			max = n
		}
	}
	if max == 0 {
		return 0, false
	}
	threshold := peakFraction * float64(max)

	for hour := 0; hour < 24; hour++ {
		if float64(counts[fmt.Sprintf("%d:%d", dow, hour)]) < threshold {
			continue
		}
		peakAt := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
		diff := now.Sub(peakAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= readinessWindow {
			return hour, true
		}
	}
	return 0, false
}

func (m *ActivityModel) save() error {
	data, err := jsonx.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".activity-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// slotKey buckets a timestamp into the model's (dow, hour) key.
func slotKey(t time.Time) string {
	return fmt.Sprintf("%d:%d", int(t.Weekday()), t.Hour())
}
