package prosoche

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityModelPersistence(t *testing.T) {
	dir := t.TempDir()

	m, err := NewActivityModel(dir)
	require.NoError(t, err)

	at := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC) // Wednesday
	require.NoError(t, m.Observe("main", at))
	require.NoError(t, m.Observe("main", at.Add(5*time.Minute)))

	reloaded, err := NewActivityModel(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Observations["main"]["3:14"])
	assert.Equal(t, 1, reloaded.TotalDays["main"])
	assert.NotEmpty(t, reloaded.UpdatedAt)

	data, err := os.ReadFile(filepath.Join(dir, "activity_model.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"observations"`)
	assert.Contains(t, string(data), `"total_days"`)
	assert.Contains(t, string(data), `"updated_at"`)
}

func TestActivityModelDistinctDays(t *testing.T) {
	m, err := NewActivityModel(t.TempDir())
	require.NoError(t, err)

	day1 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.Observe("main", day1))
	require.NoError(t, m.Observe("main", day1.Add(2*time.Hour)))
	require.NoError(t, m.Observe("main", day1.Add(24*time.Hour)))

	assert.Equal(t, 2, m.TotalDays["main"])
}

func TestReadinessRequiresEnoughDays(t *testing.T) {
	m, err := NewActivityModel(t.TempDir())
	require.NoError(t, err)

	at := time.Date(2026, 8, 26, 14, 5, 0, 0, time.UTC)
	require.NoError(t, m.Observe("main", at))
	m.TotalDays["main"] = minObservedDays - 1

	assert.Empty(t, m.ReadinessSignals(at), "below the observation floor")

	m.TotalDays["main"] = minObservedDays
	signals := m.ReadinessSignals(at)
	require.Len(t, signals, 1)
	assert.Equal(t, "prediction", signals[0].Source)
	assert.InDelta(t, readinessUrgency, signals[0].Urgency, 1e-9)
	assert.Equal(t, []string{"main"}, signals[0].RelevantNous)
}

func TestReadinessWindowAndPeakThreshold(t *testing.T) {
	m, err := NewActivityModel(t.TempDir())
	require.NoError(t, err)
	m.TotalDays["main"] = minObservedDays
	// Wednesday: 14:00 is the peak (10), 9:00 is below 0.7·max (5).
	m.Observations["main"] = map[string]int{"3:14": 10, "3:9": 5}

	wed := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 26, hour, minute, 0, 0, time.UTC)
	}

	assert.Len(t, m.ReadinessSignals(wed(14, 10)), 1, "inside the window")
	assert.Empty(t, m.ReadinessSignals(wed(14, 20)), "outside the window")
	assert.Empty(t, m.ReadinessSignals(wed(9, 5)), "below the peak threshold")
	// Thursday has no observations at all.
	thu := time.Date(2026, 8, 27, 14, 5, 0, 0, time.UTC)
	assert.Empty(t, m.ReadinessSignals(thu))
}
