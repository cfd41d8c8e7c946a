package prosoche

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
nous_root: /srv/nous
data_dir: /srv/prosoche
nous:
  main:
    weights:
      calendar: 1.0
      tasks: 0.6
  arbor:
    weights:
      health: 0.9
signals:
  calendar:
    enabled: true
    interval_seconds: 300
    calendars:
      primary: main
    look_ahead_minutes: 90
    urgent_minutes: 20
  tasks:
    enabled: true
    project_agents:
      infra: arbor
    default_agent: main
  memory_state:
    enabled: true
    sidecar_url: http://localhost:8077
    sidecar_token: ${PROSOCHE_TEST_TOKEN}
gateway:
  url: http://localhost:9000
  token: ${PROSOCHE_TEST_TOKEN}
budget:
  max_wakes_per_nous_per_hour: 3
quiet_hours:
  start: "23:00"
  end: "07:00"
  timezone: America/Los_Angeles
rhythm:
  morning_prep: "08:30"
  evening_review: "21:00"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prosoche.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("PROSOCHE_TEST_TOKEN", "sekrit")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "sekrit", cfg.Gateway.Token)
	assert.Equal(t, "sekrit", cfg.Signals.MemoryState.SidecarToken)
	assert.Equal(t, "/srv/nous", cfg.NousRoot)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PROSOCHE_TEST_TOKEN", "")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	// Explicit value kept, untouched values defaulted.
	assert.Equal(t, 3, cfg.Budget.MaxWakesPerNousPerHour)
	assert.Equal(t, 6, cfg.Budget.MaxWakesTotalPerHour)
	assert.Equal(t, 900, cfg.Budget.CooldownAfterWakeSeconds)
	assert.Equal(t, 90, cfg.Signals.Calendar.LookAheadMinutes)
	assert.Equal(t, 20, cfg.Signals.Calendar.UrgentMinutes)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCollectorIntervalFloor(t *testing.T) {
	assert.Equal(t, time.Minute, CollectorConfig{IntervalSeconds: 5}.Interval())
	assert.Equal(t, 5*time.Minute, CollectorConfig{IntervalSeconds: 300}.Interval())
}

func TestAgentIDsSorted(t *testing.T) {
	t.Setenv("PROSOCHE_TEST_TOKEN", "")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"arbor", "main"}, cfg.AgentIDs())
}
