// Package prosoche is the attention daemon: it collects signals about
// the world, scores them per agent, maintains the PROSOCHE.md attention
// file, and wakes agents through the gateway when something urgent
// clears the wake budget.
package prosoche

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's YAML configuration. String values support
// ${VAR} environment expansion.
type Config struct {
	NousRoot string `yaml:"nous_root"`
	DataDir  string `yaml:"data_dir"`

	// Nous maps agent id to per-agent settings.
	Nous map[string]NousConfig `yaml:"nous"`

	Signals    SignalsConfig    `yaml:"signals"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Budget     BudgetConfig     `yaml:"budget"`
	QuietHours QuietHoursConfig `yaml:"quiet_hours"`
	Rhythm     RhythmConfig     `yaml:"rhythm"`
}

// NousConfig tunes one agent.
type NousConfig struct {
	// Weights maps signal source to its scoring weight; missing
	// sources fall back to defaultWeight.
	Weights map[string]float64 `yaml:"weights"`
}

// CollectorConfig is the shared per-collector gate.
type CollectorConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// Interval returns the collector cadence with a floor of one minute.
func (c CollectorConfig) Interval() time.Duration {
	if c.IntervalSeconds < 60 {
		return time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SignalsConfig holds every collector's settings.
type SignalsConfig struct {
	Calendar    CalendarConfig    `yaml:"calendar"`
	Tasks       TasksConfig       `yaml:"tasks"`
	Health      HealthConfig      `yaml:"health"`
	MemoryState MemoryStateConfig `yaml:"memory_state"`
	Hex         HexConfig         `yaml:"hex"`
	Redshift    RedshiftConfig    `yaml:"redshift"`
}

// CalendarConfig drives the gcal collector.
type CalendarConfig struct {
	CollectorConfig `yaml:",inline"`
	// Calendars maps calendar id to the agent it routes to.
	Calendars        map[string]string `yaml:"calendars"`
	LookAheadMinutes int               `yaml:"look_ahead_minutes"`
	UrgentMinutes    int               `yaml:"urgent_minutes"`
}

// TasksConfig drives the taskwarrior collector.
type TasksConfig struct {
	CollectorConfig `yaml:",inline"`
	// ProjectAgents maps task project to agent id.
	ProjectAgents map[string]string `yaml:"project_agents"`
	DefaultAgent  string            `yaml:"default_agent"`
}

// HealthConfig drives the host-health collector.
type HealthConfig struct {
	CollectorConfig `yaml:",inline"`
	Services        []string `yaml:"services"`
	Containers      []string `yaml:"containers"`
	DiskMounts      []string `yaml:"disk_mounts"`
}

// MemoryStateConfig drives the sidecar poller.
type MemoryStateConfig struct {
	CollectorConfig `yaml:",inline"`
	SidecarURL      string `yaml:"sidecar_url"`
	SidecarToken    string `yaml:"sidecar_token"`
}

// HexConfig drives the Hex project-runs poller.
type HexConfig struct {
	CollectorConfig `yaml:",inline"`
	APIURL          string   `yaml:"api_url"`
	APIToken        string   `yaml:"api_token"`
	ProjectIDs      []string `yaml:"project_ids"`
	Agent           string   `yaml:"agent"`
}

// RedshiftConfig drives the redshift-data poller.
type RedshiftConfig struct {
	CollectorConfig `yaml:",inline"`
	Agent           string `yaml:"agent"`
}

// GatewayConfig is where wakes are delivered.
type GatewayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// BudgetConfig bounds wake frequency.
type BudgetConfig struct {
	MaxWakesPerNousPerHour   int `yaml:"max_wakes_per_nous_per_hour"`
	MaxWakesTotalPerHour     int `yaml:"max_wakes_total_per_hour"`
	CooldownAfterWakeSeconds int `yaml:"cooldown_after_wake_seconds"`
}

// QuietHoursConfig silences the daemon overnight. Start and End are
// "HH:MM"; a window crossing midnight wraps.
type QuietHoursConfig struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"`
}

// RhythmConfig sets the fixed daily check-in times ("HH:MM").
type RhythmConfig struct {
	MorningPrep   string `yaml:"morning_prep"`
	MiddayCheck   string `yaml:"midday_check"`
	EveningReview string `yaml:"evening_review"`
}

// LoadConfig reads and env-expands the YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Budget: BudgetConfig{
			MaxWakesPerNousPerHour:   2,
			MaxWakesTotalPerHour:     6,
			CooldownAfterWakeSeconds: 900,
		},
		Signals: SignalsConfig{
			Calendar: CalendarConfig{
				LookAheadMinutes: 120,
				UrgentMinutes:    30,
			},
		},
	}
}

func (c *Config) applyDefaults() {
	if c.NousRoot == "" {
		c.NousRoot = os.ExpandEnv("$HOME/nous")
	}
	if c.DataDir == "" {
		c.DataDir = os.ExpandEnv("$HOME/.prosoche")
	}
	if c.Signals.Calendar.LookAheadMinutes <= 0 {
		c.Signals.Calendar.LookAheadMinutes = 120
	}
	if c.Signals.Calendar.UrgentMinutes <= 0 {
		c.Signals.Calendar.UrgentMinutes = 30
	}
	if c.Budget.MaxWakesPerNousPerHour <= 0 {
		c.Budget.MaxWakesPerNousPerHour = 2
	}
	if c.Budget.MaxWakesTotalPerHour <= 0 {
		c.Budget.MaxWakesTotalPerHour = 6
	}
	if c.Budget.CooldownAfterWakeSeconds <= 0 {
		c.Budget.CooldownAfterWakeSeconds = 900
	}
}

// AgentIDs returns the configured agents in stable order.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Nous))
	for id := range c.Nous {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
