package prosoche

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

const (
	overdueUrgency  = 0.9
	dueTodayUrgency = 0.6
	highPriUrgency  = 0.4
	// highPriCap bounds the priority:H list so a long backlog does not
	// flood the bundle.
	highPriCap = 5
)

// TasksCollector shells out to taskwarrior for overdue, due-today and
// high-priority pending tasks.
type TasksCollector struct {
	cfg    TasksConfig
	run    runner
	logger *zap.Logger
}

// NewTasksCollector wires the task tool.
func NewTasksCollector(cfg TasksConfig, logger *zap.Logger) *TasksCollector {
	return &TasksCollector{cfg: cfg, run: runCommand, logger: logger.Named("tasks")}
}

func (c *TasksCollector) Name() string { return "tasks" }

type taskExport struct {
	Description string `json:"description"`
	Project     string `json:"project"`
}

// Collect runs the three filters in urgency order.
func (c *TasksCollector) Collect(ctx context.Context) ([]Signal, error) {
	var signals []Signal
	now := time.Now()

	queries := []struct {
		filter  []string
		urgency float64
		label   string
		cap     int
	}{
		{[]string{"status:pending", "+OVERDUE"}, overdueUrgency, "overdue", 0},
		{[]string{"status:pending", "due:today"}, dueTodayUrgency, "due today", 0},
		{[]string{"status:pending", "priority:H"}, highPriUrgency, "high priority", highPriCap},
	}

	for _, q := range queries {
		args := append(q.filter, "export")
		out, err := c.run(ctx, "task", args...)
		if err != nil {
			c.logger.Warn("task invocation failed", zap.Strings("filter", q.filter), zap.Error(err))
			continue
		}
		var tasks []taskExport
		if err := jsonx.UnmarshalFromString(out, &tasks); err != nil {
			c.logger.Warn("task export unparseable", zap.Error(err))
			continue
		}
		if q.cap > 0 && len(tasks) > q.cap {
			tasks = tasks[:q.cap]
		}
		for _, task := range tasks {
			signals = append(signals, Signal{
				Source:       "tasks",
				Summary:      "Task " + q.label + ": " + task.Description,
				Urgency:      q.urgency,
				RelevantNous: []string{c.routeAgent(task.Project)},
				Timestamp:    now,
			})
		}
	}
	return signals, nil
}

// routeAgent maps a task project to its agent: exact match, then
// prefix match, then the default.
func (c *TasksCollector) routeAgent(project string) string {
	if agent, ok := c.cfg.ProjectAgents[project]; ok {
		return agent
	}
	for prefix, agent := range c.cfg.ProjectAgents {
		if strings.HasPrefix(project, prefix+".") {
			return agent
		}
	}
	return c.cfg.DefaultAgent
}
