package prosoche

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

// pastEventGrace keeps signals for events that just started.
const pastEventGrace = -15 * time.Minute

// CalendarCollector shells out to the gcal tool for a one-day
// look-ahead per configured calendar.
type CalendarCollector struct {
	cfg    CalendarConfig
	run    runner
	logger *zap.Logger
	now    func() time.Time
}

// NewCalendarCollector wires the gcal tool.
func NewCalendarCollector(cfg CalendarConfig, logger *zap.Logger) *CalendarCollector {
	return &CalendarCollector{cfg: cfg, run: runCommand, logger: logger.Named("calendar"), now: time.Now}
}

func (c *CalendarCollector) Name() string { return "calendar" }

type calendarEvent struct {
	Start   string `json:"start"`
	Summary string `json:"summary"`
}

// Collect gathers upcoming events and maps proximity to urgency.
func (c *CalendarCollector) Collect(ctx context.Context) ([]Signal, error) {
	var signals []Signal
	now := c.now()
	lookAhead := time.Duration(c.cfg.LookAheadMinutes) * time.Minute
	urgent := time.Duration(c.cfg.UrgentMinutes) * time.Minute

	for calendarID, agent := range c.cfg.Calendars {
		out, err := c.run(ctx, "gcal", "events", "-c", calendarID, "-d", "1")
		if err != nil {
			c.logger.Warn("gcal invocation failed", zap.String("calendar", calendarID), zap.Error(err))
			continue
		}
		for _, event := range parseCalendarOutput(out) {
			start, err := time.Parse(time.RFC3339, event.Start)
			if err != nil {
				continue
			}
			until := start.Sub(now)
			if until < pastEventGrace || until > lookAhead {
				continue
			}

			var urgency float64
			if until <= urgent {
				urgency = 0.7 + (urgent-until).Minutes()/urgent.Minutes()*0.3
			} else {
				urgency = 0.3 + (lookAhead-until).Minutes()/lookAhead.Minutes()*0.3
			}

			var relevant []string
			if agent != "" {
				relevant = []string{agent}
			}
			signals = append(signals, Signal{
				Source:       "calendar",
				Summary:      fmt.Sprintf("%s at %s", event.Summary, start.Local().Format("15:04")),
				Urgency:      urgency,
				RelevantNous: relevant,
				Timestamp:    now,
			})
		}
	}
	return signals, nil
}

// parseCalendarOutput accepts either the JSON array form or the older
// pipe-delimited "start|summary" lines.
func parseCalendarOutput(out string) []calendarEvent {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}

	if strings.HasPrefix(out, "[") {
		var events []calendarEvent
		if err := jsonx.UnmarshalFromString(out, &events); err == nil {
			return events
		}
	}

	var events []calendarEvent
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 2)
		if len(parts) != 2 {
			continue
		}
		events = append(events, calendarEvent{Start: parts[0], Summary: parts[1]})
	}
	return events
}
