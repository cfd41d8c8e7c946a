package prosoche

import (
	"strconv"
	"strings"
	"time"
)

const (
	// rhythmWindow is how long a check-in signal stays live after its
	// configured time.
	rhythmWindow   = 30 * time.Minute
	rhythmUrgency  = 0.45
	morningUrgency = 0.55
)

// rhythmSignals emits preset check-in signals when now falls inside
// the window after a configured daily time. Times are local "HH:MM".
func rhythmSignals(cfg RhythmConfig, now time.Time) []Signal {
	var signals []Signal

	presets := []struct {
		at      string
		summary string
		urgency float64
	}{
		{cfg.MorningPrep, "Morning prep: review the day's calendar and priorities", morningUrgency},
		{cfg.MiddayCheck, "Midday check-in: reassess in-flight work", rhythmUrgency},
		{cfg.EveningReview, "Evening review: close the loop on today", rhythmUrgency},
	}

	for _, p := range presets {
		if p.at == "" {
			continue
		}
		at, ok := timeOfDay(p.at, now)
		if !ok {
			continue
		}
		since := now.Sub(at)
		if since < 0 || since > rhythmWindow {
			continue
		}
		signals = append(signals, Signal{
			Source:    "rhythm",
			Summary:   p.summary,
			Urgency:   p.urgency,
			Timestamp: now,
		})
	}
	return signals
}

// timeOfDay anchors an "HH:MM" string to today in now's location.
func timeOfDay(hhmm string, now time.Time) (time.Time, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()), true
}
