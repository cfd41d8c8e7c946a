package prosoche

import (
	"context"
	"time"
)

// Signal is one observation worth the daemon's attention.
type Signal struct {
	// Source names the collector ("calendar", "tasks", ...). Scoring
	// weights key on it.
	Source  string
	Summary string
	// Urgency is raw, 0.0-1.0.
	Urgency float64
	// RelevantNous lists the agent ids this signal concerns; empty
	// means everyone.
	RelevantNous []string
	Timestamp    time.Time
	// Context stages zero or more blocks into PROSOCHE.md.
	Context []ContextBlock
}

// ContextBlock is a titled chunk staged for an agent to read on wake.
type ContextBlock struct {
	Title   string
	Content string
	Source  string
	// ExpiresAt drops the block after this instant; zero means never.
	ExpiresAt time.Time
}

// Expired reports whether the block is past its expiry.
func (b *ContextBlock) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// RelevantTo reports whether the signal concerns the agent.
func (s *Signal) RelevantTo(agentID string) bool {
	if len(s.RelevantNous) == 0 {
		return true
	}
	for _, id := range s.RelevantNous {
		if id == agentID {
			return true
		}
	}
	return false
}

// Collector is one signal source. Collect failures are local: the
// daemon logs and moves on.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]Signal, error)
}
