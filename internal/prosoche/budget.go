package prosoche

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// fingerprintTTL suppresses repeat wakes carrying the same signal set.
const fingerprintTTL = 8 * time.Hour

// rateWindow is the sliding window for both rate limits.
const rateWindow = time.Hour

// Budget rate-limits wakes. It is written only by the daemon loop;
// the expirable LRU handles fingerprint expiry on its own.
type Budget struct {
	cfg BudgetConfig

	perAgent map[string][]time.Time
	global   []time.Time
	lastWake map[string]time.Time

	fingerprints *lru.LRU[string, struct{}]
	now          func() time.Time
}

// NewBudget builds the three windows and the fingerprint cache.
func NewBudget(cfg BudgetConfig) *Budget {
	return &Budget{
		cfg:          cfg,
		perAgent:     make(map[string][]time.Time),
		lastWake:     make(map[string]time.Time),
		fingerprints: lru.NewLRU[string, struct{}](1024, nil, fingerprintTTL),
		now:          time.Now,
	}
}

// CanWake checks all three limits: per-agent rate, global rate, and
// the per-agent cooldown.
func (b *Budget) CanWake(agentID string) bool {
	now := b.now()
	b.perAgent[agentID] = prune(b.perAgent[agentID], now)
	b.global = prune(b.global, now)

	if len(b.perAgent[agentID]) >= b.cfg.MaxWakesPerNousPerHour {
		return false
	}
	if len(b.global) >= b.cfg.MaxWakesTotalPerHour {
		return false
	}
	if last, ok := b.lastWake[agentID]; ok {
		cooldown := time.Duration(b.cfg.CooldownAfterWakeSeconds) * time.Second
		if now.Sub(last) < cooldown {
			return false
		}
	}
	return true
}

// IsDuplicate reports whether this agent already got woken for the
// same signal set within the fingerprint window.
func (b *Budget) IsDuplicate(agentID string, signals []Signal) bool {
	_, seen := b.fingerprints.Get(fingerprint(agentID, signals))
	return seen
}

// RecordWake appends to the windows and stores the fingerprint.
func (b *Budget) RecordWake(agentID string, signals []Signal) {
	now := b.now()
	b.perAgent[agentID] = append(b.perAgent[agentID], now)
	b.global = append(b.global, now)
	b.lastWake[agentID] = now
	b.fingerprints.Add(fingerprint(agentID, signals), struct{}{})
}

// fingerprint is the MD5 of the agent id plus the sorted signal
// summaries, so ordering differences do not defeat dedup.
func fingerprint(agentID string, signals []Signal) string {
	summaries := make([]string, 0, len(signals))
	for _, s := range signals {
		summaries = append(summaries, s.Summary)
	}
	sort.Strings(summaries)
	sum := md5.Sum([]byte(agentID + "|" + strings.Join(summaries, "|")))
	return hex.EncodeToString(sum[:])
}

func prune(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
