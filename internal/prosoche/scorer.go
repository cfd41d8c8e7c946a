package prosoche

import (
	"sort"
	"time"
)

const (
	// defaultWeight applies to sources with no configured weight.
	defaultWeight = 0.1
	// wakeUrgency is the raw-urgency floor for waking an agent.
	wakeUrgency = 0.8
	// topSignalCount bounds the attention list and the wake check.
	topSignalCount = 5
)

// ScoredSignal pairs a signal with its weighted score.
type ScoredSignal struct {
	Signal   Signal
	Weighted float64
}

// Score is one agent's view of the current bundle.
type Score struct {
	AgentID    string
	Top        []ScoredSignal
	TopScore   float64
	Average    float64
	Composite  float64
	ShouldWake bool
	Context    []ContextBlock
}

// Scorer folds a signal bundle into per-agent scores.
type Scorer struct {
	weights map[string]map[string]float64 // agent -> source -> weight
	now     func() time.Time
}

// NewScorer captures the per-agent weight tables.
func NewScorer(cfg *Config) *Scorer {
	weights := make(map[string]map[string]float64, len(cfg.Nous))
	for id, nous := range cfg.Nous {
		weights[id] = nous.Weights
	}
	return &Scorer{weights: weights, now: time.Now}
}

func (s *Scorer) weightFor(agentID, source string) float64 {
	if w, ok := s.weights[agentID][source]; ok && w > 0 {
		return w
	}
	return defaultWeight
}

// ScoreAgent filters the bundle to the agent, weights it, and decides
// whether to wake. Wake is driven by RAW urgency of the top weighted
// signals, not the weighted value: a heavily down-weighted source can
// still be genuinely urgent.
func (s *Scorer) ScoreAgent(agentID string, signals []Signal) Score {
	score := Score{AgentID: agentID}
	now := s.now()

	var relevant []ScoredSignal
	for _, sig := range signals {
		if !sig.RelevantTo(agentID) {
			continue
		}
		relevant = append(relevant, ScoredSignal{
			Signal:   sig,
			Weighted: sig.Urgency * s.weightFor(agentID, sig.Source),
		})
		for _, block := range sig.Context {
			if !block.Expired(now) {
				score.Context = append(score.Context, block)
			}
		}
	}
	if len(relevant) == 0 {
		return score
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Weighted > relevant[j].Weighted
	})

	sum := 0.0
	for _, sc := range relevant {
		sum += sc.Weighted
	}
	score.TopScore = relevant[0].Weighted
	score.Average = sum / float64(len(relevant))
	score.Composite = 0.7*score.TopScore + 0.3*score.Average

	top := relevant
	if len(top) > topSignalCount {
		top = top[:topSignalCount]
	}
	score.Top = top
	for _, sc := range top {
		if sc.Signal.Urgency >= wakeUrgency {
			score.ShouldWake = true
			break
		}
	}
	return score
}
