// Package foresight stores anticipatory signals on graph entities.
// Each signal carries an activation time, an optional expiry and a
// weight in [0,10]; the decay pass erodes expired signals until they
// disappear.
package foresight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/vocab"
)

// ErrUnavailable marks graph downtime.
var ErrUnavailable = errors.New("graph unavailable")

// ErrBadRequest marks invalid inputs.
var ErrBadRequest = errors.New("bad request")

// decayStep is subtracted from expired signals on each decay pass.
const decayStep = 0.1

// Graph is the gateway slice foresight needs.
type Graph interface {
	Available(ctx context.Context) bool
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Write(ctx context.Context, stmts ...graph.Statement) error
}

// Signal is one foresight note.
type Signal struct {
	Entity     string  `json:"entity"`
	Signal     string  `json:"signal"`
	Activation string  `json:"activation"`
	Expiry     string  `json:"expiry,omitempty"`
	Weight     float64 `json:"weight"`
}

// Store manages foresight signals.
type Store struct {
	graph  Graph
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wires the store to the graph gateway.
func NewStore(g Graph, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{graph: g, logger: logger.Named("foresight"), now: time.Now}
}

// Add attaches a signal to an entity, creating the entity if needed.
func (s *Store) Add(ctx context.Context, sig Signal) (*Signal, error) {
	if sig.Entity == "" || sig.Signal == "" {
		return nil, fmt.Errorf("%w: entity and signal required", ErrBadRequest)
	}
	if sig.Weight < 0 || sig.Weight > 10 {
		return nil, fmt.Errorf("%w: weight must be in [0,10]", ErrBadRequest)
	}
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	sig.Entity = vocab.NormalizeEntityName(sig.Entity)
	if sig.Activation == "" {
		sig.Activation = s.now().UTC().Format(time.RFC3339)
	}
	if sig.Weight == 0 {
		sig.Weight = 5
	}

	err := s.graph.Write(ctx, graph.Statement{
		Cypher: `MERGE (e:Entity {name: $entity})
			CREATE (e)-[:HAS_FORESIGHT]->(:Foresight {
				signal: $signal, activation: $activation,
				expiry: $expiry, weight: $weight, created_at: $now})`,
		Params: map[string]any{
			"entity": sig.Entity, "signal": sig.Signal,
			"activation": sig.Activation, "expiry": nullable(sig.Expiry),
			"weight": sig.Weight,
			"now":    s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, ErrUnavailable
	}
	return &sig, nil
}

// Active returns unexpired signals with positive weight, heaviest
// first.
func (s *Store) Active(ctx context.Context) ([]Signal, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	now := s.now().UTC().Format(time.RFC3339)
	rows, err := s.graph.Read(ctx, `
		MATCH (e:Entity)-[:HAS_FORESIGHT]->(f:Foresight)
		WHERE f.weight > 0
		  AND f.activation <= $now
		  AND (f.expiry IS NULL OR f.expiry > $now)
		RETURN e.name AS entity, f.signal AS signal,
		       f.activation AS activation, f.expiry AS expiry,
		       f.weight AS weight
		ORDER BY f.weight DESC LIMIT 50`,
		map[string]any{"now": now})
	if err != nil {
		return nil, ErrUnavailable
	}

	signals := make([]Signal, 0, len(rows))
	for _, row := range rows {
		sig := Signal{
			Entity:     stringOf(row["entity"]),
			Signal:     stringOf(row["signal"]),
			Activation: stringOf(row["activation"]),
			Expiry:     stringOf(row["expiry"]),
		}
		if w, ok := row["weight"].(float64); ok {
			sig.Weight = w
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// Decay erodes expired signals by decayStep and deletes the ones that
// reach zero. Returns (decayed, removed).
func (s *Store) Decay(ctx context.Context) (int64, int64, error) {
	if !s.graph.Available(ctx) {
		return 0, 0, ErrUnavailable
	}

	now := s.now().UTC().Format(time.RFC3339)
	rows, err := s.graph.WriteRead(ctx, `
		MATCH (:Entity)-[:HAS_FORESIGHT]->(f:Foresight)
		WHERE f.expiry IS NOT NULL AND f.expiry <= $now
		SET f.weight = f.weight - $step
		RETURN count(f) AS decayed`,
		map[string]any{"now": now, "step": decayStep})
	if err != nil {
		return 0, 0, ErrUnavailable
	}
	var decayed int64
	if len(rows) > 0 {
		decayed, _ = rows[0]["decayed"].(int64)
	}

	removedRows, err := s.graph.WriteRead(ctx, `
		MATCH (:Entity)-[r:HAS_FORESIGHT]->(f:Foresight)
		WHERE f.weight <= 0
		DELETE r, f
		RETURN count(f) AS removed`, nil)
	if err != nil {
		return decayed, 0, ErrUnavailable
	}
	var removed int64
	if len(removedRows) > 0 {
		removed, _ = removedRows[0]["removed"].(int64)
	}
	if decayed > 0 || removed > 0 {
		s.logger.Info("Foresight decay pass",
			zap.Int64("decayed", decayed),
			zap.Int64("removed", removed))
	}
	return decayed, removed, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
