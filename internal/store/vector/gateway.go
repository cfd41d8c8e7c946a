// Package vector wraps the Qdrant gRPC client behind the gateway the
// memory engines use: collection bootstrap, filtered search and
// scroll, and the same 30-second availability cache the graph gateway
// carries so a dead index degrades fast instead of timing out per
// request.
package vector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// Config carries the QDRANT_* environment settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	Dimension  int

	Timeout         time.Duration
	AvailabilityTTL time.Duration
}

// DefaultConfig matches the sidecar defaults: local Qdrant, the shared
// memory collection, 384-dim vectors (overridden to 1024 when Voyage
// is active).
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            6334,
		Collection:      "aletheia_memories",
		Dimension:       384,
		Timeout:         10 * time.Second,
		AvailabilityTTL: 30 * time.Second,
	}
}

// Point is one memory vector plus payload headed for the index.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is a point coming back from search, scroll or retrieve. Score is
// zero for non-search reads.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter narrows reads to an owner. Empty fields are ignored. AgentID
// filtering is inclusive: shared memories (no agent_id payload) always
// match.
type Filter struct {
	UserID  string
	AgentID string
	Hash    string
}

// Gateway is the vector index client.
type Gateway struct {
	cfg    Config
	client *qdrant.Client
	logger *zap.Logger

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

// New connects the gRPC client.
func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = def.AvailabilityTTL
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &Gateway{
		cfg:    cfg,
		client: client,
		logger: logger.Named("vector"),
	}, nil
}

// Collection returns the configured collection name.
func (g *Gateway) Collection() string { return g.cfg.Collection }

// Dimension returns the configured vector dimension.
func (g *Gateway) Dimension() int { return g.cfg.Dimension }

// EnsureCollection creates the memory collection when absent.
func (g *Gateway) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	exists, err := g.client.CollectionExists(ctx, g.cfg.Collection)
	if err != nil {
		g.MarkDown()
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		g.MarkOK()
		return nil
	}

	err = g.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: g.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(g.cfg.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		g.MarkDown()
		return fmt.Errorf("create collection: %w", err)
	}
	g.MarkOK()
	g.logger.Info("Created collection",
		zap.String("collection", g.cfg.Collection),
		zap.Int("dimension", g.cfg.Dimension))
	return nil
}

// Available probes the server, caching the result for the TTL.
func (g *Gateway) Available(ctx context.Context) bool {
	g.mu.Lock()
	if time.Since(g.checkedAt) < g.cfg.AvailabilityTTL {
		ok := g.available
		g.mu.Unlock()
		return ok
	}
	g.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := g.client.HealthCheck(probeCtx)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.available = err == nil
	g.checkedAt = time.Now()
	if err != nil {
		g.logger.Warn("Qdrant unavailable", zap.Error(err))
	}
	return g.available
}

// MarkOK refreshes the availability cache.
func (g *Gateway) MarkOK() {
	g.mu.Lock()
	g.available = true
	g.checkedAt = time.Now()
	g.mu.Unlock()
}

// MarkDown poisons the availability cache.
func (g *Gateway) MarkDown() {
	g.mu.Lock()
	g.available = false
	g.checkedAt = time.Now()
	g.mu.Unlock()
}

// Upsert writes points, waiting for the commit.
func (g *Gateway) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := g.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: g.cfg.Collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		g.MarkDown()
		return fmt.Errorf("upsert points: %w", err)
	}
	g.MarkOK()
	return nil
}

// Search runs a cosine similarity query under the filter.
func (g *Gateway) Search(ctx context.Context, vec []float32, f Filter, limit int) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	scored, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: g.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         f.toQdrant(),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		g.MarkDown()
		return nil, fmt.Errorf("vector search: %w", err)
	}
	g.MarkOK()

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		hits = append(hits, Hit{
			ID:      pointID(sp.GetId()),
			Score:   sp.GetScore(),
			Payload: payloadToMap(sp.GetPayload()),
		})
	}
	return hits, nil
}

// Scroll pages through points under the filter, payload only.
func (g *Gateway) Scroll(ctx context.Context, f Filter, limit int) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	points, err := g.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: g.cfg.Collection,
		Filter:         f.toQdrant(),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		g.MarkDown()
		return nil, fmt.Errorf("vector scroll: %w", err)
	}
	g.MarkOK()

	hits := make([]Hit, 0, len(points))
	for _, rp := range points {
		hits = append(hits, Hit{
			ID:      pointID(rp.GetId()),
			Payload: payloadToMap(rp.GetPayload()),
		})
	}
	return hits, nil
}

// Retrieve fetches specific points by id.
func (g *Gateway) Retrieve(ctx context.Context, ids []string) ([]Hit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, qdrant.NewID(id))
	}

	points, err := g.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: g.cfg.Collection,
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		g.MarkDown()
		return nil, fmt.Errorf("vector retrieve: %w", err)
	}
	g.MarkOK()

	hits := make([]Hit, 0, len(points))
	for _, rp := range points {
		hits = append(hits, Hit{
			ID:      pointID(rp.GetId()),
			Payload: payloadToMap(rp.GetPayload()),
		})
	}
	return hits, nil
}

// Delete removes points by id, waiting for the commit.
func (g *Gateway) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, qdrant.NewID(id))
	}

	_, err := g.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: g.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pids...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		g.MarkDown()
		return fmt.Errorf("vector delete: %w", err)
	}
	g.MarkOK()
	return nil
}

// Count returns the exact number of points under the filter.
func (g *Gateway) Count(ctx context.Context, f Filter) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	count, err := g.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: g.cfg.Collection,
		Filter:         f.toQdrant(),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		g.MarkDown()
		return 0, fmt.Errorf("vector count: %w", err)
	}
	g.MarkOK()
	return count, nil
}

// SetPayload patches payload fields on one point.
func (g *Gateway) SetPayload(ctx context.Context, id string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	_, err := g.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: g.cfg.Collection,
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(id)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		g.MarkDown()
		return fmt.Errorf("set payload: %w", err)
	}
	g.MarkOK()
	return nil
}

// Close shuts the gRPC connection down.
func (g *Gateway) Close() error {
	return g.client.Close()
}

func (f Filter) toQdrant() *qdrant.Filter {
	var must []*qdrant.Condition
	if f.UserID != "" {
		must = append(must, qdrant.NewMatch("user_id", f.UserID))
	}
	if f.Hash != "" {
		must = append(must, qdrant.NewMatch("content_hash", f.Hash))
	}
	var should []*qdrant.Condition
	if f.AgentID != "" {
		// Shared memories carry no agent_id and are visible to every
		// agent of the user.
		should = append(should,
			qdrant.NewMatch("agent_id", f.AgentID),
			qdrant.NewIsEmpty("agent_id"),
		)
	}
	if len(must) == 0 && len(should) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, Should: should}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// payloadToMap converts the protobuf payload into plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, valueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
