// Package graph wraps the Neo4j driver behind a small gateway: cached
// availability, read/write helpers with per-call timeouts, and the
// entity maintenance jobs that keep the property graph tidy. Callers
// never see driver errors; they see a degraded result and the
// availability cache is poisoned so the next 30 seconds short-circuit.
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Config carries the NEO4J_* environment settings.
type Config struct {
	URL      string
	User     string
	Password string
	Database string

	// QueryTimeout bounds individual read/write calls.
	QueryTimeout time.Duration
	// AvailabilityTTL is how long a health probe result is trusted.
	AvailabilityTTL time.Duration
}

// DefaultConfig matches the sidecar's docker-compose defaults.
func DefaultConfig() Config {
	return Config{
		URL:             "bolt://localhost:7687",
		User:            "neo4j",
		Password:        "password",
		Database:        "neo4j",
		QueryTimeout:    10 * time.Second,
		AvailabilityTTL: 30 * time.Second,
	}
}

// Statement is one parameterized Cypher statement. Write runs all its
// statements in a single transaction.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Gateway is the graph client shared by the engines.
type Gateway struct {
	cfg    Config
	driver neo4j.DriverWithContext
	logger *zap.Logger

	mu        sync.Mutex
	available bool
	checkedAt time.Time

	canonMu      sync.Mutex
	canonNames   []string
	canonFetched time.Time
}

// New connects the driver. Connectivity is not verified here; the
// availability cache handles an unreachable server.
func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = DefaultConfig().AvailabilityTTL
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	return &Gateway{
		cfg:    cfg,
		driver: driver,
		logger: logger.Named("graph"),
	}, nil
}

// Available reports whether the graph responded to a probe within the
// cache TTL. The check is double-checked under the mutex so concurrent
// callers share one probe.
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
	err := g.driver.VerifyConnectivity(probeCtx)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.available = err == nil
	g.checkedAt = time.Now()
	if err != nil {
		g.logger.Warn("Neo4j unavailable", zap.Error(err))
	}
	return g.available
}

// MarkOK refreshes the availability cache after a successful call.
func (g *Gateway) MarkOK() {
	g.mu.Lock()
	g.available = true
	g.checkedAt = time.Now()
	g.mu.Unlock()
}

// MarkDown poisons the availability cache after a failed call so
// graph-dependent endpoints degrade immediately instead of timing out
// one by one.
func (g *Gateway) MarkDown() {
	g.mu.Lock()
	g.available = false
	g.checkedAt = time.Now()
	g.mu.Unlock()
}

// Read runs one Cypher query in a read session and returns the records
// as maps keyed by the RETURN aliases.
func (g *Gateway) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.cfg.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.AsMap())
		}
		return rows, nil
	})
	if err != nil {
		g.MarkDown()
		return nil, fmt.Errorf("graph read: %w", err)
	}
	g.MarkOK()
	return out.([]map[string]any), nil
}

// Write runs the statements in order inside a single transaction.
func (g *Gateway) Write(ctx context.Context, stmts ...Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.cfg.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, stmt := range stmts {
			res, err := tx.Run(ctx, stmt.Cypher, stmt.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		g.MarkDown()
		return fmt.Errorf("graph write: %w", err)
	}
	g.MarkOK()
	return nil
}

// WriteRead runs one statement in a write transaction and returns its
// rows. Used by mutations that report counts (SET ... RETURN count).
func (g *Gateway) WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.cfg.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.AsMap())
		}
		return rows, nil
	})
	if err != nil {
		g.MarkDown()
		return nil, fmt.Errorf("graph write: %w", err)
	}
	g.MarkOK()
	return out.([]map[string]any), nil
}

// Close shuts the driver down.
func (g *Gateway) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// IsUnavailable reports whether an error smells like graph downtime
// rather than a bad query. Such failures downgrade ingest responses to
// graph_degraded instead of failing the request.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "neo4j") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "serviceunavailable")
}
