package graph

import "context"

// schemaStatements bootstrap the constraints and indexes the temporal
// engine relies on. All use IF NOT EXISTS so re-running is safe.
var schemaStatements = []string{
	`CREATE CONSTRAINT episode_id IF NOT EXISTS
	 FOR (e:Episode) REQUIRE e.id IS UNIQUE`,
	`CREATE INDEX episode_occurred IF NOT EXISTS
	 FOR (e:Episode) ON (e.occurred_at)`,
	`CREATE INDEX episode_recorded IF NOT EXISTS
	 FOR (e:Episode) ON (e.recorded_at)`,
	`CREATE INDEX fact_valid_from IF NOT EXISTS
	 FOR ()-[r:TEMPORAL_FACT]-() ON (r.valid_from)`,
	`CREATE INDEX entity_name IF NOT EXISTS
	 FOR (n:Entity) ON (n.name)`,
}

// EnsureSchema applies the schema statements one by one. Constraint
// DDL cannot share a transaction with other statements, so each runs
// alone.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	for _, cypher := range schemaStatements {
		if err := g.Write(ctx, Statement{Cypher: cypher}); err != nil {
			return err
		}
	}
	return nil
}
