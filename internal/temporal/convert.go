package temporal

import "github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

// relProps unwraps a relationship column into its property map. Fakes
// in tests hand the map directly.
func relProps(v any) map[string]any {
	switch rel := v.(type) {
	case dbtype.Relationship:
		return rel.Props
	case map[string]any:
		return rel
	default:
		return nil
	}
}

// nodeProps unwraps a node column into its property map.
func nodeProps(v any) map[string]any {
	switch node := v.(type) {
	case dbtype.Node:
		return node.Props
	case map[string]any:
		return node
	default:
		return nil
	}
}
