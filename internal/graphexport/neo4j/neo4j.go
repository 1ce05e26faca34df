// Package neo4j projects a materialized WarpState's node/edge adjacency
// into a Neo4j database via MERGE statements, using the neo4j-go-driver/v5
// client: a connection pool tuned driver wrapper plus ExecuteQuery-based
// query helpers.
package neo4j

import (
	"context"
	"fmt"
	"sort"
	"time"

	neo4jdriver "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/git-stunts/git-warp/internal/keycodec"
	"github.com/git-stunts/git-warp/internal/logging"
	"github.com/git-stunts/git-warp/internal/reducer"
)

// Exporter projects WarpState snapshots into a Neo4j database. It holds no
// graph-shaped state of its own; every Export call derives the adjacency
// view fresh from the state it's given.
type Exporter struct {
	driver   neo4jdriver.DriverWithContext
	database string
}

// Open connects to uri and verifies connectivity before returning, so
// callers fail fast rather than discovering a bad connection on first use.
func Open(ctx context.Context, uri, user, password, database string) (*Exporter, error) {
	driver, err := neo4jdriver.NewDriverWithContext(uri,
		neo4jdriver.BasicAuth(user, password, ""),
		func(cfg *neo4jdriver.Config) {
			cfg.MaxConnectionPoolSize = 50
			cfg.ConnectionAcquisitionTimeout = 60 * time.Second
			cfg.MaxConnectionLifetime = time.Hour
			cfg.SocketConnectTimeout = 5 * time.Second
		})
	if err != nil {
		return nil, fmt.Errorf("graphexport: create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graphexport: connect to neo4j at %s: %w", uri, err)
	}
	if database == "" {
		database = "neo4j"
	}
	logging.Info("neo4j exporter connected", "uri", uri, "database", database)
	return &Exporter{driver: driver, database: database}, nil
}

// Close releases the driver's connection pool.
func (e *Exporter) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// nodeProps collects the live node-property registers of state, grouped by
// node ID, for merging onto exported :WarpNode nodes.
func nodeProps(state *reducer.WarpState) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for key, reg := range state.Prop {
		nodeID, propKey, ok := keycodec.SplitNodePropKey(key)
		if !ok || reg.Value == nil {
			continue
		}
		props, exists := out[nodeID]
		if !exists {
			props = make(map[string]interface{})
			out[nodeID] = props
		}
		props[propKey] = reg.Value
	}
	return out
}

// edgeProps collects the live edge-property registers of state, grouped by
// the edge's composite key, for merging onto exported edges.
func edgeProps(state *reducer.WarpState) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for key, reg := range state.Prop {
		from, to, label, propKey, ok := keycodec.SplitEdgePropKey(key)
		if !ok || reg.Value == nil {
			continue
		}
		edgeKey := keycodec.EdgeKey(from, to, label)
		props, exists := out[edgeKey]
		if !exists {
			props = make(map[string]interface{})
			out[edgeKey] = props
		}
		props[propKey] = reg.Value
	}
	return out
}

// Export MERGEs every live node and edge in state into the database as
// :WarpNode vertices and typed relationships, keyed by the git-warp node ID
// so repeated exports of the same graph converge rather than duplicate.
func (e *Exporter) Export(ctx context.Context, graph string, state *reducer.WarpState) (nodeCount, edgeCount int, err error) {
	nodes := state.NodeAlive.Elements()
	sort.Strings(nodes)
	props := nodeProps(state)

	for _, nodeID := range nodes {
		_, execErr := neo4jdriver.ExecuteQuery(ctx, e.driver,
			`MERGE (n:WarpNode {graph: $graph, id: $id}) SET n += $props`,
			map[string]any{"graph": graph, "id": nodeID, "props": props[nodeID]},
			neo4jdriver.EagerResultTransformer,
			neo4jdriver.ExecuteQueryWithDatabase(e.database))
		if execErr != nil {
			return nodeCount, edgeCount, fmt.Errorf("graphexport: merge node %s: %w", nodeID, execErr)
		}
		nodeCount++
	}

	edges := state.EdgeAlive.Elements()
	sort.Strings(edges)
	eprops := edgeProps(state)

	for _, key := range edges {
		from, to, label, ok := keycodec.SplitEdgeKey(key)
		if !ok {
			continue
		}
		query := fmt.Sprintf(`
			MATCH (a:WarpNode {graph: $graph, id: $from})
			MATCH (b:WarpNode {graph: $graph, id: $to})
			MERGE (a)-[r:%s]->(b)
			SET r += $props
		`, cypherRelType(label))
		_, execErr := neo4jdriver.ExecuteQuery(ctx, e.driver, query,
			map[string]any{"graph": graph, "from": from, "to": to, "props": eprops[key]},
			neo4jdriver.EagerResultTransformer,
			neo4jdriver.ExecuteQueryWithDatabase(e.database))
		if execErr != nil {
			return nodeCount, edgeCount, fmt.Errorf("graphexport: merge edge %s->%s: %w", from, to, execErr)
		}
		edgeCount++
	}

	logging.Info("graph exported to neo4j", "graph", graph, "nodes", nodeCount, "edges", edgeCount)
	return nodeCount, edgeCount, nil
}

// cypherRelType sanitizes an edge label into a valid unquoted Cypher
// relationship type: letters, digits, and underscores only, uppercased by
// convention. Labels that would otherwise collide after sanitizing still
// produce a valid (if coarser) type rather than a query that fails to parse.
func cypherRelType(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 || (out[0] >= '0' && out[0] <= '9') {
		out = append([]rune{'R', '_'}, out...)
	}
	return string(out)
}
