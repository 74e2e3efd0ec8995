package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphDriver executes Cypher against a graph database.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error)
	// BuildIndices creates the constraints and indexes the index backend
	// relies on. It is safe to call repeatedly.
	BuildIndices(ctx context.Context) error
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Neo4jDriver implements GraphDriver for Neo4j and Bolt compatible servers.
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver creates a new Neo4j driver instance. No connection is made
// until the first query or VerifyConnectivity.
func NewNeo4jDriver(uri, username, password, database string) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	return &Neo4jDriver{
		client:   client,
		database: database,
	}, nil
}

// ExecuteQuery runs query in an auto-committed transaction and collects the
// full result.
func (n *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.client, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

// BuildIndices creates the document id constraint and lookup indexes.
func (n *Neo4jDriver) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE",
		"CREATE INDEX document_kind IF NOT EXISTS FOR (d:Document) ON (d.kind)",
		"CREATE INDEX document_repo IF NOT EXISTS FOR (d:Document) ON (d.repo)",
		"CREATE FULLTEXT INDEX document_label IF NOT EXISTS FOR (d:Document) ON EACH [d.label, d.uris_text]",
	}
	for _, q := range queries {
		if _, err := n.ExecuteQuery(ctx, q, nil); err != nil {
			return fmt.Errorf("build indices: %w", err)
		}
	}
	slog.DebugContext(ctx, "graph indices ready", "database", n.database)
	return nil
}

// VerifyConnectivity checks if the driver can connect to the database.
func (n *Neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	return n.client.VerifyConnectivity(ctx)
}

// Close closes the Neo4j driver.
func (n *Neo4jDriver) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}
