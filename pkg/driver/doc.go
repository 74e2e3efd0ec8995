// Package driver wraps the graph database used as a search index backend.
//
// The GraphDriver interface is deliberately small: Cypher in, eager records
// out. Neo4jDriver implements it over the official neo4j-go-driver, which
// also speaks Bolt to Memgraph.
//
// # Usage
//
//	d, err := driver.NewNeo4jDriver(uri, username, password, "neo4j")
//	if err != nil {
//		return err
//	}
//	defer d.Close(ctx)
//	res, err := d.ExecuteQuery(ctx, "MATCH (d:Document {id: $id}) RETURN d.label AS label", map[string]any{"id": id})
//
// # Type Helpers
//
// type_helpers.go converts record values to Go types without panicking on
// failed type assertions.
package driver
