// Package types defines the core data types for the ipifhub aggregation engine.
//
// This package contains the records every other package passes around:
//   - Entity: a person or source contributed by one repository
//   - Statement and Factoid: the assertions linking entities together
//   - MergeEntity: a cluster of entities that share at least one URI
//   - Ref and Task: typed pointers used by the refresh pipeline
//
// # Record Kinds
//
// RecordKind is a closed enumeration. Components that need per-kind behaviour
// (index projection, task processing) dispatch on it through fixed tables
// instead of inspecting type names:
//
//	for _, k := range types.AllRecordKinds() {
//	    fmt.Println(k, k.IsCluster())
//	}
//
// # Validation
//
// Records provide Validate() for input checks. Validation failures return the
// sentinel errors declared in types.go so callers can use errors.Is.
package types
