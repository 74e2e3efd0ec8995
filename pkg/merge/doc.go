// Package merge keeps the entity partition correct under inserts, identifier
// changes and deletes.
//
// Entities sharing at least one URI, directly or through a chain of other
// entities, live in the same cluster (MergeEntity), and every clusterable
// entity lives in exactly one cluster. Entities of the placeholder repository
// are never clustered.
//
// # Merging
//
// OnEntityUpserted looks up the clusters sharing a URI with the entity. No
// match creates a singleton, one match adds the entity, several matches are
// coalesced: all of them are deleted and one new cluster holds the union.
// Coalescing never preserves an old cluster id.
//
// # Splitting
//
// OnEntityDeleted and OnIdentifiersRemoved recompute connectivity among the
// surviving members with cluster.Group and replace the cluster with one
// cluster per group when it fell apart.
//
// All operations run inside the caller's transaction through a ClusterStore;
// an error means the transaction must be rolled back.
package merge
