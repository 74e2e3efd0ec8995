package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// Marker records refs that need an index refresh. *batch.Batch implements it.
type Marker interface {
	MarkDirty(refs ...types.Ref)
}

// ClusterStore mutates clusters inside one transaction. Every mutation marks
// the affected cluster and entities dirty before returning.
type ClusterStore struct {
	tx     store.Tx
	marker Marker
	now    func() time.Time
	newID  func() string
}

// ClusterStoreOption configures a ClusterStore.
type ClusterStoreOption func(*ClusterStore)

// WithIDGenerator overrides cluster id generation.
func WithIDGenerator(fn func() string) ClusterStoreOption {
	return func(c *ClusterStore) { c.newID = fn }
}

// WithNow overrides the clock used for cluster timestamps.
func WithNow(fn func() time.Time) ClusterStoreOption {
	return func(c *ClusterStore) { c.now = fn }
}

// NewClusterStore wraps tx. marker may not be nil.
func NewClusterStore(tx store.Tx, marker Marker, opts ...ClusterStoreOption) *ClusterStore {
	c := &ClusterStore{
		tx:     tx,
		marker: marker,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tx returns the underlying transaction.
func (c *ClusterStore) Tx() store.Tx {
	return c.tx
}

func (c *ClusterStore) markCluster(kind types.EntityKind, clusterID string, members ...string) {
	refs := make([]types.Ref, 0, len(members)+1)
	refs = append(refs, types.Ref{Kind: kind.ClusterKind(), ID: clusterID})
	for _, m := range members {
		refs = append(refs, types.Ref{Kind: kind.RecordKind(), ID: m})
	}
	c.marker.MarkDirty(refs...)
}

// CreateCluster creates a cluster of kind holding members and returns its id.
func (c *ClusterStore) CreateCluster(ctx context.Context, kind types.EntityKind, members []string) (string, error) {
	now := c.now().UTC()
	m := &types.MergeEntity{
		ID:         c.newID(),
		Kind:       kind,
		Members:    types.SortedUnique(members),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := c.tx.CreateCluster(ctx, m); err != nil {
		return "", fmt.Errorf("create %s cluster: %w", kind, err)
	}
	c.markCluster(kind, m.ID, m.Members...)
	return m.ID, nil
}

// DeleteCluster removes the cluster and releases its members.
func (c *ClusterStore) DeleteCluster(ctx context.Context, id string) error {
	m, err := c.tx.GetCluster(ctx, id)
	if err != nil {
		return err
	}
	if err := c.tx.DeleteCluster(ctx, id); err != nil {
		return fmt.Errorf("delete cluster %s: %w", id, err)
	}
	c.markCluster(m.Kind, id, m.Members...)
	return nil
}

// AddMember adds entityID to the cluster.
func (c *ClusterStore) AddMember(ctx context.Context, clusterID, entityID string) error {
	m, err := c.tx.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if err := c.tx.AddClusterMember(ctx, clusterID, entityID); err != nil {
		return fmt.Errorf("add %s to cluster %s: %w", entityID, clusterID, err)
	}
	c.markCluster(m.Kind, clusterID, entityID)
	return nil
}

// RemoveMember removes entityID from the cluster and deletes the cluster if
// it became empty. It reports whether the cluster was deleted.
func (c *ClusterStore) RemoveMember(ctx context.Context, clusterID, entityID string) (bool, error) {
	m, err := c.tx.GetCluster(ctx, clusterID)
	if err != nil {
		return false, err
	}
	if err := c.tx.RemoveClusterMember(ctx, clusterID, entityID); err != nil {
		return false, fmt.Errorf("remove %s from cluster %s: %w", entityID, clusterID, err)
	}
	c.markCluster(m.Kind, clusterID, entityID)

	if len(m.Members) > 1 {
		return false, nil
	}
	if err := c.tx.DeleteCluster(ctx, clusterID); err != nil {
		return false, fmt.Errorf("delete empty cluster %s: %w", clusterID, err)
	}
	return true, nil
}

// FindClustersSharingURIs returns clusters of kind with a member whose URIs
// intersect uris.
func (c *ClusterStore) FindClustersSharingURIs(ctx context.Context, kind types.EntityKind, uris []string) ([]*types.MergeEntity, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	return c.tx.ClustersSharingURIs(ctx, kind, uris)
}

// ClusterOf returns the entity's cluster, or nil when it has none.
func (c *ClusterStore) ClusterOf(ctx context.Context, entityID string) (*types.MergeEntity, error) {
	m, err := c.tx.ClusterOf(ctx, entityID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	return m, err
}
