package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// ClusterRepository implements storage.ClusterRepository for BadgerDB.
type ClusterRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.ClusterRepository = (*ClusterRepository)(nil)

// NewClusterRepository creates a new ClusterRepository.
func NewClusterRepository(backend *Backend) (*ClusterRepository, error) {
	idSeq, err := backend.GetSequence(clusterIDSeq)
	if err != nil {
		return nil, err
	}
	return &ClusterRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *ClusterRepository) Close() error {
	return r.idSeq.Release()
}

// AddClusters stores clusters, generating IDs.
func (r *ClusterRepository) AddClusters(ctx context.Context, clusters ...*core.Cluster) ([]*core.Cluster, error) {
	now := time.Now().UTC()
	err := r.backend.Update(func(tx *badger.Txn) error {
		for _, cluster := range clusters {
			id, err := nextID(r.idSeq)
			if err != nil {
				return err
			}
			cluster.Id = core.ID(id)
			if cluster.InsertedAt.IsZero() {
				cluster.InsertedAt = now
			}
			if err := setValue(tx, makeClusterKey(cluster.Id), cluster); err != nil {
				return err
			}
			if err := tx.Set(makeClusterTenantKey(cluster.Tenant, cluster.Id), storage.MarshalID(cluster.Id)); err != nil {
				return err
			}
		}
		return nil
	})
	return clusters, err
}

// GetCluster retrieves one cluster.
func (r *ClusterRepository) GetCluster(ctx context.Context, id core.ID) (*core.Cluster, error) {
	var result *core.Cluster
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = getValue[core.Cluster](tx, makeClusterKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return result, err
}

// GetActiveClusters returns a tenant's active clusters, most relevant first.
func (r *ClusterRepository) GetActiveClusters(ctx context.Context, tenant core.TenantID, now time.Time) ([]*core.Cluster, error) {
	var results []*core.Cluster
	err := r.backend.View(func(tx *badger.Txn) error {
		return r.eachTenantCluster(tx, tenant, func(c *core.Cluster) error {
			if c.Active(now) {
				results = append(results, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(results, func(a, b *core.Cluster) int {
		if a.RelevanceScore != b.RelevanceScore {
			return b.RelevanceScore - a.RelevanceScore
		}
		if a.AvgSimilarity > b.AvgSimilarity {
			return -1
		}
		if a.AvgSimilarity < b.AvgSimilarity {
			return 1
		}
		return 0
	})
	return results, nil
}

// SupersedeActiveClusters marks the tenant's unsuperseded clusters as replaced.
func (r *ClusterRepository) SupersedeActiveClusters(ctx context.Context, tenant core.TenantID, at time.Time) ([]*core.Cluster, error) {
	var superseded []*core.Cluster
	err := r.backend.Update(func(tx *badger.Txn) error {
		superseded = superseded[:0]
		var pending []*core.Cluster
		err := r.eachTenantCluster(tx, tenant, func(c *core.Cluster) error {
			if c.SupersededAt == nil {
				pending = append(pending, c)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, c := range pending {
			stamp := at
			c.SupersededAt = &stamp
			if err := setValue(tx, makeClusterKey(c.Id), c); err != nil {
				return err
			}
			superseded = append(superseded, c)
		}
		return nil
	})
	return superseded, err
}

// PurgeExpiredClusters deletes clusters that ended before the cutoff.
func (r *ClusterRepository) PurgeExpiredClusters(ctx context.Context, before time.Time) (int, error) {
	var removed int
	err := r.backend.Update(func(tx *badger.Txn) error {
		removed = 0
		var doomed []*core.Cluster
		err := scanPrefix(tx, []byte(clusterPrefix), func(_, val []byte) error {
			c, err := storage.Unmarshal[core.Cluster](val)
			if err != nil {
				return err
			}
			if c.ExpiresAt.Before(before) || (c.SupersededAt != nil && c.SupersededAt.Before(before)) {
				doomed = append(doomed, c)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, c := range doomed {
			if err := tx.Delete(makeClusterKey(c.Id)); err != nil {
				return err
			}
			if err := tx.Delete(makeClusterTenantKey(c.Tenant, c.Id)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (r *ClusterRepository) eachTenantCluster(tx *badger.Txn, tenant core.TenantID, fn func(*core.Cluster) error) error {
	return scanPrefix(tx, makePartialClusterTenantKey(tenant), func(_, val []byte) error {
		id, err := storage.UnmarshalID(val)
		if err != nil {
			return err
		}
		c, err := getValue[core.Cluster](tx, makeClusterKey(id))
		if err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		return fn(c)
	})
}
