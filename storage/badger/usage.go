package badger

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// UsageRepository implements storage.UsageRepository for BadgerDB.
type UsageRepository struct {
	backend *Backend
	mu      sync.Mutex // serializes read-modify-write of daily aggregates
}

var _ storage.UsageRepository = (*UsageRepository)(nil)

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(backend *Backend) *UsageRepository {
	return &UsageRepository{backend: backend}
}

// AppendUsageRecord appends an immutable usage-log entry.
func (r *UsageRepository) AppendUsageRecord(ctx context.Context, record *core.UsageRecord) error {
	if record.Id == "" {
		record.Id = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		return setValue(tx, makeUsageLogKey(record), record)
	})
}

// ListUsageRecords returns a tenant's log entries for a date in timestamp order.
func (r *UsageRepository) ListUsageRecords(ctx context.Context, tenant core.TenantID, date string) ([]*core.UsageRecord, error) {
	var results []*core.UsageRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialUsageLogKey(tenant, date), func(_, val []byte) error {
			record, err := storage.Unmarshal[core.UsageRecord](val)
			if err != nil {
				return err
			}
			results = append(results, record)
			return nil
		})
	})
	return results, err
}

// GetDailyUsage returns the aggregate for (tenant, date), empty when absent.
func (r *UsageRepository) GetDailyUsage(ctx context.Context, tenant core.TenantID, date string) (*core.AIUsageDaily, error) {
	var result *core.AIUsageDaily
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = getValue[core.AIUsageDaily](tx, makeUsageDailyKey(tenant, date))
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = emptyDaily(tenant, date)
	}
	return result, nil
}

// IncrementDailyUsage applies delta to (tenant, date) and returns the new aggregate.
func (r *UsageRepository) IncrementDailyUsage(ctx context.Context, tenant core.TenantID, date string, delta core.UsageDelta) (*core.AIUsageDaily, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *core.AIUsageDaily
	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeUsageDailyKey(tenant, date)
		daily, err := getValue[core.AIUsageDaily](tx, key)
		if err != nil {
			return err
		}
		if daily == nil {
			daily = emptyDaily(tenant, date)
		}
		daily.Apply(delta)
		daily.UpdatedAt = time.Now().UTC()
		if err := setValue(tx, key, daily); err != nil {
			return err
		}
		result = daily
		return nil
	})
	return result, err
}

func emptyDaily(tenant core.TenantID, date string) *core.AIUsageDaily {
	return &core.AIUsageDaily{
		Tenant:           tenant,
		Date:             date,
		Counts:           make(map[core.Operation]int),
		TokensByProvider: make(map[string]int),
	}
}
