package ratelimit

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/poiesic/feedsync/core"
)

// DailyCounters stores per-tenant, per-day usage aggregates.
// Every storage.UsageRepository satisfies it, so a shared store can
// replace MemoryCounters without touching call sites.
type DailyCounters interface {
	// GetDailyUsage returns the aggregate, empty when nothing was recorded.
	GetDailyUsage(ctx context.Context, tenant core.TenantID, date string) (*core.AIUsageDaily, error)

	// IncrementDailyUsage atomically applies delta and returns the new aggregate.
	IncrementDailyUsage(ctx context.Context, tenant core.TenantID, date string, delta core.UsageDelta) (*core.AIUsageDaily, error)
}

// UsageLog receives immutable usage records.
type UsageLog interface {
	AppendUsageRecord(ctx context.Context, record *core.UsageRecord) error
}

type counterKey struct {
	tenant core.TenantID
	date   string
}

// MemoryCounters keeps daily aggregates in process memory.
// It is only correct for a single scheduler instance.
type MemoryCounters struct {
	mu   sync.Mutex
	days map[counterKey]*core.AIUsageDaily
}

var _ DailyCounters = (*MemoryCounters)(nil)

// NewMemoryCounters creates an empty counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{days: make(map[counterKey]*core.AIUsageDaily)}
}

// GetDailyUsage returns a copy of the aggregate.
func (m *MemoryCounters) GetDailyUsage(ctx context.Context, tenant core.TenantID, date string) (*core.AIUsageDaily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if daily, ok := m.days[counterKey{tenant, date}]; ok {
		return cloneDaily(daily), nil
	}
	return &core.AIUsageDaily{
		Tenant:           tenant,
		Date:             date,
		Counts:           make(map[core.Operation]int),
		TokensByProvider: make(map[string]int),
	}, nil
}

// IncrementDailyUsage applies delta under the store lock.
func (m *MemoryCounters) IncrementDailyUsage(ctx context.Context, tenant core.TenantID, date string, delta core.UsageDelta) (*core.AIUsageDaily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{tenant, date}
	daily, ok := m.days[key]
	if !ok {
		daily = &core.AIUsageDaily{Tenant: tenant, Date: date}
		m.days[key] = daily
	}
	daily.Apply(delta)
	daily.UpdatedAt = time.Now().UTC()
	return cloneDaily(daily), nil
}

func cloneDaily(d *core.AIUsageDaily) *core.AIUsageDaily {
	c := *d
	c.Counts = maps.Clone(d.Counts)
	c.TokensByProvider = maps.Clone(d.TokensByProvider)
	if c.Counts == nil {
		c.Counts = make(map[core.Operation]int)
	}
	if c.TokensByProvider == nil {
		c.TokensByProvider = make(map[string]int)
	}
	return &c
}
