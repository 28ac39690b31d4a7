package ratelimit

import "github.com/poiesic/feedsync/core"

// LimitsProvider resolves a tenant's daily limits.
type LimitsProvider interface {
	Limits(tenant core.TenantID) core.DailyLimits
}

// DefaultLimits returns the stock quotas: 500 embeddings, 10 clusterings,
// 100 searches and 50 summaries per day.
func DefaultLimits() core.DailyLimits {
	return core.DailyLimits{
		Embeddings:  500,
		Clusterings: 10,
		Searches:    100,
		Summaries:   50,
	}
}

// StaticLimits applies Default to every tenant without an override.
type StaticLimits struct {
	Default core.DailyLimits
	Tenants map[core.TenantID]core.DailyLimits
}

// Limits returns the tenant override or the default.
func (s StaticLimits) Limits(tenant core.TenantID) core.DailyLimits {
	if l, ok := s.Tenants[tenant]; ok {
		return l
	}
	return s.Default
}
