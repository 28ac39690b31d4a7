// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/feedsync/core"
)

// Decision is the answer to CanMakeRequest.
type Decision struct {
	Allowed      bool
	CurrentCount int
	DailyLimit   int
	Remaining    int
	Reason       string
}

// Usage describes one logical provider outcome to record.
type Usage struct {
	Operation    core.Operation
	Provider     string
	Model        string
	Count        int // defaults to 1
	InputTokens  int
	OutputTokens int
	Cost         float64 // computed from the rate table when zero
}

// OperationUsage is one line of a usage snapshot.
type OperationUsage struct {
	Count     int
	Limit     int
	Remaining int
}

// UsageSnapshot is a tenant's usage and remaining quota for one day.
type UsageSnapshot struct {
	Tenant           core.TenantID
	Date             string
	Operations       map[core.Operation]OperationUsage
	TokensByProvider map[string]int
	CostUSD          float64
}

// Tracker enforces daily quotas and records usage.
type Tracker struct {
	counters DailyCounters
	log      UsageLog
	limits   LimitsProvider
	clock    func() time.Time
	logger   *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker) error

// WithUsageLog appends a UsageRecord for every RecordUsage call.
func WithUsageLog(log UsageLog) TrackerOption {
	return func(t *Tracker) error {
		t.log = log
		return nil
	}
}

// WithLimits sets the limits provider.
// Default is StaticLimits{Default: DefaultLimits()}.
func WithLimits(limits LimitsProvider) TrackerOption {
	return func(t *Tracker) error {
		if limits == nil {
			return fmt.Errorf("limits provider must not be nil")
		}
		t.limits = limits
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) TrackerOption {
	return func(t *Tracker) error {
		t.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger.With("component", "usage-tracker")
		return nil
	}
}

// NewTracker creates a usage tracker over counters.
func NewTracker(counters DailyCounters, opts ...TrackerOption) (*Tracker, error) {
	if counters == nil {
		return nil, ErrCountersRequired
	}
	t := &Tracker{
		counters: counters,
		limits:   StaticLimits{Default: DefaultLimits()},
		clock:    time.Now,
		logger:   slog.Default().With("component", "usage-tracker"),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Today returns the current UTC usage date.
func (t *Tracker) Today() string {
	return core.UsageDate(t.clock())
}

// Limits returns the tenant's effective limits.
func (t *Tracker) Limits(tenant core.TenantID) core.DailyLimits {
	return t.limits.Limits(tenant)
}

// CanMakeRequest compares today's counter for op against the tenant's limit.
// It must be checked before issuing the provider call.
func (t *Tracker) CanMakeRequest(ctx context.Context, tenant core.TenantID, op core.Operation) (*Decision, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	daily, err := t.counters.GetDailyUsage(ctx, tenant, t.Today())
	if err != nil {
		return nil, err
	}

	limit := t.limits.Limits(tenant).Limit(op)
	current := daily.Count(op)
	d := &Decision{
		Allowed:      current < limit,
		CurrentCount: current,
		DailyLimit:   limit,
		Remaining:    max(limit-current, 0),
	}
	if !d.Allowed {
		d.Reason = fmt.Sprintf("daily %s limit of %d reached", op, limit)
	}
	return d, nil
}

// Remaining returns how many more op calls the tenant may make today.
func (t *Tracker) Remaining(ctx context.Context, tenant core.TenantID, op core.Operation) (int, error) {
	d, err := t.CanMakeRequest(ctx, tenant, op)
	if err != nil {
		return 0, err
	}
	return d.Remaining, nil
}

// Require returns ErrBudgetExceeded when op is not allowed.
func (t *Tracker) Require(ctx context.Context, tenant core.TenantID, op core.Operation) error {
	d, err := t.CanMakeRequest(ctx, tenant, op)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s", ErrBudgetExceeded, d.Reason)
	}
	return nil
}

// RecordUsage appends a usage-log entry and increments the day's aggregate once.
// Callers record once per logical outcome, not per retry.
func (t *Tracker) RecordUsage(ctx context.Context, tenant core.TenantID, usage Usage) (*core.AIUsageDaily, error) {
	if !usage.Operation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, usage.Operation)
	}
	if usage.Count <= 0 {
		usage.Count = 1
	}
	if usage.Cost == 0 && (usage.InputTokens > 0 || usage.OutputTokens > 0) {
		usage.Cost = CalculateCost(usage.Provider, usage.Model, usage.InputTokens, usage.OutputTokens)
	}

	now := t.clock().UTC()
	if t.log != nil {
		record := &core.UsageRecord{
			Id:           uuid.NewString(),
			Tenant:       tenant,
			Operation:    usage.Operation,
			Provider:     usage.Provider,
			Model:        usage.Model,
			Count:        usage.Count,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Cost:         usage.Cost,
			Timestamp:    now,
		}
		if err := t.log.AppendUsageRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("append usage record: %w", err)
		}
	}

	daily, err := t.counters.IncrementDailyUsage(ctx, tenant, core.UsageDate(now), core.UsageDelta{
		Operation: usage.Operation,
		Count:     usage.Count,
		Provider:  usage.Provider,
		Tokens:    usage.InputTokens + usage.OutputTokens,
		Cost:      usage.Cost,
		Limits:    t.limits.Limits(tenant),
	})
	if err != nil {
		return nil, fmt.Errorf("increment daily usage: %w", err)
	}

	t.logger.Debug("recorded usage",
		"tenant", tenant,
		"operation", usage.Operation,
		"count", usage.Count,
		"cost", usage.Cost)
	return daily, nil
}

// Snapshot reports today's usage and remaining quota for every operation.
func (t *Tracker) Snapshot(ctx context.Context, tenant core.TenantID) (*UsageSnapshot, error) {
	date := t.Today()
	daily, err := t.counters.GetDailyUsage(ctx, tenant, date)
	if err != nil {
		return nil, err
	}
	limits := t.limits.Limits(tenant)
	snap := &UsageSnapshot{
		Tenant:           tenant,
		Date:             date,
		Operations:       make(map[core.Operation]OperationUsage, len(core.Operations)),
		TokensByProvider: daily.TokensByProvider,
		CostUSD:          daily.CostUSD,
	}
	for _, op := range core.Operations {
		count := daily.Count(op)
		limit := limits.Limit(op)
		snap.Operations[op] = OperationUsage{
			Count:     count,
			Limit:     limit,
			Remaining: max(limit-count, 0),
		}
	}
	return snap, nil
}
