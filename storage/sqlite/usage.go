// Package sqlite provides a SQLite implementation of storage.UsageRepository.
//
// Usage accounting is the one concern that benefits from SQL: operators
// query the daily table directly for billing reports. The database runs
// in WAL mode with a single writer connection so increments serialize.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_log (
	id TEXT PRIMARY KEY,
	tenant TEXT NOT NULL,
	day TEXT NOT NULL,
	operation TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	count INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_log_tenant_day ON usage_log(tenant, day, ts);

CREATE TABLE IF NOT EXISTS usage_daily (
	tenant TEXT NOT NULL,
	day TEXT NOT NULL,
	counts TEXT NOT NULL,
	tokens TEXT NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	limits TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant, day)
);
`

// UsageRepository implements storage.UsageRepository on SQLite.
type UsageRepository struct {
	db *sql.DB
}

var _ storage.UsageRepository = (*UsageRepository)(nil)

// OpenUsageRepository opens (or creates) the database at path.
// Use ":memory:" for an ephemeral database.
func OpenUsageRepository(path string) (*UsageRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &UsageRepository{db: db}, nil
}

// Close closes the database.
func (r *UsageRepository) Close() error {
	return r.db.Close()
}

// AppendUsageRecord appends an immutable usage-log entry.
func (r *UsageRepository) AppendUsageRecord(ctx context.Context, record *core.UsageRecord) error {
	if record.Id == "" {
		record.Id = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	query, args, err := sq.Insert("usage_log").
		Columns("id", "tenant", "day", "operation", "provider", "model", "count", "input_tokens", "output_tokens", "cost", "ts").
		Values(record.Id, string(record.Tenant), core.UsageDate(record.Timestamp), string(record.Operation),
			record.Provider, record.Model, record.Count, record.InputTokens, record.OutputTokens,
			record.Cost, record.Timestamp.UnixMicro()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// ListUsageRecords returns a tenant's log entries for a date in timestamp order.
func (r *UsageRepository) ListUsageRecords(ctx context.Context, tenant core.TenantID, date string) ([]*core.UsageRecord, error) {
	query, args, err := sq.Select("id", "tenant", "operation", "provider", "model", "count", "input_tokens", "output_tokens", "cost", "ts").
		From("usage_log").
		Where(sq.Eq{"tenant": string(tenant), "day": date}).
		OrderBy("ts ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*core.UsageRecord
	for rows.Next() {
		var rec core.UsageRecord
		var ts int64
		if err := rows.Scan(&rec.Id, &rec.Tenant, &rec.Operation, &rec.Provider, &rec.Model,
			&rec.Count, &rec.InputTokens, &rec.OutputTokens, &rec.Cost, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMicro(ts).UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// GetDailyUsage returns the aggregate for (tenant, date), empty when absent.
func (r *UsageRepository) GetDailyUsage(ctx context.Context, tenant core.TenantID, date string) (*core.AIUsageDaily, error) {
	return getDaily(ctx, r.db, tenant, date)
}

// IncrementDailyUsage applies delta inside a transaction and upserts the row.
func (r *UsageRepository) IncrementDailyUsage(ctx context.Context, tenant core.TenantID, date string, delta core.UsageDelta) (*core.AIUsageDaily, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	daily, err := getDaily(ctx, tx, tenant, date)
	if err != nil {
		return nil, err
	}
	daily.Apply(delta)
	daily.UpdatedAt = time.Now().UTC()

	counts, err := json.Marshal(daily.Counts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	tokens, err := json.Marshal(daily.TokensByProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	limits, err := json.Marshal(daily.Limits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}

	query, args, err := sq.Insert("usage_daily").
		Columns("tenant", "day", "counts", "tokens", "cost_usd", "limits", "updated_at").
		Values(string(tenant), date, string(counts), string(tokens), daily.CostUSD, string(limits), daily.UpdatedAt.UnixMicro()).
		Suffix("ON CONFLICT(tenant, day) DO UPDATE SET " +
			"counts = excluded.counts, tokens = excluded.tokens, cost_usd = excluded.cost_usd, " +
			"limits = excluded.limits, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return daily, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDaily(ctx context.Context, q queryRower, tenant core.TenantID, date string) (*core.AIUsageDaily, error) {
	query, args, err := sq.Select("counts", "tokens", "cost_usd", "limits", "updated_at").
		From("usage_daily").
		Where(sq.Eq{"tenant": string(tenant), "day": date}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}

	daily := &core.AIUsageDaily{
		Tenant:           tenant,
		Date:             date,
		Counts:           make(map[core.Operation]int),
		TokensByProvider: make(map[string]int),
	}
	var counts, tokens, limits string
	var updated int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&counts, &tokens, &daily.CostUSD, &limits, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return daily, nil
	}
	if err != nil {
		return nil, err
	}

	if err := errors.Join(
		json.Unmarshal([]byte(counts), &daily.Counts),
		json.Unmarshal([]byte(tokens), &daily.TokensByProvider),
		json.Unmarshal([]byte(limits), &daily.Limits),
	); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	daily.UpdatedAt = time.UnixMicro(updated).UTC()
	return daily, nil
}
