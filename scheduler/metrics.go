package scheduler

import (
	"context"

	"github.com/poiesic/feedsync/syncer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/poiesic/feedsync/scheduler"

type syncMetrics struct {
	syncs    metric.Int64Counter
	articles metric.Int64Counter
	duration metric.Float64Histogram
}

func newSyncMetrics(mp metric.MeterProvider) (*syncMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	syncs, err := meter.Int64Counter("feedsync.feed.syncs",
		metric.WithDescription("Feed syncs by tier and outcome"))
	if err != nil {
		return nil, err
	}
	articles, err := meter.Int64Counter("feedsync.feed.articles_new",
		metric.WithDescription("Articles inserted by feed syncs"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("feedsync.feed.sync_duration",
		metric.WithDescription("Feed sync duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &syncMetrics{syncs: syncs, articles: articles, duration: duration}, nil
}

func (m *syncMetrics) observe(ctx context.Context, tier string, res *syncer.Result) {
	attrs := metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.Bool("success", res.Success),
		attribute.Bool("not_modified", res.NotModified),
	)
	m.syncs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, res.SyncDuration.Seconds(), attrs)
	if res.ArticlesNew > 0 {
		m.articles.Add(ctx, int64(res.ArticlesNew), metric.WithAttributes(attribute.String("tier", tier)))
	}
}
