package feedsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/feedsync/clustering"
	"github.com/poiesic/feedsync/ingestion"
	"github.com/poiesic/feedsync/scheduler"
	"github.com/poiesic/feedsync/syncer"
)

// Service is the long-running assembly: the scheduler syncs feeds, every
// sync feeds the embedding pipeline and drained queues trigger clustering.
type Service struct {
	Syncer     *syncer.Engine
	Clustering *clustering.Engine
	Pipeline   *ingestion.Pipeline
	Scheduler  *scheduler.Scheduler
	logger     *slog.Logger
}

// NewService wires the sync engine, clustering engine, pipeline and
// scheduler, and registers the queue drain and cluster purge jobs.
func (db *Database) NewService(opts ...scheduler.Option) (*Service, error) {
	engine, err := db.NewSyncEngine()
	if err != nil {
		return nil, err
	}
	clusterer, err := db.NewClusteringEngine()
	if err != nil {
		return nil, err
	}
	pipeline, err := db.NewIngestionPipeline(clusterer)
	if err != nil {
		return nil, err
	}
	sched, err := db.NewScheduler(engine, append([]scheduler.Option{scheduler.WithObserver(pipeline)}, opts...)...)
	if err != nil {
		pipeline.Release()
		return nil, err
	}

	svc := &Service{
		Syncer:     engine,
		Clustering: clusterer,
		Pipeline:   pipeline,
		Scheduler:  sched,
		logger:     db.logger.With("component", "service"),
	}
	if err := svc.registerJobs(db.config.Scheduler.MaintenanceSpec, db.config.Clustering.PurgeSpec); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) registerJobs(drainSpec, purgeSpec string) error {
	if drainSpec != "" {
		err := s.Scheduler.AddMaintenanceJob(drainSpec, "drain-embedding-queue", func(context.Context) error {
			s.Pipeline.SubmitDrain()
			return nil
		})
		if err != nil {
			return err
		}
	}
	if purgeSpec != "" {
		err := s.Scheduler.AddMaintenanceJob(purgeSpec, "purge-clusters", func(ctx context.Context) error {
			_, err := s.Clustering.PurgeExpired(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Start begins scheduled syncing. Entries a previous process left in
// processing go back to pending, and a drain is submitted immediately so
// work queued before a restart is picked up.
func (s *Service) Start(ctx context.Context) error {
	// The store is locked to this process, so nothing else is mid-claim.
	if _, err := s.Pipeline.ReclaimStale(ctx, 0); err != nil {
		return err
	}
	if err := s.Scheduler.Start(ctx); err != nil {
		return err
	}
	s.Pipeline.SubmitDrain()
	return nil
}

// Close stops the scheduler, waits for background embedding and
// clustering work, and releases the worker pools.
func (s *Service) Close() error {
	err := s.Scheduler.Close()
	s.Pipeline.Wait()
	s.Pipeline.Release()
	if err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		return err
	}
	return nil
}
