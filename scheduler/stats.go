package scheduler

import (
	"slices"
	"sync"
	"time"

	"github.com/poiesic/feedsync/core"
)

// HistoryEntry is one recorded feed sync.
type HistoryEntry struct {
	FeedID      core.ID
	URL         string
	Priority    core.SyncPriority
	Success     bool
	NotModified bool
	ArticlesNew int
	Duration    time.Duration
	Error       string
	At          time.Time
}

// Stats summarizes scheduler activity since start.
type Stats struct {
	TotalSyncs      int
	Successful      int
	Failed          int
	SuccessRate     float64 // 0..1, zero before the first sync
	AverageDuration time.Duration
	FailedFeeds     []core.ID
	RecentHistory   []HistoryEntry // newest first
	LastRun         time.Time
	TierLastRun     map[core.SyncPriority]time.Time
}

// statsRecorder keeps counters and a ring buffer of recent syncs.
type statsRecorder struct {
	mu            sync.Mutex
	total         int
	successful    int
	totalDuration time.Duration
	history       []HistoryEntry
	next          int
	full          bool
	lastRun       time.Time
	tierLastRun   map[core.SyncPriority]time.Time
}

func newStatsRecorder(size int) *statsRecorder {
	return &statsRecorder{
		history:     make([]HistoryEntry, size),
		tierLastRun: make(map[core.SyncPriority]time.Time),
	}
}

func (r *statsRecorder) record(entry HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if entry.Success {
		r.successful++
	}
	r.totalDuration += entry.Duration
	r.history[r.next] = entry
	r.next = (r.next + 1) % len(r.history)
	if r.next == 0 {
		r.full = true
	}
}

func (r *statsRecorder) markRun(p core.SyncPriority, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun = at
	r.tierLastRun[p] = at
}

func (r *statsRecorder) snapshot(failed []core.ID) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalSyncs:  r.total,
		Successful:  r.successful,
		Failed:      r.total - r.successful,
		FailedFeeds: failed,
		LastRun:     r.lastRun,
		TierLastRun: make(map[core.SyncPriority]time.Time, len(r.tierLastRun)),
	}
	for p, t := range r.tierLastRun {
		s.TierLastRun[p] = t
	}
	if r.total > 0 {
		s.SuccessRate = float64(r.successful) / float64(r.total)
		s.AverageDuration = r.totalDuration / time.Duration(r.total)
	}

	n := r.next
	if r.full {
		n = len(r.history)
	}
	s.RecentHistory = make([]HistoryEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.history)) % len(r.history)
		s.RecentHistory = append(s.RecentHistory, r.history[idx])
	}
	slices.Sort(s.FailedFeeds)
	return s
}
