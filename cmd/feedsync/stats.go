package main

import (
	"fmt"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage/badger"
	"github.com/urfave/cli/v2"
)

func printStats(c *cli.Context, store *badger.Store) error {
	ctx := c.Context
	feeds, err := store.Feeds.ListFeeds(ctx)
	if err != nil {
		return err
	}
	byStatus := make(map[core.FeedStatus]int)
	byPriority := make(map[core.SyncPriority]int)
	for _, f := range feeds {
		byStatus[f.Status]++
		byPriority[f.Priority]++
	}

	queue, err := store.Queue.CountQueue(ctx)
	if err != nil {
		return err
	}
	deadLetters, err := store.DeadLetters.GetDeadLetters(ctx, 0)
	if err != nil {
		return err
	}

	w := table(c)
	fmt.Fprintf(w, "Feeds\t%d\n", len(feeds))
	for _, s := range []core.FeedStatus{core.FeedStatusActive, core.FeedStatusPaused, core.FeedStatusError} {
		fmt.Fprintf(w, "  %s\t%d\n", s, byStatus[s])
	}
	for _, p := range core.Priorities {
		fmt.Fprintf(w, "  %s tier\t%d\n", p, byPriority[p])
	}
	fmt.Fprintf(w, "Embedding queue\t%d\n", queue[core.QueuePending]+queue[core.QueueProcessing]+queue[core.QueueFailed])
	for _, s := range []core.QueueStatus{core.QueuePending, core.QueueProcessing, core.QueueFailed} {
		fmt.Fprintf(w, "  %s\t%d\n", s, queue[s])
	}
	fmt.Fprintf(w, "Dead letters\t%d\n", len(deadLetters))
	return w.Flush()
}
