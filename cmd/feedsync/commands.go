package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/feedsync/clustering"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/reembed"
	"github.com/urfave/cli/v2"
)

var tenantFlag = &cli.StringFlag{
	Name:     "tenant",
	Aliases:  []string{"t"},
	Usage:    "Tenant identifier",
	Required: true,
}

var feedFlag = &cli.Uint64Flag{
	Name:     "feed",
	Aliases:  []string{"f"},
	Usage:    "Feed ID",
	Required: true,
}

func table(c *cli.Context) *tabwriter.Writer {
	return tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the scheduler and embedding pipeline until interrupted",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			if err := svc.Start(ctx); err != nil {
				return err
			}
			slog.Info("feedsync running")
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}
}

func addFeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-feed",
		Usage: "Subscribe a tenant to a feed",
		Flags: []cli.Flag{
			tenantFlag,
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Feed URL", Required: true},
			&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "Sync tier (high, medium, low); detected when omitted"},
		},
		Action: func(c *cli.Context) error {
			_, svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			feed, err := svc.Scheduler.AddFeed(c.Context, core.TenantID(c.String("tenant")), c.String("url"), core.SyncPriority(c.String("priority")))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Added feed %d (%s) priority=%s interval=%dh\n", feed.Id, feed.URL, feed.Priority, feed.SyncIntervalHours)
			return nil
		},
	}
}

func setPriorityCommand() *cli.Command {
	return &cli.Command{
		Name:  "set-priority",
		Usage: "Move a feed to another sync tier",
		Flags: []cli.Flag{
			feedFlag,
			&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "Sync tier (high, medium, low)", Required: true},
		},
		Action: func(c *cli.Context) error {
			_, svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			feed, err := svc.Scheduler.UpdateFeedPriority(c.Context, core.ID(c.Uint64("feed")), core.SyncPriority(c.String("priority")))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Feed %d priority=%s interval=%dh\n", feed.Id, feed.Priority, feed.SyncIntervalHours)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync one feed or every due feed once and embed the new articles",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "feed", Aliases: []string{"f"}, Usage: "Feed ID"},
			&cli.BoolFlag{Name: "due", Usage: "Sync every feed that is due, tier by tier"},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("feed") == c.Bool("due") {
				return errors.New("exactly one of --feed or --due is required")
			}
			db, svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			w := table(c)
			if c.IsSet("feed") {
				feed, err := db.Store().Feeds.GetFeed(c.Context, core.ID(c.Uint64("feed")))
				if err != nil {
					return err
				}
				result := svc.Scheduler.SyncNow(c.Context, feed)
				fmt.Fprintln(w, "FEED\tOK\tNEW\tUPDATED\tSTATUS\tERROR")
				for _, r := range result.Results {
					fmt.Fprintf(w, "%d\t%t\t%d\t%d\t%d\t%s\n", r.FeedID, r.Success, r.ArticlesNew, r.ArticlesUpdated, r.HTTPStatusCode, r.Error)
				}
			} else {
				fmt.Fprintln(w, "TIER\tDUE\tSUCCEEDED\tFAILED\tDURATION")
				for _, p := range core.Priorities {
					run, err := svc.Scheduler.RunTier(c.Context, p)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%v\n", run.Priority, run.Due, run.Succeeded, run.Failed, run.Duration.Round(time.Millisecond))
				}
			}
			// Queued articles are embedded by a background drain.
			svc.Pipeline.Wait()
			return w.Flush()
		},
	}
}

func processQueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "process-queue",
		Usage: "Embed queued articles until the queue or the budgets run out",
		Action: func(c *cli.Context) error {
			_, svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			result, err := svc.Pipeline.Drain(c.Context)
			if err != nil {
				return err
			}
			svc.Pipeline.Wait()
			fmt.Fprintf(c.App.Writer, "Embedded %d, failed %d, dead-lettered %d, deferred %d\n",
				result.Embedded, result.Failed, result.DeadLettered, result.Deferred)
			return nil
		},
	}
}

func clusterCommand() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Regroup a tenant's recent articles into story clusters",
		Flags: []cli.Flag{tenantFlag},
		Action: func(c *cli.Context) error {
			engine, closeAll, err := openClustering(c)
			if err != nil {
				return err
			}
			defer closeAll()

			result, err := engine.Run(c.Context, core.TenantID(c.String("tenant")))
			if err != nil {
				return err
			}
			if result.Skipped {
				fmt.Fprintf(c.App.Writer, "Skipped: %s\n", result.Reason)
				return nil
			}
			fmt.Fprintf(c.App.Writer, "Considered %d articles, formed %d clusters (%d superseded, %d summarized)\n",
				result.Considered, len(result.Clusters), result.Superseded, result.Summarized)
			return printClusters(c, result.Clusters)
		},
	}
}

func clustersCommand() *cli.Command {
	return &cli.Command{
		Name:  "clusters",
		Usage: "List a tenant's active clusters",
		Flags: []cli.Flag{tenantFlag},
		Action: func(c *cli.Context) error {
			engine, closeAll, err := openClustering(c)
			if err != nil {
				return err
			}
			defer closeAll()

			clusters, err := engine.ListClusters(c.Context, core.TenantID(c.String("tenant")))
			if err != nil {
				return err
			}
			return printClusters(c, clusters)
		},
	}
}

func relatedCommand() *cli.Command {
	return &cli.Command{
		Name:  "related",
		Usage: "List articles similar to an article from the same tenant",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "article", Aliases: []string{"a"}, Usage: "Article ID", Required: true},
			&cli.Float64Flag{Name: "threshold", Usage: "Minimum cosine similarity", Value: 0.7},
			&cli.IntFlag{Name: "max", Usage: "Maximum results", Value: 5},
		},
		Action: func(c *cli.Context) error {
			engine, closeAll, err := openClustering(c)
			if err != nil {
				return err
			}
			defer closeAll()

			related, err := engine.Related(c.Context, core.ID(c.Uint64("article")), clustering.SimilarOptions{
				Threshold:  c.Float64("threshold"),
				MaxResults: c.Int("max"),
			})
			if err != nil {
				return err
			}
			w := table(c)
			fmt.Fprintln(w, "ARTICLE\tSIMILARITY\tTITLE")
			for _, r := range related {
				fmt.Fprintf(w, "%d\t%.3f\t%s\n", r.Article.Id, r.Score, r.Article.Title)
			}
			return w.Flush()
		},
	}
}

func openClustering(c *cli.Context) (*clustering.Engine, func(), error) {
	db, err := openDatabase(c)
	if err != nil {
		return nil, nil, err
	}
	engine, err := db.NewClusteringEngine()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return engine, func() { db.Close() }, nil
}

func printClusters(c *cli.Context, clusters []*core.Cluster) error {
	w := table(c)
	fmt.Fprintln(w, "CLUSTER\tRELEVANCE\tARTICLES\tSOURCES\tSIMILARITY\tEXPIRES\tTITLE")
	for _, cl := range clusters {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%.3f\t%s\t%s\n",
			cl.Id, cl.RelevanceScore, len(cl.ArticleIds), len(cl.FeedIds), cl.AvgSimilarity,
			cl.ExpiresAt.Format(time.RFC3339), cl.Title)
	}
	return w.Flush()
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "Show a tenant's AI usage and remaining quota for today",
		Flags: []cli.Flag{tenantFlag},
		Action: func(c *cli.Context) error {
			db, err := openDatabase(c)
			if err != nil {
				return err
			}
			defer db.Close()

			snapshot, err := db.Tracker().Snapshot(c.Context, core.TenantID(c.String("tenant")))
			if err != nil {
				return err
			}
			w := table(c)
			fmt.Fprintf(w, "Tenant %s, %s (cost $%.4f)\n", snapshot.Tenant, snapshot.Date, snapshot.CostUSD)
			fmt.Fprintln(w, "OPERATION\tUSED\tLIMIT\tREMAINING")
			for _, op := range core.Operations {
				u := snapshot.Operations[op]
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", op, u.Count, u.Limit, u.Remaining)
			}
			return w.Flush()
		},
	}
}

func dlqCommand() *cli.Command {
	idArg := func(c *cli.Context) (string, error) {
		if c.NArg() != 1 {
			return "", errors.New("expected exactly one dead letter ID")
		}
		return c.Args().First(), nil
	}
	return &cli.Command{
		Name:  "dlq",
		Usage: "Inspect and replay work that exhausted its retries",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List dead letters, oldest first",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Usage: "Maximum items (0 for all)", Value: 50}},
				Action: func(c *cli.Context) error {
					db, err := openDatabase(c)
					if err != nil {
						return err
					}
					defer db.Close()

					items, err := db.DeadLetters().GetItems(c.Context, c.Int("limit"))
					if err != nil {
						return err
					}
					w := table(c)
					fmt.Fprintln(w, "ID\tOPERATION\tTENANT\tATTEMPTS\tINSERTED\tERROR")
					for _, item := range items {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", item.Id, item.Operation, item.Tenant, item.Attempts,
							item.InsertedAt.Format(time.RFC3339), item.Error)
					}
					return w.Flush()
				},
			},
			{
				Name:      "remove",
				Usage:     "Discard a dead letter",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					db, err := openDatabase(c)
					if err != nil {
						return err
					}
					defer db.Close()

					if err := db.DeadLetters().RemoveItem(c.Context, id); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Removed %s\n", id)
					return nil
				},
			},
			{
				Name:      "replay",
				Usage:     "Requeue a dead-lettered article for embedding",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					_, svc, closeAll, err := openService(c)
					if err != nil {
						return err
					}
					defer closeAll()

					if err := svc.Pipeline.ReplayDeadLetter(c.Context, id); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Replayed %s\n", id)
					return nil
				},
			},
		},
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Requeue articles that still need an embedding",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "Reset and requeue every article (after changing the embedding model)"},
			&cli.BoolFlag{Name: "restart", Usage: "Ignore a saved checkpoint and scan from the beginning"},
			&cli.BoolFlag{Name: "drain", Usage: "Embed the queued articles before exiting"},
			&cli.IntFlag{Name: "batch-size", Usage: "Number of articles to scan in each batch", Value: reembed.DefaultBatchSize},
			&cli.IntFlag{Name: "report-interval", Usage: "Report progress every N articles", Value: 100},
		},
		Action: func(c *cli.Context) error {
			if c.Int("batch-size") <= 0 {
				return fmt.Errorf("batch-size must be greater than 0")
			}
			db, svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			r, err := db.NewReembedder(&reembed.Config{
				BatchSize:      c.Int("batch-size"),
				ReportInterval: c.Int("report-interval"),
				MaxAttempts:    db.Config().Embedding.MaxAttempts,
				All:            c.Bool("all"),
				Restart:        c.Bool("restart"),
			}, c.App.ErrWriter)
			if err != nil {
				return err
			}
			summary, err := r.Run(c.Context)
			if err != nil {
				return fmt.Errorf("%s failed: %w", r.Job(), err)
			}
			fmt.Fprintf(c.App.Writer, "Scanned %d, queued %d, skipped %d, orphaned %d\n",
				summary.Scanned, summary.Queued, summary.Skipped, summary.Orphaned)

			if c.Bool("drain") {
				result, err := svc.Pipeline.Drain(c.Context)
				if err != nil {
					return err
				}
				svc.Pipeline.Wait()
				fmt.Fprintf(c.App.Writer, "Embedded %d, deferred %d\n", result.Embedded, result.Deferred)
			}
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show feed, queue and dead letter counts",
		Action: func(c *cli.Context) error {
			db, err := openDatabase(c)
			if err != nil {
				return err
			}
			defer db.Close()
			return printStats(c, db.Store())
		},
	}
}
