package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"slices"

	"github.com/poiesic/feedsync"
	"github.com/poiesic/feedsync/config"
	"github.com/poiesic/feedsync/core"
)

// defaultCatalog is loaded when no seed file is given.
var defaultCatalog = []*core.CatalogEntry{
	{URL: "https://feeds.bbci.co.uk/news/world/rss.xml", Title: "BBC News - World", Category: "world", Priority: core.PriorityHigh},
	{URL: "https://www.theguardian.com/world/rss", Title: "The Guardian - World", Category: "world", Priority: core.PriorityHigh},
	{URL: "https://feeds.npr.org/1001/rss.xml", Title: "NPR News", Category: "news", Priority: core.PriorityHigh},
	{URL: "https://www.aljazeera.com/xml/rss/all.xml", Title: "Al Jazeera", Category: "world", Priority: core.PriorityHigh},
	{URL: "https://rss.nytimes.com/services/xml/rss/nyt/World.xml", Title: "NYT - World", Category: "world", Priority: core.PriorityHigh},
	{URL: "https://feeds.arstechnica.com/arstechnica/index", Title: "Ars Technica", Category: "technology", Priority: core.PriorityMedium},
	{URL: "https://www.theverge.com/rss/index.xml", Title: "The Verge", Category: "technology", Priority: core.PriorityMedium},
	{URL: "https://hnrss.org/frontpage", Title: "Hacker News", Category: "technology", Priority: core.PriorityMedium},
	{URL: "https://www.nature.com/nature.rss", Title: "Nature", Category: "science", Priority: core.PriorityMedium},
	{URL: "https://go.dev/blog/feed.atom", Title: "The Go Blog", Category: "programming", Priority: core.PriorityLow},
	{URL: "https://blog.golang.org/feed.atom", Title: "Go Blog (legacy)", Category: "programming", Priority: core.PriorityLow},
	{URL: "https://xkcd.com/atom.xml", Title: "xkcd", Category: "comics", Priority: core.PriorityLow},
}

var (
	seedFileName = flag.String("src", "", "YAML seed file with catalog and subscriptions")
	configPath   = flag.String("config", "", "feedsync configuration file")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	db, err := feedsync.NewDatabase(cfg)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx := context.Background()

	// Determine source of seed data
	seed := &seedFile{Catalog: defaultCatalog}
	if *seedFileName != "" {
		seed, err = loadSeedFile(*seedFileName)
		if err != nil {
			panic(err)
		}
	}

	// Store the catalog in batches of 5
	n, err := addCatalogBatched(ctx, db.Store().Catalog, slices.Values(seed.Catalog), 5)
	if err != nil {
		panic(err)
	}
	slog.Info("catalog loaded", "entries", n)

	if len(seed.Subscriptions) == 0 {
		return
	}
	svc, err := db.NewService()
	if err != nil {
		panic(err)
	}
	defer svc.Close()

	added, skipped, err := subscribe(ctx, svc.Scheduler, seed.Subscriptions)
	if err != nil {
		panic(err)
	}
	slog.Info("subscriptions loaded", "added", added, "skipped", skipped)
}
