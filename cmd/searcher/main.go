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


package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/feedsync"
	"github.com/poiesic/feedsync/config"
	"github.com/poiesic/feedsync/core"
)

var (
	configPath = flag.String("config", "", "feedsync configuration file")
	tenant     = flag.String("tenant", "", "tenant to search")
	maxHits    = flag.Int("n", 5, "maximum hits")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()
}

func main() {
	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "usage: searcher -tenant <tenant> [-config file] [-n hits] query...")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	db, err := feedsync.NewDatabase(cfg)
	if err != nil {
		panic(err)
	}
	defer db.Close()
	searcher, err := db.NewSearcher()
	if err != nil {
		panic(err)
	}

	query := "election results"
	if flag.NArg() > 0 {
		query = strings.Join(flag.Args(), " ")
	}
	results, err := searcher.Search(context.Background(), core.TenantID(*tenant), query, *maxHits)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Found %d hits\n", len(results))
	for i, hit := range results {
		marker := ""
		if hit.Verbatim {
			marker = " *"
		}
		fmt.Printf("%d: '%s' (%d)[%0.3f/%0.3f]%s\n", i, hit.Article.Title, hit.Article.Id, hit.Similarity, hit.Score, marker)
	}
}
