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
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/feedsync"
	"github.com/poiesic/feedsync/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "feedsync",
		Usage: "Multi-tenant feed ingestion with embedding and story clustering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"FEEDSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			runCommand(),
			addFeedCommand(),
			setPriorityCommand(),
			syncCommand(),
			processQueueCommand(),
			clusterCommand(),
			clustersCommand(),
			relatedCommand(),
			usageCommand(),
			dlqCommand(),
			backfillCommand(),
			statsCommand(),
		},
	}
}

// setup loads the configuration and installs the process logger.
// Flags win over the logging section of the file.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return setupLogger(c.App.ErrWriter, cfg.Logging)
}

func setupLogger(w io.Writer, lc config.LoggingConfig) error {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", lc.Level)
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(lc.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", lc.Format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func loadedConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func openDatabase(c *cli.Context) (*feedsync.Database, error) {
	db, err := feedsync.NewDatabase(loadedConfig(c), feedsync.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openService opens the database and assembles the services without
// starting the scheduler. The returned func closes both.
func openService(c *cli.Context) (*feedsync.Database, *feedsync.Service, func(), error) {
	db, err := openDatabase(c)
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := db.NewService()
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	closeAll := func() {
		if err := svc.Close(); err != nil {
			slog.Error("error closing services", "err", err)
		}
		db.Close()
	}
	return db, svc, closeAll, nil
}
