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
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/convodex"
	"github.com/poiesic/convodex/ai"
	"github.com/poiesic/convodex/chunker"
	"github.com/poiesic/convodex/index"
	"github.com/poiesic/convodex/ingest"
	"github.com/poiesic/convodex/store"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "convodex",
		Usage: "Index and search exported chat-history archives",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "storage",
				Aliases: []string{"s"},
				Usage:   "Storage directory for the ledger, lock, and local index",
				Value:   "./convodex_data",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Vector index collection name",
				Value: "conversations",
			},
			&cli.StringFlag{
				Name:  "index-url",
				Usage: "Qdrant server URL; empty uses the embedded local index",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Embedding provider (ollama, openai)",
				Value: convodex.ProviderOllama,
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
				Value: "http://localhost:11434",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
				Value: "mxbai-embed-large",
			},
			&cli.IntFlag{
				Name:  "dimension",
				Usage: "Embedding vector dimension",
				Value: 1024,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest every archive in a directory",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "archives",
						Aliases:  []string{"a"},
						Usage:    "Directory containing exported *.json archives",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and ingest archives as they appear",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of conversations per embedding sub-batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.Int64Flag{
						Name:  "split-threshold",
						Usage: "Archive size in bytes above which archives are split",
						Value: chunker.DefaultSplitThreshold,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search indexed conversations",
				Action:    searchCommand,
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
						Value:   10,
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum similarity score (0 disables)",
						Value: 0.5,
					},
					&cli.Float64Flag{
						Name:  "after",
						Usage: "Only conversations created at or after this Unix timestamp",
					},
					&cli.Float64Flag{
						Name:  "before",
						Usage: "Only conversations created at or before this Unix timestamp",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show collection statistics",
				Action: statsCommand,
			},
			{
				Name:      "split",
				Usage:     "Split an oversized archive into chunk files without indexing",
				Action:    splitCommand,
				ArgsUsage: "<archive.json>",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openArchive(ctx context.Context, c *cli.Context) (*convodex.Archive, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithModel(c.String("embedding-model")),
		ai.WithDimension(c.Int("dimension")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding configuration: %w", err)
	}

	opts := []convodex.Option{
		convodex.WithAIConfig(aiConfig),
		convodex.WithProvider(c.String("provider")),
		convodex.WithCollection(c.String("collection")),
	}
	if url := c.String("index-url"); url != "" {
		opts = append(opts, convodex.WithIndexURL(url))
	}
	if c.IsSet("batch-size") || c.IsSet("max-retries") || c.IsSet("retry-delay") {
		opts = append(opts, convodex.WithStoreOptions(
			store.WithBatchSize(c.Int("batch-size")),
			store.WithMaxRetries(c.Int("max-retries")),
			store.WithRetryDelay(c.Duration("retry-delay")),
		))
	}

	return convodex.Open(ctx, c.String("storage"), opts...)
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, err := openArchive(ctx, c)
	if err != nil {
		return err
	}
	defer archive.Close()

	driver, err := archive.NewDriver(
		ingest.WithArchiveDir(c.String("archives")),
		ingest.WithSplitThreshold(c.Int64("split-threshold")),
	)
	if err != nil {
		return err
	}

	summary, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Run %s: %d archives, %d chunks, %d indexed, %d already processed, %d failed\n",
		summary.RunID, summary.Archives, summary.Chunks,
		summary.Indexed, summary.AlreadyProcessed, summary.Failed)

	if c.Bool("watch") {
		fmt.Fprintln(os.Stderr, "Watching for new archives (Ctrl-C to stop)...")
		if err := driver.Watch(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("search query is required")
	}

	ctx := context.Background()
	archive, err := openArchive(ctx, c)
	if err != nil {
		return err
	}
	defer archive.Close()

	var timeRange *index.TimeRange
	if c.IsSet("after") || c.IsSet("before") {
		timeRange = &index.TimeRange{}
		if c.IsSet("after") {
			after := c.Float64("after")
			timeRange.Start = &after
		}
		if c.IsSet("before") {
			before := c.Float64("before")
			timeRange.End = &before
		}
	}

	matches, err := archive.FilterSearch(ctx, query,
		c.Int("limit"), float32(c.Float64("threshold")), timeRange)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, m := range matches {
		created := time.Unix(int64(m.Payload.CreateTime), 0).Format("2006-01-02")
		fmt.Printf("%2d. [%.3f] %s (%s, id=%s)\n",
			i+1, m.Score, m.Payload.Title, created, m.Payload.ID)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	ctx := context.Background()
	archive, err := openArchive(ctx, c)
	if err != nil {
		return err
	}
	defer archive.Close()

	stats, processed, err := archive.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Collection:  %s\n", c.String("collection"))
	fmt.Printf("Points:      %d\n", stats.PointCount)
	fmt.Printf("Indexed:     %d\n", stats.IndexedCount)
	fmt.Printf("Segments:    %d\n", stats.SegmentCount)
	fmt.Printf("Status:      %s\n", stats.Status)
	fmt.Printf("Processed:   %d conversations in ledger\n", processed)
	return nil
}

func splitCommand(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("exactly one archive path is required")
	}

	paths, err := chunker.Split(c.Args().First())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Wrote %d chunk files\n", len(paths))
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
